package holder

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Scenario is a coarse classification of recent operating conditions.
type Scenario string

const (
	ScenarioOptimal     Scenario = "optimal"
	ScenarioNormal      Scenario = "normal"
	ScenarioConstrained Scenario = "constrained"
	ScenarioVolatile    Scenario = "volatile"
	ScenarioMismatch    Scenario = "mismatch"
)

// Scenarios lists every scenario in a fixed order.
var Scenarios = []Scenario{ScenarioOptimal, ScenarioNormal, ScenarioConstrained, ScenarioVolatile, ScenarioMismatch}

// ClassifyScenario maps statistics to a scenario. Checks run in priority
// order: constrained, volatile, mismatch, optimal, then normal.
func ClassifyScenario(s Stats) Scenario {
	switch {
	case s.BlockRate > 0.8:
		return ScenarioConstrained
	case s.ErrorVolatility > 3.0:
		return ScenarioVolatile
	case s.AvgError > 10:
		return ScenarioMismatch
	case s.AvgError < 2 && s.ErrorVolatility < 1.0 && s.BlockRate >= 0.15 && s.BlockRate <= 0.3:
		return ScenarioOptimal
	default:
		return ScenarioNormal
	}
}

type scoreWeights struct {
	error, stability, block, rhythm float64
}

var scenarioWeights = map[Scenario]scoreWeights{
	ScenarioConstrained: {0.20, 0.25, 0.40, 0.15},
	ScenarioVolatile:    {0.25, 0.45, 0.15, 0.15},
	ScenarioMismatch:    {0.50, 0.20, 0.15, 0.15},
	ScenarioOptimal:     {0.30, 0.35, 0.20, 0.15},
	ScenarioNormal:      {0.35, 0.30, 0.20, 0.15},
}

// compositeWeights blend per-scenario bests into the single best score.
var compositeWeights = map[Scenario]float64{
	ScenarioOptimal:     0.30,
	ScenarioNormal:      0.35,
	ScenarioConstrained: 0.15,
	ScenarioVolatile:    0.15,
	ScenarioMismatch:    0.05,
}

// SubScores are the four components of a performance score, each in [0, 100].
type SubScores struct {
	Error     float64
	Stability float64
	Block     float64
	Rhythm    float64
}

// ScoreComponents computes the sub-scores for s under scenario.
func ScoreComponents(s Stats, scenario Scenario) SubScores {
	var sub SubScores
	sub.Error = math.Max(0, 100-s.AvgError*20)

	switch v := s.ErrorVolatility; {
	case v < 0.5:
		sub.Stability = 100
	case v < 1.0:
		sub.Stability = 90
	case v < 2.0:
		sub.Stability = 70
	default:
		sub.Stability = math.Max(0, 100-v*20)
	}

	br := s.BlockRate
	if scenario == ScenarioConstrained {
		switch {
		case br > 0.9:
			sub.Block = 100
		case br > 0.7:
			sub.Block = 90
		case br > 0.5:
			sub.Block = 70
		default:
			sub.Block = 40
		}
	} else {
		switch {
		case br >= 0.15 && br <= 0.3:
			sub.Block = 100
		case br < 0.15:
			sub.Block = 70
		case br < 0.5:
			sub.Block = math.Max(0, 100-(br-0.3)*150)
		default:
			sub.Block = 20
		}
	}

	switch v := s.IntervalVolatility; {
	case v < 1.0:
		sub.Rhythm = 100
	case v < 2.0:
		sub.Rhythm = 80
	case v < 3.0:
		sub.Rhythm = 60
	default:
		sub.Rhythm = math.Max(0, 100-v*10)
	}
	return sub
}

// Score rates s on a 0-100 scale using the weights of its scenario.
func Score(s Stats) (float64, Scenario) {
	scenario := ClassifyScenario(s)
	sub := ScoreComponents(s, scenario)
	w := scenarioWeights[scenario]
	return sub.Error*w.error + sub.Stability*w.stability + sub.Block*w.block + sub.Rhythm*w.rhythm, scenario
}

// CompositeScore is the weighted sum of per-scenario best scores.
func CompositeScore(best map[Scenario]float64) float64 {
	var total float64
	for _, s := range Scenarios {
		total += best[s] * compositeWeights[s]
	}
	return total
}

// OptimizerConfig controls exploration.
type OptimizerConfig struct {
	ExplorationRate   float64       // probability of starting an exploration per settled call
	ExplorationWindow time.Duration // trial length before an exploration is judged
	RollbackMargin    float64       // score drop beyond which an exploration is rolled back
	MaxFailures       int           // consecutive rollbacks that pause exploration
}

func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		ExplorationRate:   0.08,
		ExplorationWindow: 60 * time.Second,
		RollbackMargin:    3,
		MaxFailures:       3,
	}
}

// snapshotKeys are restored when an exploration is rolled back.
var snapshotKeys = []string{
	KeyResponseBase,
	KeyResponseCurve,
	KeyUrgencyThreshold,
	KeyCostDecayRelease,
	KeyCostDecayAllocate,
}

type paramRange struct{ min, max float64 }

var paramRanges = map[string]paramRange{
	KeyResponseBase:        {1.0, 2.5},
	KeyResponseCurve:       {1.3, 2.5},
	KeyUrgencyThreshold:    {2.0, 5.0},
	KeyCostDecayRelease:    {0.2, 0.5},
	KeyCostDecayAllocate:   {0.5, 1.2},
	KeyMinIntervalRelease:  {1.0, 3.0},
	KeyMinIntervalAllocate: {2.5, 5.0},
}

var defaultParamRange = paramRange{0.1, 10}

// OptimizerEvent names what a MaybeOptimize call did.
type OptimizerEvent string

const (
	EventNone            OptimizerEvent = "none"
	EventImproved        OptimizerEvent = "improved"
	EventPaused          OptimizerEvent = "paused"
	EventExploreStarted  OptimizerEvent = "explore_started"
	EventExploring       OptimizerEvent = "exploring"
	EventExploreAccepted OptimizerEvent = "explore_accepted"
	EventRolledBack      OptimizerEvent = "rolled_back"
)

// OptimizeResult reports the outcome of one MaybeOptimize call.
type OptimizeResult struct {
	Event            OptimizerEvent
	Updated          bool // the optimizer improved or accepted a change
	TunablesChanged  bool // Params() differs in a tunable from before the call
	Score            float64
	Scenario         Scenario
	ScenarioImproved bool
	ReferenceScore   float64
	Key              string  // tunable perturbed by an exploration
	From, To         float64 // its value before and after
}

func (r OptimizeResult) String() string {
	switch r.Event {
	case EventImproved:
		s := fmt.Sprintf("improved: scenario %s score %.1f", r.Scenario, r.Score)
		if r.ScenarioImproved {
			s += " (scenario best)"
		}
		return s
	case EventExploreStarted:
		return fmt.Sprintf("exploring %s: %.3f -> %.3f (reference %.1f)", r.Key, r.From, r.To, r.ReferenceScore)
	case EventExploreAccepted:
		return fmt.Sprintf("exploration accepted (%.1f -> %.1f)", r.ReferenceScore, r.Score)
	case EventRolledBack:
		return fmt.Sprintf("rolled back (score %.1f < %.1f)", r.Score, r.ReferenceScore)
	default:
		return string(r.Event)
	}
}

// optimizerState is either settled or exploring.
type optimizerState interface {
	isOptimizerState()
}

type settled struct{}

type exploring struct {
	snapshot       map[string]float64
	referenceScore float64
	startedAt      time.Time
}

func (settled) isOptimizerState()   {}
func (exploring) isOptimizerState() {}

// ParameterOptimizer tunes the response engine online. It scores recent
// statistics, keeps per-scenario bests and occasionally perturbs one tunable,
// rolling it back if the score regresses over the trial window.
type ParameterOptimizer struct {
	cfg   OptimizerConfig
	clock Clock
	rng   *rand.Rand
	store *ParamStore

	params   Params
	state    optimizerState
	failures int
}

// NewParameterOptimizer creates a settled optimizer over params. store may be
// nil, in which case nothing is persisted.
func NewParameterOptimizer(cfg OptimizerConfig, params Params, store *ParamStore, clock Clock, rng *rand.Rand) *ParameterOptimizer {
	return &ParameterOptimizer{
		cfg:    cfg,
		clock:  clock,
		rng:    rng,
		store:  store,
		params: params.Clone(),
		state:  settled{},
	}
}

// Params returns a copy of the current parameters.
func (o *ParameterOptimizer) Params() Params { return o.params.Clone() }

// Exploring reports whether an exploration trial is in progress.
func (o *ParameterOptimizer) Exploring() bool {
	_, ok := o.state.(exploring)
	return ok
}

func (o *ParameterOptimizer) ConsecutiveFailures() int { return o.failures }

// AddRuntime accumulates process runtime into the persisted counter.
func (o *ParameterOptimizer) AddRuntime(d time.Duration) {
	o.params.TotalRuntimeHours += d.Hours()
}

// Save persists the current parameters through the store.
func (o *ParameterOptimizer) Save(force bool) (bool, error) {
	if o.store == nil {
		return false, nil
	}
	return o.store.Save(o.params, force)
}

// MaybeOptimize runs one optimization step. The returned error is only ever
// a persistence failure; the in-memory result is valid regardless.
func (o *ParameterOptimizer) MaybeOptimize(stats Stats) (OptimizeResult, error) {
	score, scenario := Score(stats)
	res := OptimizeResult{Event: EventNone, Score: score, Scenario: scenario}

	if st, ok := o.state.(exploring); ok {
		res.ReferenceScore = st.referenceScore
		if o.clock.Now().Sub(st.startedAt) <= o.cfg.ExplorationWindow {
			res.Event = EventExploring
			return res, nil
		}
		o.state = settled{}
		if score < st.referenceScore-o.cfg.RollbackMargin {
			for k, v := range st.snapshot {
				o.params.Set(k, v)
			}
			o.failures++
			res.Event = EventRolledBack
			res.TunablesChanged = true
			return res, nil
		}
		o.failures = 0
		res.Event = EventExploreAccepted
		res.Updated = true
		return res, nil
	}

	if score > o.params.BestScoresByScenario[scenario] {
		o.params.BestScoresByScenario[scenario] = score
		res.ScenarioImproved = true
	}

	if composite := CompositeScore(o.params.BestScoresByScenario); composite > o.params.BestScore {
		o.params.BestScore = composite
		o.params.OptimizationCount++
		o.failures = 0
		res.Event = EventImproved
		res.Updated = true
		_, err := o.Save(true)
		return res, err
	}

	if o.failures >= o.cfg.MaxFailures {
		res.Event = EventPaused
		return res, nil
	}

	if o.rng.Float64() < o.cfg.ExplorationRate {
		o.explore(stats, score, &res)
	}
	return res, nil
}

func (o *ParameterOptimizer) explore(stats Stats, score float64, res *OptimizeResult) {
	snapshot := make(map[string]float64, len(snapshotKeys)+1)
	for _, k := range snapshotKeys {
		snapshot[k], _ = o.params.Get(k)
	}

	var key string
	var frac float64
	switch {
	case stats.AvgError > 3:
		key = o.pick(KeyResponseBase, KeyUrgencyThreshold)
		frac = o.uniform(0.05, 0.15)
	case stats.ErrorVolatility > 2:
		key = o.pick(KeyCostDecayRelease, KeyCostDecayAllocate)
		frac = o.uniform(0.05, 0.15)
	case stats.BlockRate < 0.1:
		key = o.pick(KeyCostDecayAllocate, KeyMinIntervalAllocate)
		frac = o.uniform(0.1, 0.2)
	default:
		key = o.pick(snapshotKeys...)
		frac = o.uniform(-0.08, 0.08)
	}

	current, _ := o.params.Get(key)
	if _, ok := snapshot[key]; !ok {
		snapshot[key] = current
	}
	r, ok := paramRanges[key]
	if !ok {
		r = defaultParamRange
	}
	next := clamp(current+frac*current, r.min, r.max)
	o.params.Set(key, next)

	o.state = exploring{snapshot: snapshot, referenceScore: score, startedAt: o.clock.Now()}

	res.Event = EventExploreStarted
	res.TunablesChanged = true
	res.ReferenceScore = score
	res.Key = key
	res.From = current
	res.To = next
}

func (o *ParameterOptimizer) pick(keys ...string) string {
	return keys[o.rng.Intn(len(keys))]
}

func (o *ParameterOptimizer) uniform(lo, hi float64) float64 {
	return lo + o.rng.Float64()*(hi-lo)
}
