package holder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/nerdy-holder/holder/memory"
	"github.com/inference-sim/nerdy-holder/holder/metrics"
	"github.com/inference-sim/nerdy-holder/holder/trace"
)

const (
	utilizationHistory   = 100
	volatilityWindow     = 20
	volatilityMinSamples = 10
	predictHorizon       = 5.0
	verboseBlockError    = 3.0
)

// Deps are the collaborators of a ControlLoop. Sampler and Allocator are
// required; the rest default when nil.
type Deps struct {
	Clock     Clock
	Sampler   memory.Sampler
	Allocator memory.Allocator
	Metrics   *metrics.Recorder
	Trace     *trace.Trace
}

// Counters are cumulative per-process decision counts.
type Counters struct {
	Decisions     int `json:"decisions"`
	Adjustments   int `json:"adjustments"`
	Blocked       int `json:"blocked"`
	Optimizations int `json:"optimizations"`
}

// Snapshot is a consistent copy of loop state for concurrent readers.
type Snapshot struct {
	RunID         string    `json:"run_id"`
	Time          time.Time `json:"time"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Target        float64   `json:"target"`
	SystemMemory  float64   `json:"system_memory"`
	TotalMB       float64   `json:"total_mb"`
	HeldMB        int       `json:"held_mb"`
	Chunks        int       `json:"chunks"`
	Momentum      float64   `json:"momentum"`
	Prediction    float64   `json:"prediction"`
	Volatility    float64   `json:"volatility"`
	Exploring     bool      `json:"exploring"`
	BestScore     float64   `json:"best_score"`
	Stats         *Stats    `json:"stats,omitempty"`
	Counters      Counters  `json:"counters"`
}

// ControlLoop runs the sample, control, admit, act cycle and owns every
// component and the chunk pool. It is the only writer of that state; other
// goroutines read it through Snapshot.
type ControlLoop struct {
	cfg     LoopConfig
	clock   Clock
	sampler memory.Sampler
	pool    *memory.Pool
	rng     *PartitionedRNG
	metrics *metrics.Recorder
	trace   *trace.Trace

	controller *Controller
	engine     *ResponseEngine
	predictor  *MomentumPredictor
	tracker    *PerformanceTracker
	optimizer  *ParameterOptimizer
	tolerance  float64

	target     float64
	totalMB    float64
	system     float64
	history    []float64
	counters   Counters
	startedAt  time.Time
	nextChange time.Time

	lastOptimize time.Time
	lastExport   time.Time
	lastSummary  time.Time

	mu       sync.RWMutex
	snapshot Snapshot

	shutdownOnce sync.Once
}

// NewControlLoop validates cfg, loads persisted parameters and takes a first
// host sample to learn total memory. A missing or unreadable parameter file
// is not an error; the defaults are used.
func NewControlLoop(cfg LoopConfig, deps Deps) (*ControlLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop config: %w", err)
	}
	if deps.Sampler == nil || deps.Allocator == nil {
		return nil, errors.New("control loop needs a sampler and an allocator")
	}
	clock := deps.Clock
	if clock == nil {
		clock = WallClock{}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	tr := deps.Trace
	if tr == nil {
		tr = trace.New(trace.Config{Capacity: cfg.TraceCapacity})
	}

	host, err := deps.Sampler.Sample()
	if err != nil {
		return nil, fmt.Errorf("initial host sample: %w", err)
	}

	var store *ParamStore
	params := DefaultParams()
	if cfg.ParamsFile != "" {
		store = NewParamStore(cfg.ParamsFile, clock)
		loaded, err := store.Load()
		if err != nil {
			logrus.Warnf("using default parameters: %v", err)
		}
		params = loaded
	}

	rng := NewPartitionedRNG(cfg.Seed)
	now := clock.Now()
	l := &ControlLoop{
		cfg:          cfg,
		clock:        clock,
		sampler:      deps.Sampler,
		pool:         memory.NewPool(deps.Allocator, clock.Now),
		rng:          rng,
		metrics:      deps.Metrics,
		trace:        tr,
		target:       cfg.InitialTarget(),
		totalMB:      host.TotalMB,
		system:       host.UsedPercent(),
		startedAt:    now,
		lastOptimize: now,
		lastExport:   now,
		lastSummary:  now,
	}
	l.controller = NewController(params.ControllerConfig(), l.target, clock)
	l.engine = NewResponseEngine(params.ApplyTo(DefaultEngineConfig(host.TotalMB)), clock)
	l.predictor = NewMomentumPredictor(params.EmaFast, params.EmaSlow)
	l.tracker = NewPerformanceTracker(clock)
	l.optimizer = NewParameterOptimizer(DefaultOptimizerConfig(), params, store, clock, rng.ForSubsystem(SubsystemOptimizer))
	l.tolerance = params.Tolerance
	l.scheduleTargetChange(now)
	l.publish()
	return l, nil
}

// RunID identifies this process in the status file, logs and metrics.
func (l *ControlLoop) RunID() string { return l.cfg.RunID }

// Target is the current utilization target.
func (l *ControlLoop) Target() float64 { return l.target }

// Trace returns the decision trace.
func (l *ControlLoop) Trace() *trace.Trace { return l.trace }

// Optimizer returns the parameter optimizer.
func (l *ControlLoop) Optimizer() *ParameterOptimizer { return l.optimizer }

// Counters returns the cumulative counts.
func (l *ControlLoop) Counters() Counters { return l.counters }

// HeldMB is the memory currently held.
func (l *ControlLoop) HeldMB() int { return l.pool.HeldMB() }

// Snapshot returns the state published at the end of the last cycle.
func (l *ControlLoop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.snapshot
	if s.Stats != nil {
		st := *s.Stats
		s.Stats = &st
	}
	return s
}

// Initialize fills the gap between current utilization and the target
// before the first cycle.
func (l *ControlLoop) Initialize() error {
	logrus.Infof("host memory %.1f GB, run %s", l.totalMB/1024, l.cfg.RunID)
	if l.cfg.Mode == TargetFixed {
		logrus.Infof("fixed target %.1f%%", l.target)
	} else {
		logrus.Infof("target %.1f%% (band %.1f-%.1f%%)", l.target, l.cfg.MinTarget, l.cfg.MaxTarget)
	}
	logrus.Infof("best score so far %.1f", l.optimizer.Params().BestScore)

	current, err := l.sample()
	if err != nil {
		return fmt.Errorf("initial sample: %w", err)
	}
	if need := l.target - current; need > 0 {
		needMB := int(need * l.totalMB / 100)
		logrus.Infof("initial fill: %d MB", needMB)
		got, err := l.pool.Allocate(needMB)
		if err != nil {
			logrus.Warnf("initial fill stopped early: %v", err)
		}
		l.countAdjusted(false, got)
		if after, err := l.sample(); err == nil {
			logrus.Infof("initial fill done: %.1f%% holding %d MB", after, l.pool.HeldMB())
		}
	} else {
		logrus.Infof("host already at %.1f%%, nothing to fill", current)
	}
	l.publish()
	return nil
}

// Run initializes, then cycles every cfg.Interval until ctx is cancelled,
// then shuts down.
func (l *ControlLoop) Run(ctx context.Context) error {
	if err := l.Initialize(); err != nil {
		return err
	}
	if l.cfg.ExportStatus {
		logrus.Infof("exporting status to %s", l.cfg.StatusFile)
	}
	defer l.Shutdown()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("stopping")
			return nil
		case <-timer.C:
		}
		l.Cycle()
		timer.Reset(l.cfg.Interval)
	}
}

// Cycle runs one decision and whichever periodic tasks are due, then
// publishes a new snapshot.
func (l *ControlLoop) Cycle() trace.DecisionRecord {
	start := time.Now()
	l.adjustTarget()
	rec := l.decide()
	l.trace.RecordDecision(rec)
	l.maybeOptimize()
	l.maybeExport()
	l.maybeSummarize()
	l.publish()
	if l.metrics != nil {
		l.metrics.Decision(string(rec.Kind))
		l.metrics.CycleDuration(time.Since(start))
	}
	return rec
}

// Shutdown releases every chunk, records runtime, forces a parameter save
// and logs a final summary. Safe to call more than once.
func (l *ControlLoop) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.optimizer.AddRuntime(l.clock.Now().Sub(l.startedAt))
		if _, err := l.optimizer.Save(true); err != nil {
			logrus.Warnf("saving parameters at shutdown: %v", err)
		}
		released := l.pool.ReleaseAll()
		l.countAdjusted(true, released)
		if _, err := l.sample(); err != nil {
			logrus.Warnf("sampling at shutdown: %v", err)
		}
		l.publish()
		l.logSummary()
		logrus.Infof("stopped, released %d MB", released)
	})
}

func (l *ControlLoop) sample() (float64, error) {
	host, err := l.sampler.Sample()
	if err != nil {
		return 0, err
	}
	pct := host.UsedPercent()
	l.totalMB = host.TotalMB
	l.system = pct
	l.history = appendBounded(l.history, pct, utilizationHistory)
	l.predictor.Update(pct)
	return pct, nil
}

// volatility is the population standard deviation of the last 20 samples,
// 0 until 10 samples exist.
func (l *ControlLoop) volatility() float64 {
	if len(l.history) < volatilityMinSamples {
		return 0
	}
	return populationStdDev(lastN(l.history, volatilityWindow))
}

func (l *ControlLoop) scheduleTargetChange(now time.Time) {
	lo := int(l.cfg.TargetChangeMin / time.Second)
	hi := int(l.cfg.TargetChangeMax / time.Second)
	secs := lo
	if hi > lo {
		secs += l.rng.ForSubsystem(SubsystemTarget).Intn(hi - lo + 1)
	}
	l.nextChange = now.Add(time.Duration(secs) * time.Second)
}

func (l *ControlLoop) adjustTarget() {
	if l.cfg.Mode == TargetFixed {
		return
	}
	now := l.clock.Now()
	if now.Before(l.nextChange) {
		return
	}
	old := l.target
	l.target = l.cfg.MinTarget + l.rng.ForSubsystem(SubsystemTarget).Float64()*(l.cfg.MaxTarget-l.cfg.MinTarget)
	l.scheduleTargetChange(now)
	l.controller.SetTarget(l.target)
	logrus.Infof("target %.1f%% -> %.1f%%", old, l.target)
}

// decide runs one control decision. The loop's error is current - target:
// positive means the host is above target and memory should be released.
func (l *ControlLoop) decide() trace.DecisionRecord {
	now := l.clock.Now()
	current, err := l.sample()
	if err != nil {
		logrus.Warnf("sampling host memory, skipping cycle: %v", err)
		return trace.DecisionRecord{Time: now, Kind: trace.KindSampleFailed, Reason: err.Error()}
	}
	l.counters.Decisions++

	e := current - l.target
	absErr := math.Abs(e)
	rec := trace.DecisionRecord{Time: now, Error: e, Release: e > 0}

	if absErr <= l.tolerance {
		l.tracker.Record(absErr, 0, false)
		rec.Kind = trace.KindWithinTolerance
		return rec
	}

	if e > 0 && l.pool.HeldMB() == 0 {
		l.counters.Blocked++
		l.tracker.Record(absErr, 0, true)
		rec.Kind = trace.KindInfeasible
		rec.Reason = "nothing held to release"
		return rec
	}

	volatility := l.volatility()
	out := l.controller.Compute(current)
	sizeMB := l.engine.Size(e, out.Output, l.predictor.Momentum(), volatility)
	d := l.engine.Admit(e, sizeMB, volatility)

	rec.SizeMB = sizeMB
	rec.Admitted = d.Admitted
	rec.Ratio = d.Ratio
	rec.Threshold = d.Threshold
	rec.Benefit = d.Benefit
	rec.Cost = d.Cost
	rec.Reason = d.Reason

	if !d.Admitted {
		l.counters.Blocked++
		l.tracker.Record(absErr, sizeMB, true)
		rec.Kind = trace.KindBlocked
		entry := logrus.WithFields(logrus.Fields{"error": fmt.Sprintf("%+.1f", e), "size_mb": int(sizeMB)})
		if absErr > verboseBlockError {
			entry.Infof("blocked: %s", d.Reason)
		} else {
			entry.Debugf("blocked: %s", d.Reason)
		}
		return rec
	}

	l.counters.Adjustments++
	l.tracker.Record(absErr, sizeMB, false)
	rec.Kind = trace.KindAdmitted

	if e < 0 {
		logrus.Infof("allocate %d MB (error %+.1f%%)", int(sizeMB), e)
		got, err := l.pool.Allocate(int(sizeMB))
		if err != nil {
			logrus.Warnf("allocation stopped early: %v", err)
		}
		rec.AppliedMB = got
	} else {
		size := min(int(sizeMB), l.pool.HeldMB())
		logrus.Infof("release %d MB (error %+.1f%%)", size, e)
		rec.AppliedMB = l.pool.Release(size)
	}
	l.countAdjusted(rec.Release, rec.AppliedMB)

	if after, err := l.sample(); err == nil {
		logrus.Infof("   %.1f%% -> %.1f%% | holding %d MB", current, after, l.pool.HeldMB())
	}
	return rec
}

func (l *ControlLoop) countAdjusted(release bool, mb int) {
	if l.metrics == nil {
		return
	}
	direction := "allocate"
	if release {
		direction = "release"
	}
	l.metrics.Adjusted(direction, mb)
}

func (l *ControlLoop) maybeOptimize() {
	now := l.clock.Now()
	if now.Sub(l.lastOptimize) < l.cfg.OptimizeEvery {
		return
	}
	l.lastOptimize = now

	if _, err := l.optimizer.Save(false); err != nil {
		logrus.Warnf("saving parameters: %v", err)
	}

	stats, ok := l.tracker.Stats()
	if !ok {
		return
	}
	res, err := l.optimizer.MaybeOptimize(stats)
	if err != nil {
		logrus.Warnf("saving improved parameters: %v", err)
	}

	switch res.Event {
	case EventNone, EventExploring, EventPaused:
	case EventImproved:
		l.counters.Optimizations++
		logrus.WithFields(logrus.Fields{
			"avg_error":  fmt.Sprintf("%.2f", stats.AvgError),
			"volatility": fmt.Sprintf("%.2f", stats.ErrorVolatility),
			"block_rate": fmt.Sprintf("%.1f%%", stats.BlockRate*100),
		}).Infof("optimizer %s", res)
	default:
		logrus.Infof("optimizer %s", res)
	}
	if res.Event != EventNone && res.Event != EventExploring {
		l.trace.RecordOptimizer(trace.OptimizerRecord{
			Time:     now,
			Event:    string(res.Event),
			Scenario: string(res.Scenario),
			Score:    res.Score,
			Detail:   res.String(),
		})
		if l.metrics != nil {
			l.metrics.OptimizerEvent(string(res.Event))
		}
	}
	if res.Updated || res.TunablesChanged {
		l.pushTunables()
	}
}

// pushTunables copies the optimizer's current parameters into the live components.
func (l *ControlLoop) pushTunables() {
	p := l.optimizer.Params()
	l.controller.SetGains(p.PidKp, p.PidKi, p.PidKd)
	l.engine.SetConfig(p.ApplyTo(l.engine.Config()))
	l.predictor.SetRates(p.EmaFast, p.EmaSlow)
	l.tolerance = p.Tolerance
}

func (l *ControlLoop) maybeExport() {
	if !l.cfg.ExportStatus {
		return
	}
	now := l.clock.Now()
	if now.Sub(l.lastExport) < l.cfg.ExportEvery {
		return
	}
	l.lastExport = now
	if err := WriteStatus(l.cfg.StatusFile, l.Status()); err != nil {
		logrus.Warnf("exporting status: %v", err)
	}
}

// Status builds the status document from current state.
func (l *ControlLoop) Status() Status {
	now := l.clock.Now()
	p := l.optimizer.Params()
	s := Status{
		Timestamp:     float64(now.UnixNano()) / 1e9,
		RunID:         l.cfg.RunID,
		CurrentTarget: l.target,
		SystemMemory:  l.system,
		HoldingMB:     l.pool.HeldMB(),
		ChunksCount:   l.pool.Count(),
		Params: StatusParams{
			PidKp:         p.PidKp,
			PidKi:         p.PidKi,
			PidKd:         p.PidKd,
			ResponseBase:  p.ResponseBase,
			ResponseCurve: p.ResponseCurve,
			Tolerance:     p.Tolerance,
		},
		Stats: StatusCounters{
			UptimeSeconds: now.Sub(l.startedAt).Seconds(),
			Decisions:     l.counters.Decisions,
			Adjustments:   l.counters.Adjustments,
			Blocked:       l.counters.Blocked,
			Optimizations: l.counters.Optimizations,
		},
		Performance: StatusPerformance{Score: p.BestScore},
	}
	if stats, ok := l.tracker.Stats(); ok {
		s.Performance.AvgError = stats.AvgError
		s.Performance.ErrorVolatility = stats.ErrorVolatility
		s.Performance.BlockRate = stats.BlockRate
	}
	return s
}

func (l *ControlLoop) maybeSummarize() {
	now := l.clock.Now()
	if now.Sub(l.lastSummary) < l.cfg.SummaryEvery {
		return
	}
	l.lastSummary = now
	l.logSummary()
}

func (l *ControlLoop) publish() {
	now := l.clock.Now()
	s := Snapshot{
		RunID:         l.cfg.RunID,
		Time:          now,
		UptimeSeconds: now.Sub(l.startedAt).Seconds(),
		Target:        l.target,
		SystemMemory:  l.system,
		TotalMB:       l.totalMB,
		HeldMB:        l.pool.HeldMB(),
		Chunks:        l.pool.Count(),
		Momentum:      l.predictor.Momentum(),
		Prediction:    l.predictor.Predict(predictHorizon),
		Volatility:    l.volatility(),
		Exploring:     l.optimizer.Exploring(),
		BestScore:     l.optimizer.Params().BestScore,
		Counters:      l.counters,
	}
	if stats, ok := l.tracker.Stats(); ok {
		s.Stats = &stats
	}

	l.mu.Lock()
	l.snapshot = s
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.SetGauges(metrics.Gauges{
			SystemMemory: s.SystemMemory,
			Target:       s.Target,
			HeldMB:       float64(s.HeldMB),
			Chunks:       s.Chunks,
			BestScore:    s.BestScore,
			Momentum:     s.Momentum,
			Volatility:   s.Volatility,
		})
	}
}
