package holder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// SaveInterval is the minimum spacing between unforced parameter saves.
const SaveInterval = 60 * time.Second

// Params is the persisted tunable set plus the optimizer's long-lived bookkeeping.
type Params struct {
	PidKp float64 `json:"pid_kp"`
	PidKi float64 `json:"pid_ki"`
	PidKd float64 `json:"pid_kd"`

	ResponseBase     float64 `json:"response_base"`
	ResponseCurve    float64 `json:"response_curve"`
	UrgencyThreshold float64 `json:"urgency_threshold"`

	CostDecayRelease    float64 `json:"cost_decay_release"`
	CostDecayAllocate   float64 `json:"cost_decay_allocate"`
	MinIntervalRelease  float64 `json:"min_interval_release"`
	MinIntervalAllocate float64 `json:"min_interval_allocate"`

	EmaFast float64 `json:"ema_fast"`
	EmaSlow float64 `json:"ema_slow"`

	Tolerance float64 `json:"tolerance"`

	BestScore            float64              `json:"best_score"`
	BestScoresByScenario map[Scenario]float64 `json:"best_scores_by_scenario"`
	TotalRuntimeHours    float64              `json:"total_runtime_hours"`
	OptimizationCount    int                  `json:"optimization_count"`
}

// DefaultParams returns the built-in tunables with zeroed scores and counters.
func DefaultParams() Params {
	best := make(map[Scenario]float64, len(Scenarios))
	for _, s := range Scenarios {
		best[s] = 0
	}
	return Params{
		PidKp:                2.2,
		PidKi:                0.25,
		PidKd:                0.6,
		ResponseBase:         1.6,
		ResponseCurve:        1.7,
		UrgencyThreshold:     3.5,
		CostDecayRelease:     0.3,
		CostDecayAllocate:    0.8,
		MinIntervalRelease:   1.5,
		MinIntervalAllocate:  3.5,
		EmaFast:              0.35,
		EmaSlow:              0.08,
		Tolerance:            0.8,
		BestScoresByScenario: best,
	}
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	out := p
	out.BestScoresByScenario = make(map[Scenario]float64, len(p.BestScoresByScenario))
	for k, v := range p.BestScoresByScenario {
		out.BestScoresByScenario[k] = v
	}
	return out
}

// ControllerConfig derives the controller configuration from p.
func (p Params) ControllerConfig() ControllerConfig {
	cfg := DefaultControllerConfig()
	cfg.Kp, cfg.Ki, cfg.Kd = p.PidKp, p.PidKi, p.PidKd
	return cfg
}

// ApplyTo copies the engine tunables in p onto cfg, keeping fields p does not carry.
func (p Params) ApplyTo(cfg EngineConfig) EngineConfig {
	cfg.ResponseBase = p.ResponseBase
	cfg.ResponseCurve = p.ResponseCurve
	cfg.UrgencyThreshold = p.UrgencyThreshold
	cfg.CostDecayRelease = p.CostDecayRelease
	cfg.CostDecayAllocate = p.CostDecayAllocate
	cfg.MinIntervalRelease = p.MinIntervalRelease
	cfg.MinIntervalAllocate = p.MinIntervalAllocate
	return cfg
}

// Tunable names as they appear in the persisted file.
const (
	KeyResponseBase        = "response_base"
	KeyResponseCurve       = "response_curve"
	KeyUrgencyThreshold    = "urgency_threshold"
	KeyCostDecayRelease    = "cost_decay_release"
	KeyCostDecayAllocate   = "cost_decay_allocate"
	KeyMinIntervalRelease  = "min_interval_release"
	KeyMinIntervalAllocate = "min_interval_allocate"
)

// field returns a pointer to the named engine tunable, or nil for unknown names.
func (p *Params) field(key string) *float64 {
	switch key {
	case KeyResponseBase:
		return &p.ResponseBase
	case KeyResponseCurve:
		return &p.ResponseCurve
	case KeyUrgencyThreshold:
		return &p.UrgencyThreshold
	case KeyCostDecayRelease:
		return &p.CostDecayRelease
	case KeyCostDecayAllocate:
		return &p.CostDecayAllocate
	case KeyMinIntervalRelease:
		return &p.MinIntervalRelease
	case KeyMinIntervalAllocate:
		return &p.MinIntervalAllocate
	}
	return nil
}

// Get returns the named tunable.
func (p Params) Get(key string) (float64, bool) {
	f := p.field(key)
	if f == nil {
		return 0, false
	}
	return *f, true
}

// Set assigns the named tunable and reports whether the name is known.
func (p *Params) Set(key string, v float64) bool {
	f := p.field(key)
	if f == nil {
		return false
	}
	*f = v
	return true
}

// ParamStore persists Params as JSON. Unforced saves are throttled to one
// per SaveInterval of the injected clock.
type ParamStore struct {
	path    string
	clock   Clock
	limiter *rate.Limiter
}

// NewParamStore creates a store for path. The throttle window starts now,
// so the first unforced save happens no earlier than SaveInterval from now.
func NewParamStore(path string, clock Clock) *ParamStore {
	s := &ParamStore{path: path, clock: clock}
	s.resetThrottle(clock.Now())
	return s
}

func (s *ParamStore) Path() string { return s.path }

func (s *ParamStore) resetThrottle(now time.Time) {
	s.limiter = rate.NewLimiter(rate.Every(SaveInterval), 1)
	s.limiter.AllowN(now, 1)
}

// Load merges the file over DefaultParams. A missing file yields the
// defaults and no error; an unreadable or corrupt file yields the defaults
// and an error describing the failure.
func (s *ParamStore) Load() (Params, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultParams(), nil
	}
	if err != nil {
		return DefaultParams(), fmt.Errorf("reading params %s: %w", s.path, err)
	}
	p := DefaultParams()
	if err := json.Unmarshal(data, &p); err != nil {
		return DefaultParams(), fmt.Errorf("parsing params %s: %w", s.path, err)
	}
	if p.BestScoresByScenario == nil {
		p.BestScoresByScenario = DefaultParams().BestScoresByScenario
	}
	return p, nil
}

// Save writes p unless an unforced save is throttled. It reports whether the
// file was written.
func (s *ParamStore) Save(p Params, force bool) (bool, error) {
	now := s.clock.Now()
	if !force && !s.limiter.AllowN(now, 1) {
		return false, nil
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encoding params: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return false, fmt.Errorf("writing params %s: %w", s.path, err)
	}
	if force {
		s.resetThrottle(now)
	}
	return true, nil
}
