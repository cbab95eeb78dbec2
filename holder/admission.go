package holder

import (
	"fmt"
	"math"
	"time"
)

// EngineConfig holds the sizing and admission tunables of a ResponseEngine.
type EngineConfig struct {
	TotalMemoryMB float64

	ResponseBase     float64
	ResponseCurve    float64
	UrgencyThreshold float64

	CostDecayRelease  float64
	CostDecayAllocate float64

	MinIntervalRelease       float64
	MinIntervalAllocate      float64
	LargeMinIntervalRelease  float64
	LargeMinIntervalAllocate float64
	LargeAdjustmentMB        float64
}

// DefaultEngineConfig returns the built-in tunables for a host with totalMB of memory.
func DefaultEngineConfig(totalMB float64) EngineConfig {
	return EngineConfig{
		TotalMemoryMB:            totalMB,
		ResponseBase:             1.6,
		ResponseCurve:            1.7,
		UrgencyThreshold:         3.5,
		CostDecayRelease:         0.3,
		CostDecayAllocate:        0.8,
		MinIntervalRelease:       1.5,
		MinIntervalAllocate:      3.5,
		LargeMinIntervalRelease:  2.5,
		LargeMinIntervalAllocate: 6.0,
		LargeAdjustmentMB:        3000,
	}
}

const (
	urgentReleaseError      = 8.0
	releaseProtectionError  = 6.0
	allocateProtectionError = 10.0
	allocateCostMultiplier  = 2.5
)

// Decision is the outcome of one admission check.
type Decision struct {
	Admitted  bool
	Release   bool
	Ratio     float64
	Threshold float64
	Benefit   float64
	Cost      float64
	Reason    string
}

// Reason prefixes, used by the decision trace to group outcomes.
const (
	ReasonUrgentRelease      = "urgent release"
	ReasonIntervalProtection = "interval protection"
	ReasonCostBenefit        = "cost-benefit"
)

// ResponseEngine sizes corrections and gates them with a benefit/cost test.
// Its error argument follows the loop convention: positive means the host is
// above target and memory should be released.
type ResponseEngine struct {
	cfg   EngineConfig
	clock Clock

	lastAdmitted   time.Time
	lastSizeMB     float64
	lastWasRelease bool
}

// NewResponseEngine creates an engine whose interval timer starts at clock.Now().
func NewResponseEngine(cfg EngineConfig, clock Clock) *ResponseEngine {
	return &ResponseEngine{cfg: cfg, clock: clock, lastAdmitted: clock.Now()}
}

// Config returns a copy of the current tunables.
func (e *ResponseEngine) Config() EngineConfig { return e.cfg }

// SetConfig replaces the tunables, leaving the admission history intact.
func (e *ResponseEngine) SetConfig(cfg EngineConfig) { e.cfg = cfg }

// Size converts an error (percentage points, loop convention) into a
// correction in megabytes. The result always lies in the band selected by |error|.
func (e *ResponseEngine) Size(err, controllerOutput, momentum, volatility float64) float64 {
	absErr := math.Abs(err)
	baseMB := absErr * e.cfg.TotalMemoryMB / 100

	urgency := clamp(math.Pow(absErr/e.cfg.UrgencyThreshold, e.cfg.ResponseCurve), 0.3, 3.0)
	if err > 0 {
		urgency *= 1.3
	}

	pidFactor := clamp(1+controllerOutput/50, 0.5, 2.0)

	momentumFactor := 1.0
	switch {
	case err*momentum > 0:
		momentumFactor = math.Min(1.5, 1+math.Abs(momentum)/10)
	case err*momentum < 0 && math.Abs(momentum) > 2:
		momentumFactor = 1.2
	}

	volatilityFactor := clamp(1/(1+volatility/15), 0.8, 1.0)

	sizeMB := baseMB * e.cfg.ResponseBase * urgency * pidFactor * momentumFactor * volatilityFactor
	lo, hi := SizeBand(err)
	return clamp(sizeMB, lo, hi)
}

// SizeBand returns the [min, max] megabyte band for a given error magnitude.
func SizeBand(err float64) (lo, hi float64) {
	switch absErr := math.Abs(err); {
	case absErr > 15:
		return 1000, 10000
	case absErr > 8:
		return 500, 5000
	case absErr > 3:
		return 200, 2000
	default:
		return 50, 1000
	}
}

// Admit decides whether a correction of sizeMB should run now. Admitted
// decisions update the engine's last-adjustment time, size and direction.
func (e *ResponseEngine) Admit(err, sizeMB, volatility float64) Decision {
	now := e.clock.Now()
	elapsed := now.Sub(e.lastAdmitted).Seconds()
	absErr := math.Abs(err)
	release := err > 0

	if release && absErr > urgentReleaseError {
		e.record(now, sizeMB, true)
		return Decision{
			Admitted:  true,
			Release:   true,
			Ratio:     math.Inf(1),
			Threshold: 0,
			Benefit:   math.Inf(1),
			Cost:      0,
			Reason:    fmt.Sprintf("%s: error %.1f%%", ReasonUrgentRelease, err),
		}
	}

	minInterval := e.minInterval(release)
	if elapsed < minInterval {
		protection := allocateProtectionError
		if release {
			protection = releaseProtectionError
		}
		if absErr < protection {
			return Decision{
				Release:   release,
				Ratio:     0,
				Threshold: minInterval,
				Cost:      math.Inf(1),
				Reason:    fmt.Sprintf("%s: %.1fs < %.1fs", ReasonIntervalProtection, elapsed, minInterval),
			}
		}
	}

	var urgencyBonus, costDecay, multiplier float64
	if release {
		urgencyBonus = math.Max(0, (absErr-5)*3)
		costDecay, multiplier = e.cfg.CostDecayRelease, 1.0
	} else {
		urgencyBonus = math.Max(0, absErr-10)
		costDecay, multiplier = e.cfg.CostDecayAllocate, allocateCostMultiplier
	}
	benefit := sizeMB/500 + absErr/3 + urgencyBonus

	frequencyCost := math.Exp(-elapsed/costDecay) * multiplier
	volatilityCost := volatility / 8
	recentCost := e.lastSizeMB / 1000
	if release != e.lastWasRelease {
		discount := 0.6
		if release {
			discount = 0.3
		}
		frequencyCost *= discount
		recentCost *= discount
	}
	cost := frequencyCost + volatilityCost + recentCost
	ratio := benefit / math.Max(0.1, cost)

	threshold := admissionThreshold(release, absErr, elapsed, minInterval)
	admitted := ratio > threshold
	if admitted {
		e.record(now, sizeMB, release)
	}

	direction := "allocate"
	if release {
		direction = "release"
	}
	return Decision{
		Admitted:  admitted,
		Release:   release,
		Ratio:     ratio,
		Threshold: threshold,
		Benefit:   benefit,
		Cost:      cost,
		Reason:    fmt.Sprintf("%s %s: %.1f/%.1f=%.1f vs %.1f", ReasonCostBenefit, direction, benefit, cost, ratio, threshold),
	}
}

func (e *ResponseEngine) minInterval(release bool) float64 {
	large := e.lastSizeMB > e.cfg.LargeAdjustmentMB
	switch {
	case release && large:
		return e.cfg.LargeMinIntervalRelease
	case release:
		return e.cfg.MinIntervalRelease
	case large:
		return e.cfg.LargeMinIntervalAllocate
	default:
		return e.cfg.MinIntervalAllocate
	}
}

func admissionThreshold(release bool, absErr, elapsed, minInterval float64) float64 {
	recent := elapsed < 1.5*minInterval
	if release {
		switch {
		case absErr > releaseProtectionError:
			return 0.5
		case recent:
			return 1.2
		default:
			return 0.8
		}
	}
	switch {
	case absErr > allocateProtectionError:
		return 0.8
	case recent:
		return 2.0
	default:
		return 1.3
	}
}

func (e *ResponseEngine) record(now time.Time, sizeMB float64, release bool) {
	e.lastAdmitted = now
	e.lastSizeMB = sizeMB
	e.lastWasRelease = release
}
