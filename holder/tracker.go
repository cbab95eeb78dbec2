package holder

import (
	"math"
	"time"
)

const (
	trackerWindow       = 100
	trackerAdmissions   = 50
	trackerMinRecords   = 10
	trackerStatsRecords = 30
	trackerIntervalTail = 10
	trackerMinIntervals = 4
)

// Stats summarizes recent controller behavior. Errors are absolute
// percentage-point distances from target.
type Stats struct {
	AvgError           float64 `json:"avg_error"`
	ErrorVolatility    float64 `json:"error_volatility"`
	BlockRate          float64 `json:"block_rate"`
	AdjustmentRate     float64 `json:"adjustment_rate"`
	IntervalVolatility float64 `json:"interval_volatility"`
}

type outcome struct {
	at      time.Time
	absErr  float64
	sizeMB  float64
	blocked bool
}

// PerformanceTracker keeps a bounded history of decision outcomes.
type PerformanceTracker struct {
	clock      Clock
	outcomes   []outcome
	admissions []time.Time
}

func NewPerformanceTracker(clock Clock) *PerformanceTracker {
	return &PerformanceTracker{clock: clock}
}

// Record appends one outcome. Non-blocked outcomes with a positive size also
// count as admissions for rhythm statistics.
func (t *PerformanceTracker) Record(absErr, sizeMB float64, blocked bool) {
	now := t.clock.Now()
	if sizeMB > 0 && !blocked {
		t.admissions = appendBounded(t.admissions, now, trackerAdmissions)
	}
	t.outcomes = appendBounded(t.outcomes, outcome{at: now, absErr: absErr, sizeMB: sizeMB, blocked: blocked}, trackerWindow)
}

// Len returns the number of retained outcomes.
func (t *PerformanceTracker) Len() int { return len(t.outcomes) }

// Stats computes statistics over the 30 most recent outcomes. It reports
// false until at least 10 outcomes have been recorded.
func (t *PerformanceTracker) Stats() (Stats, bool) {
	if len(t.outcomes) < trackerMinRecords {
		return Stats{}, false
	}
	recent := lastN(t.outcomes, trackerStatsRecords)

	errs := make([]float64, len(recent))
	var sum float64
	var blocked, unblocked int
	for i, o := range recent {
		errs[i] = o.absErr
		sum += o.absErr
		if o.blocked {
			blocked++
		} else {
			unblocked++
		}
	}
	n := float64(len(recent))
	span := recent[len(recent)-1].at.Sub(recent[0].at).Seconds()

	return Stats{
		AvgError:           sum / n,
		ErrorVolatility:    sampleStdDev(errs),
		BlockRate:          float64(blocked) / n,
		AdjustmentRate:     float64(unblocked) / math.Max(1, span/60),
		IntervalVolatility: t.intervalVolatility(),
	}, true
}

func (t *PerformanceTracker) intervalVolatility() float64 {
	times := lastN(t.admissions, trackerIntervalTail)
	if len(times) < 2 {
		return 0
	}
	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
	}
	if len(intervals) < trackerMinIntervals {
		return 0
	}
	return sampleStdDev(intervals)
}
