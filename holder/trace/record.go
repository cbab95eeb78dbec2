// Package trace records per-cycle controller decisions for later analysis.
// This package has no dependencies on holder/ and stores pure data types.
package trace

import "time"

// Kind classifies how a cycle ended.
type Kind string

const (
	KindWithinTolerance Kind = "within_tolerance"
	KindInfeasible      Kind = "infeasible"
	KindBlocked         Kind = "blocked"
	KindAdmitted        Kind = "admitted"
	KindSampleFailed    Kind = "sample_failed"
)

// Kinds lists every Kind in a fixed order.
var Kinds = []Kind{KindWithinTolerance, KindInfeasible, KindBlocked, KindAdmitted, KindSampleFailed}

// DecisionRecord captures one decision cycle.
type DecisionRecord struct {
	Time      time.Time
	Kind      Kind
	Error     float64 // current - target, percentage points
	Release   bool
	SizeMB    float64
	Admitted  bool
	Ratio     float64
	Threshold float64
	Benefit   float64
	Cost      float64
	Reason    string
	AppliedMB int // megabytes actually allocated or released
}

// OptimizerRecord captures a non-trivial optimizer step.
type OptimizerRecord struct {
	Time     time.Time
	Event    string
	Scenario string
	Score    float64
	Detail   string
}
