package trace

import "strings"

// Summary aggregates the retained records of a Trace.
type Summary struct {
	TotalDecisions int
	Retained       int
	ByKind         map[Kind]int
	BlockReasons   map[string]int // reason prefix (text before ':') → count of blocked decisions
	AdmittedMB     int
	ReleasedMB     int
	OptimizerSteps map[string]int // event → count
}

// Summarize computes aggregate statistics from a Trace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(t *Trace) *Summary {
	s := &Summary{
		ByKind:         make(map[Kind]int),
		BlockReasons:   make(map[string]int),
		OptimizerSteps: make(map[string]int),
	}
	if t == nil {
		return s
	}
	decisions := t.Decisions()
	s.TotalDecisions = t.Total()
	s.Retained = len(decisions)
	for _, d := range decisions {
		s.ByKind[d.Kind]++
		switch d.Kind {
		case KindBlocked:
			s.BlockReasons[reasonPrefix(d.Reason)]++
		case KindAdmitted:
			if d.Release {
				s.ReleasedMB += d.AppliedMB
			} else {
				s.AdmittedMB += d.AppliedMB
			}
		}
	}
	for _, o := range t.OptimizerSteps() {
		s.OptimizerSteps[o.Event]++
	}
	return s
}

func reasonPrefix(reason string) string {
	if i := strings.IndexByte(reason, ':'); i >= 0 {
		return reason[:i]
	}
	return reason
}
