package holder

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inference-sim/nerdy-holder/holder/trace"
)

// Summary is the periodic report of loop state.
type Summary struct {
	Uptime       time.Duration
	System       float64
	Target       float64
	HeldMB       int
	Chunks       int
	Prediction   float64
	Momentum     float64
	Volatility   float64
	Stats        *Stats
	BestScore    float64
	Counters     Counters
	HistoryMean  float64
	HistoryMin   float64
	HistoryMax   float64
	ByKind       map[trace.Kind]int
	BlockReasons map[string]int
}

// Summary collects the current report.
func (l *ControlLoop) Summary() Summary {
	s := Summary{
		Uptime:       l.clock.Now().Sub(l.startedAt),
		System:       l.system,
		Target:       l.target,
		HeldMB:       l.pool.HeldMB(),
		Chunks:       l.pool.Count(),
		Prediction:   l.predictor.Predict(predictHorizon),
		Momentum:     l.predictor.Momentum(),
		Volatility:   l.volatility(),
		BestScore:    l.optimizer.Params().BestScore,
		Counters:     l.counters,
	}
	ts := trace.Summarize(l.trace)
	s.ByKind, s.BlockReasons = ts.ByKind, ts.BlockReasons
	if stats, ok := l.tracker.Stats(); ok {
		s.Stats = &stats
	}
	if len(l.history) > 0 {
		s.HistoryMean = stat.Mean(l.history, nil)
		s.HistoryMin = floats.Min(l.history)
		s.HistoryMax = floats.Max(l.history)
	}
	return s
}

func (l *ControlLoop) logSummary() {
	s := l.Summary()
	var b strings.Builder
	fmt.Fprintf(&b, "summary after %s\n", s.Uptime.Round(time.Second))
	fmt.Fprintf(&b, "  system %.1f%% | target %.1f%% | holding %d MB (%d chunks)\n", s.System, s.Target, s.HeldMB, s.Chunks)
	fmt.Fprintf(&b, "  predicted %.1f%% | momentum %+.1f | volatility %.2f%% | range %.1f-%.1f%% mean %.1f%%\n",
		s.Prediction, s.Momentum, s.Volatility, s.HistoryMin, s.HistoryMax, s.HistoryMean)
	if s.Stats != nil {
		fmt.Fprintf(&b, "  error %.2f%% | stability %.2f%% | block rate %.1f%% | best score %.1f\n",
			s.Stats.AvgError, s.Stats.ErrorVolatility, s.Stats.BlockRate*100, s.BestScore)
	}
	fmt.Fprintf(&b, "  decisions %d | adjustments %d | blocked %d | optimizations %d",
		s.Counters.Decisions, s.Counters.Adjustments, s.Counters.Blocked, s.Counters.Optimizations)
	b.WriteString("\n  outcomes:")
	for _, k := range trace.Kinds {
		fmt.Fprintf(&b, " %s=%d", k, s.ByKind[k])
	}
	if len(s.BlockReasons) > 0 {
		reasons := make([]string, 0, len(s.BlockReasons))
		for r := range s.BlockReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		b.WriteString("\n  blocked by:")
		for _, r := range reasons {
			fmt.Fprintf(&b, " %s=%d", r, s.BlockReasons[r])
		}
	}
	logrus.Info(b.String())
}
