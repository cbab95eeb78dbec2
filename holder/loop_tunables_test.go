package holder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/nerdy-holder/holder/internal/testutil"
)

func newTunablesLoop(t *testing.T) (*ControlLoop, *ManualClock) {
	t.Helper()
	cfg := DefaultLoopConfig()
	cfg.SetFixedTarget(30)
	cfg.ExportStatus = false
	cfg.ParamsFile = filepath.Join(t.TempDir(), "params.json")
	cfg.Seed = 1
	cfg.RunID = "tunables"
	host := testutil.NewSimHost(16000, 20)
	clock := NewManualClock(time.Unix(1_700_000_000, 0))
	l, err := NewControlLoop(cfg, Deps{Clock: clock, Sampler: host, Allocator: host})
	require.NoError(t, err)
	l.optimizer.cfg.ExplorationRate = 1
	return l, clock
}

func recordOutcomes(l *ControlLoop, absErr float64, n int) {
	for i := 0; i < n; i++ {
		l.tracker.Record(absErr, 0, false)
	}
}

func TestControlLoop_ExplorationReachesEngine(t *testing.T) {
	// GIVEN a loop whose first optimizer step records a best score of 66
	l, clock := newTunablesLoop(t)
	recordOutcomes(l, 4, 10)
	clock.AdvanceSeconds(30)
	l.maybeOptimize()
	require.Equal(t, 1, l.counters.Optimizations)
	before := l.engine.Config()

	// WHEN the next step starts an exploration
	clock.AdvanceSeconds(30)
	l.maybeOptimize()
	require.True(t, l.optimizer.Exploring())

	// THEN the perturbed tunable is live in the engine
	p := l.optimizer.Params()
	assert.NotEqual(t, before, l.engine.Config())
	assert.Equal(t, p.ApplyTo(before), l.engine.Config())
	changed := p.ResponseBase != before.ResponseBase || p.UrgencyThreshold != before.UrgencyThreshold
	assert.True(t, changed, "error-driven exploration moves response_base or urgency_threshold")
}

func TestControlLoop_RollbackReachesEngine(t *testing.T) {
	// GIVEN an exploration started at score 66
	l, clock := newTunablesLoop(t)
	recordOutcomes(l, 4, 10)
	clock.AdvanceSeconds(30)
	l.maybeOptimize()
	before := l.engine.Config()
	clock.AdvanceSeconds(30)
	l.maybeOptimize()
	require.True(t, l.optimizer.Exploring())
	require.NotEqual(t, before, l.engine.Config())

	// WHEN the trial ends with the score down to 59
	recordOutcomes(l, 8, 30)
	clock.AdvanceSeconds(61)
	l.maybeOptimize()

	// THEN the pre-exploration tunables are pushed back
	assert.False(t, l.optimizer.Exploring())
	assert.Equal(t, 1, l.optimizer.ConsecutiveFailures())
	assert.Equal(t, before, l.engine.Config())
	assert.Equal(t, l.optimizer.Params().ApplyTo(before), l.engine.Config())
}
