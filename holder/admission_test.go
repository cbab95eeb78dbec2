package holder

import (
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTotalMB = 16384

func newTestEngine() (*ResponseEngine, *ManualClock) {
	clock := NewManualClock(time.Unix(1_700_000_000, 0))
	return NewResponseEngine(DefaultEngineConfig(testTotalMB), clock), clock
}

func TestResponseEngine_Size_AlwaysWithinBand(t *testing.T) {
	// GIVEN arbitrary controller output, momentum and volatility
	e, _ := newTestEngine()
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 5000; i++ {
		errPct := (rng.Float64() - 0.5) * 60
		out := (rng.Float64() - 0.5) * 1000
		momentum := (rng.Float64() - 0.5) * 40
		volatility := rng.Float64() * 50

		got := e.Size(errPct, out, momentum, volatility)

		// THEN the size lies in the band selected by |error|
		lo, hi := SizeBand(errPct)
		if got < lo || got > hi {
			t.Fatalf("Size(%v, %v, %v, %v) = %v, want within [%v, %v]", errPct, out, momentum, volatility, got, lo, hi)
		}
	}
}

func TestSizeBand(t *testing.T) {
	tests := []struct {
		err    float64
		lo, hi float64
	}{
		{20, 1000, 10000},
		{-20, 1000, 10000},
		{15, 500, 5000},
		{8.5, 500, 5000},
		{8, 200, 2000},
		{-4, 200, 2000},
		{3, 50, 1000},
		{0, 50, 1000},
	}
	for _, tt := range tests {
		lo, hi := SizeBand(tt.err)
		assert.Equal(t, tt.lo, lo, "err=%v", tt.err)
		assert.Equal(t, tt.hi, hi, "err=%v", tt.err)
	}
}

func TestResponseEngine_Size_Factors(t *testing.T) {
	e, _ := newTestEngine()
	// error 3.5 makes the urgency ratio exactly 1; zero output, momentum and volatility leave factors at 1
	base := 3.5 * testTotalMB / 100 * 1.6

	t.Run("allocate", func(t *testing.T) {
		assert.InDelta(t, math.Min(2000, base), e.Size(-3.5, 0, 0, 0), 1e-9)
	})
	t.Run("release boosts urgency", func(t *testing.T) {
		assert.InDelta(t, math.Min(2000, base*1.3), e.Size(3.5, 0, 0, 0), 1e-9)
	})
	t.Run("aligned momentum", func(t *testing.T) {
		assert.InDelta(t, math.Min(2000, base*1.2), e.Size(-3.5, 0, -2, 0), 1e-9)
	})
	t.Run("opposing strong momentum", func(t *testing.T) {
		assert.InDelta(t, math.Min(2000, base*1.2), e.Size(-3.5, 0, 3, 0), 1e-9)
	})
	t.Run("opposing weak momentum", func(t *testing.T) {
		assert.InDelta(t, math.Min(2000, base), e.Size(-3.5, 0, 1, 0), 1e-9)
	})
	t.Run("volatility floor", func(t *testing.T) {
		assert.InDelta(t, math.Min(2000, base*0.8), e.Size(-3.5, 0, 0, 100), 1e-9)
	})
}

func TestResponseEngine_Admit_UrgentReleaseBypassesInterval(t *testing.T) {
	// GIVEN an engine that has just been created (no time elapsed)
	e, _ := newTestEngine()

	// WHEN a release with |error| > 8 is requested
	d := e.Admit(9, 800, 50)

	// THEN it is admitted immediately with the sentinel ratio
	assert.True(t, d.Admitted)
	assert.True(t, d.Release)
	assert.True(t, math.IsInf(d.Ratio, 1))
	assert.Zero(t, d.Threshold)
	assert.Zero(t, d.Cost)
	assert.True(t, strings.HasPrefix(d.Reason, ReasonUrgentRelease))

	// AND a second one right after is also admitted
	assert.True(t, e.Admit(12, 800, 50).Admitted)
}

func TestResponseEngine_Admit_IntervalProtection(t *testing.T) {
	tests := []struct {
		name    string
		err     float64
		minIntv float64
	}{
		{"allocate small error", -5, 3.5},
		{"release small error", 3, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine()
			d := e.Admit(tt.err, 500, 0)
			assert.False(t, d.Admitted)
			assert.Zero(t, d.Ratio)
			assert.Equal(t, tt.minIntv, d.Threshold)
			assert.True(t, math.IsInf(d.Cost, 1))
			assert.True(t, strings.HasPrefix(d.Reason, ReasonIntervalProtection))
		})
	}
}

func TestResponseEngine_Admit_LargeErrorSkipsProtection(t *testing.T) {
	// allocate with |error| >= 10 is not interval-protected
	e, _ := newTestEngine()
	d := e.Admit(-12, 2000, 0)
	assert.True(t, strings.HasPrefix(d.Reason, ReasonCostBenefit))
}

func TestResponseEngine_Admit_CostBenefit(t *testing.T) {
	// GIVEN ten quiet seconds
	e, clock := newTestEngine()
	clock.AdvanceSeconds(10)

	// WHEN a modest allocation is requested
	d := e.Admit(-5, 500, 0)

	// THEN benefit and cost follow the allocate formulas
	require.True(t, d.Admitted)
	assert.False(t, d.Release)
	assert.InDelta(t, 500.0/500+5.0/3, d.Benefit, 1e-12)
	assert.InDelta(t, math.Exp(-10/0.8)*2.5, d.Cost, 1e-12)
	assert.InDelta(t, d.Benefit/0.1, d.Ratio, 1e-9)
	assert.Equal(t, 1.3, d.Threshold)
}

func TestResponseEngine_Admit_LargeAdjustmentLengthensInterval(t *testing.T) {
	e, clock := newTestEngine()
	clock.AdvanceSeconds(10)
	require.True(t, e.Admit(-12, 3500, 0).Admitted)

	clock.AdvanceSeconds(5)
	d := e.Admit(-5, 500, 0)

	assert.False(t, d.Admitted)
	assert.Equal(t, 6.0, d.Threshold, "interval after a >3000 MB adjustment")
}

func TestResponseEngine_Admit_ReversalDiscount(t *testing.T) {
	// GIVEN a 1000 MB allocation two seconds ago
	e, clock := newTestEngine()
	clock.AdvanceSeconds(10)
	require.True(t, e.Admit(-12, 1000, 0).Admitted)
	clock.AdvanceSeconds(2)

	// WHEN the direction reverses into a release
	d := e.Admit(4, 200, 0)

	// THEN frequency and recent-size costs are both cut to 30%
	wantCost := math.Exp(-2/0.3)*0.3 + 1.0*0.3
	assert.InDelta(t, wantCost, d.Cost, 1e-12)
	assert.InDelta(t, 200.0/500+4.0/3, d.Benefit, 1e-12)
	assert.Equal(t, 1.2, d.Threshold)
	assert.True(t, d.Admitted)
}

func TestResponseEngine_Admit_RejectionKeepsState(t *testing.T) {
	e, clock := newTestEngine()
	clock.AdvanceSeconds(4)
	// a tiny allocation with high volatility is not worth it
	d := e.Admit(-1, 50, 40)
	require.False(t, d.Admitted)

	clock.AdvanceSeconds(0.5)
	// elapsed is still measured from construction, so no interval protection
	d = e.Admit(-5, 500, 0)
	assert.True(t, strings.HasPrefix(d.Reason, ReasonCostBenefit))
}

func TestAdmissionThreshold(t *testing.T) {
	tests := []struct {
		name    string
		release bool
		absErr  float64
		elapsed float64
		want    float64
	}{
		{"release urgent", true, 7, 0, 0.5},
		{"release recent", true, 4, 2, 1.2},
		{"release settled", true, 4, 3, 0.8},
		{"allocate urgent", false, 11, 0, 0.8},
		{"allocate recent", false, 4, 5, 2.0},
		{"allocate settled", false, 4, 6, 1.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minInterval := 3.5
			if tt.release {
				minInterval = 1.5
			}
			assert.Equal(t, tt.want, admissionThreshold(tt.release, tt.absErr, tt.elapsed, minInterval))
		})
	}
}

func TestResponseEngine_SetConfig(t *testing.T) {
	e, _ := newTestEngine()
	cfg := e.Config()
	cfg.ResponseBase = 2.0
	e.SetConfig(cfg)
	assert.Equal(t, 2.0, e.Config().ResponseBase)
}
