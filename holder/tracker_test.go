package holder

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() (*PerformanceTracker, *ManualClock) {
	clock := NewManualClock(time.Unix(1_700_000_000, 0))
	return NewPerformanceTracker(clock), clock
}

func TestPerformanceTracker_UnavailableBelowTenRecords(t *testing.T) {
	tr, clock := newTestTracker()
	for i := 0; i < 9; i++ {
		tr.Record(1, 100, false)
		clock.AdvanceSeconds(3)
	}
	_, ok := tr.Stats()
	assert.False(t, ok)

	tr.Record(1, 100, false)
	s, ok := tr.Stats()
	require.True(t, ok)
	assert.Equal(t, 1.0, s.AvgError)
	assert.Zero(t, s.ErrorVolatility)
}

func TestPerformanceTracker_UsesMostRecentThirty(t *testing.T) {
	// GIVEN 30 large-error records followed by 30 small-error ones
	tr, clock := newTestTracker()
	for i := 0; i < 30; i++ {
		tr.Record(10, 0, true)
		clock.AdvanceSeconds(3)
	}
	for i := 0; i < 30; i++ {
		tr.Record(1, 0, false)
		clock.AdvanceSeconds(3)
	}

	// THEN only the small ones count
	s, ok := tr.Stats()
	require.True(t, ok)
	assert.Equal(t, 1.0, s.AvgError)
	assert.Zero(t, s.BlockRate)
}

func TestPerformanceTracker_ErrorVolatilityAndBlockRate(t *testing.T) {
	tr, clock := newTestTracker()
	errs := []float64{1, 2, 3, 4, 5, 1, 2, 3, 4, 5}
	for i, e := range errs {
		tr.Record(e, 200, i%5 == 0)
		clock.AdvanceSeconds(1)
	}
	s, ok := tr.Stats()
	require.True(t, ok)
	assert.Equal(t, 3.0, s.AvgError)
	// sample variance of 1..5 twice is 20/9
	assert.InDelta(t, math.Sqrt(20.0/9), s.ErrorVolatility, 1e-9)
	assert.InDelta(t, 0.2, s.BlockRate, 1e-12)
}

func TestPerformanceTracker_AdjustmentRate(t *testing.T) {
	tests := []struct {
		name string
		gap  float64
		want float64
	}{
		// 9 gaps of 3s is under a minute, so the denominator floors at 1
		{"short window", 3, 10},
		// 9 gaps of 20s is three minutes
		{"three minutes", 20, 10.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, clock := newTestTracker()
			for i := 0; i < 10; i++ {
				if i > 0 {
					clock.AdvanceSeconds(tt.gap)
				}
				tr.Record(1, 0, false)
			}
			s, ok := tr.Stats()
			require.True(t, ok)
			assert.InDelta(t, tt.want, s.AdjustmentRate, 1e-9)
		})
	}
}

func TestPerformanceTracker_IntervalVolatility(t *testing.T) {
	t.Run("needs four intervals", func(t *testing.T) {
		tr, clock := newTestTracker()
		for _, gap := range []float64{0, 1, 2, 3} {
			clock.AdvanceSeconds(gap)
			tr.Record(1, 100, false)
		}
		for i := 0; i < 6; i++ {
			tr.Record(1, 0, false) // zero size: not an admission
		}
		s, ok := tr.Stats()
		require.True(t, ok)
		assert.Zero(t, s.IntervalVolatility)
	})

	t.Run("sample std dev of intervals", func(t *testing.T) {
		tr, clock := newTestTracker()
		for _, gap := range []float64{0, 1, 2, 3, 4} {
			clock.AdvanceSeconds(gap)
			tr.Record(1, 100, false)
		}
		for i := 0; i < 5; i++ {
			tr.Record(1, 100, true) // blocked: not an admission
		}
		s, ok := tr.Stats()
		require.True(t, ok)
		// intervals 1,2,3,4: sample variance 5/3
		assert.InDelta(t, math.Sqrt(5.0/3), s.IntervalVolatility, 1e-9)
	})

	t.Run("only the last ten admissions", func(t *testing.T) {
		tr, clock := newTestTracker()
		// an irregular prefix that falls out of the window
		for _, gap := range []float64{0, 50, 1, 70} {
			clock.AdvanceSeconds(gap)
			tr.Record(1, 100, false)
		}
		for i := 0; i < 10; i++ {
			clock.AdvanceSeconds(3)
			tr.Record(1, 100, false)
		}
		s, ok := tr.Stats()
		require.True(t, ok)
		assert.InDelta(t, 0, s.IntervalVolatility, 1e-9)
	})
}

func TestPerformanceTracker_WindowIsBounded(t *testing.T) {
	tr, _ := newTestTracker()
	for i := 0; i < 250; i++ {
		tr.Record(1, 100, false)
	}
	assert.Equal(t, 100, tr.Len())
	assert.Len(t, tr.admissions, 50)
}
