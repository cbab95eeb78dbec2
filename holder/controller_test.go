package holder

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestController(target float64) (*Controller, *ManualClock) {
	clock := NewManualClock(time.Unix(1_700_000_000, 0))
	return NewController(DefaultControllerConfig(), target, clock), clock
}

func TestController_IntegralStaysWithinBounds(t *testing.T) {
	// GIVEN an arbitrary sequence of measurements and gaps
	c, clock := newTestController(30)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		clock.AdvanceSeconds(rng.Float64() * 20)
		c.Compute(rng.Float64() * 100)

		// THEN the integral never leaves [-40, 40]
		if c.Integral() < -40 || c.Integral() > 40 {
			t.Fatalf("step %d: integral %v outside [-40, 40]", i, c.Integral())
		}
	}
}

func TestController_FirstCallIsNotAnActionChange(t *testing.T) {
	c, _ := newTestController(30)
	out := c.Compute(20)
	assert.False(t, out.ActionChanged)
	assert.Equal(t, ActionRelease, out.Action)
}

func TestController_ErrorConventionIsTargetMinusCurrent(t *testing.T) {
	// GIVEN a host above its 30% target, which the control loop answers by releasing
	c, _ := newTestController(30)

	// WHEN the controller sees 35%
	out := c.Compute(35)

	// THEN its own error is negative and it labels the push "allocate"
	// (the inverse of the loop's current - target)
	assert.Equal(t, -5.0, out.Error)
	assert.Equal(t, ActionAllocate, out.Action)
	assert.InDelta(t, 2.2*-5, out.P, 1e-12)
	assert.Less(t, out.Output, 0.0)
}

func TestController_SwitchToRelease_LargeErrorZeroesIntegral(t *testing.T) {
	// GIVEN an integral of -30 built while allocating
	c, clock := newTestController(30)
	clock.AdvanceSeconds(3)
	c.Compute(40)
	assert.InDelta(t, -30, c.Integral(), 1e-9)

	// WHEN the error flips to +15 with no time elapsed (dt floors at 0.1)
	out := c.Compute(15)

	// THEN the integral restarts from exactly 0 before accumulating this step
	assert.True(t, out.ActionChanged)
	assert.Equal(t, ActionRelease, out.Action)
	assert.InDelta(t, 15*0.1, c.Integral(), 1e-12)
	// recovery weight starts at 0.2 right after the switch
	assert.InDelta(t, 0.25*c.Integral()*0.2, out.I, 1e-12)
}

func TestController_SwitchToRelease_SmallErrorKeepsTenPercent(t *testing.T) {
	c, clock := newTestController(30)
	clock.AdvanceSeconds(3)
	c.Compute(40) // integral -30

	c.Compute(25) // error +5

	assert.InDelta(t, -30*0.1+5*0.1, c.Integral(), 1e-12)
}

func TestController_SwitchToAllocate(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		want    float64
	}{
		// integral +30 from the first step
		{"large error zeroes", 45, 0 + (-15)*0.1},
		{"small error keeps forty percent", 35, 30*0.4 + (-5)*0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock := newTestController(30)
			clock.AdvanceSeconds(3)
			c.Compute(20)
			assert.InDelta(t, 30, c.Integral(), 1e-9)

			out := c.Compute(tt.current)

			assert.True(t, out.ActionChanged)
			assert.InDelta(t, tt.want, c.Integral(), 1e-12)
		})
	}
}

func TestController_RecoveryWeightRamps(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		since  float64
		want   float64
	}{
		{"release at switch", ActionRelease, 0, 0.2},
		{"release halfway", ActionRelease, 4, 0.6},
		{"release recovered", ActionRelease, 8, 1},
		{"allocate at switch", ActionAllocate, 0, 0.05},
		{"allocate halfway", ActionAllocate, 9, 0.525},
		{"allocate recovered", ActionAllocate, 30, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, integralWeight(tt.action, tt.since), 1e-12)
		})
	}
}

func TestController_DerivativeUsesElapsedTime(t *testing.T) {
	c, clock := newTestController(30)
	c.Compute(28) // error +2

	clock.AdvanceSeconds(2)
	out := c.Compute(26) // error +4

	assert.InDelta(t, 0.6*(4-2)/2.0, out.D, 1e-12)
}

func TestController_SetTargetClearsIntegral(t *testing.T) {
	c, clock := newTestController(30)
	clock.AdvanceSeconds(3)
	c.Compute(20)
	assert.NotZero(t, c.Integral())

	c.SetTarget(40)

	assert.Zero(t, c.Integral())
	assert.Equal(t, 40.0, c.Target())
}

func TestController_SetGains(t *testing.T) {
	c, _ := newTestController(30)
	c.SetGains(1, 0, 0)
	out := c.Compute(20)
	assert.InDelta(t, 10, out.P, 1e-12)
	assert.False(t, math.IsNaN(out.Output))
}
