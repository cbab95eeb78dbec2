package holder

import (
	"math"
	"time"
)

// Action is the controller's own classification of which way it is pushing.
// It is derived from target - current, which is the inverse of the sign the
// control loop uses to choose physical allocate/release (current - target).
type Action string

const (
	ActionNone     Action = ""
	ActionAllocate Action = "allocate"
	ActionRelease  Action = "release"
)

const (
	releaseResetError  = 8.0  // |error| above which a switch to release zeroes the integral
	allocateResetError = 12.0 // |error| above which a switch to allocate zeroes the integral
	releaseRecovery    = 8.0  // seconds for the integral weight to ramp back after a switch to release
	allocateRecovery   = 18.0 // seconds for the integral weight to ramp back after a switch to allocate
	minControllerDt    = 0.1
)

// ControllerConfig holds gains and integral bounds.
type ControllerConfig struct {
	Kp          float64
	Ki          float64
	Kd          float64
	IntegralMin float64
	IntegralMax float64
}

// DefaultControllerConfig returns the built-in gains with integral bounds of [-40, 40].
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{Kp: 2.2, Ki: 0.25, Kd: 0.6, IntegralMin: -40, IntegralMax: 40}
}

// ControlOutput is the result of one Compute call.
type ControlOutput struct {
	Output        float64
	P             float64
	I             float64
	D             float64
	Error         float64 // target - current
	Action        Action
	ActionChanged bool
}

// Controller is an asymmetric PID controller. Switching direction partially
// or fully resets the integral, and the integral's contribution ramps back up
// over a direction-dependent recovery window.
type Controller struct {
	cfg    ControllerConfig
	clock  Clock
	target float64

	integral         float64
	lastError        float64
	lastTime         time.Time
	lastAction       Action
	actionChangeTime time.Time
}

// NewController creates a Controller aimed at target. Timers start at clock.Now().
func NewController(cfg ControllerConfig, target float64, clock Clock) *Controller {
	now := clock.Now()
	return &Controller{
		cfg:              cfg,
		clock:            clock,
		target:           target,
		lastTime:         now,
		actionChangeTime: now,
	}
}

// SetTarget changes the set point and clears the integral.
func (c *Controller) SetTarget(target float64) {
	c.target = target
	c.integral = 0
}

// SetGains replaces Kp, Ki and Kd without touching accumulated state.
func (c *Controller) SetGains(kp, ki, kd float64) {
	c.cfg.Kp, c.cfg.Ki, c.cfg.Kd = kp, ki, kd
}

func (c *Controller) Target() float64   { return c.target }
func (c *Controller) Integral() float64 { return c.integral }

// Compute advances the controller with a new measurement.
func (c *Controller) Compute(current float64) ControlOutput {
	now := c.clock.Now()
	dt := math.Max(minControllerDt, now.Sub(c.lastTime).Seconds())

	err := c.target - current
	action := ActionRelease
	if err < 0 {
		action = ActionAllocate
	}

	changed := false
	if c.lastAction != ActionNone && action != c.lastAction {
		switch action {
		case ActionRelease:
			if math.Abs(err) > releaseResetError {
				c.integral = 0
			} else {
				c.integral *= 0.1
			}
		case ActionAllocate:
			if math.Abs(err) > allocateResetError {
				c.integral = 0
			} else {
				c.integral *= 0.4
			}
		}
		c.actionChangeTime = now
		changed = true
	}
	c.lastAction = action

	p := c.cfg.Kp * err

	c.integral = clamp(c.integral+err*dt, c.cfg.IntegralMin, c.cfg.IntegralMax)
	i := c.cfg.Ki * c.integral * integralWeight(action, now.Sub(c.actionChangeTime).Seconds())

	d := c.cfg.Kd * (err - c.lastError) / dt

	c.lastError = err
	c.lastTime = now

	return ControlOutput{
		Output:        p + i + d,
		P:             p,
		I:             i,
		D:             d,
		Error:         err,
		Action:        action,
		ActionChanged: changed,
	}
}

// integralWeight ramps linearly from a floor to 1 over the recovery window
// that follows a direction change.
func integralWeight(action Action, sinceChange float64) float64 {
	if action == ActionRelease {
		if sinceChange < releaseRecovery {
			return 0.2 + 0.8*(sinceChange/releaseRecovery)
		}
		return 1
	}
	if sinceChange < allocateRecovery {
		return 0.05 + 0.95*(sinceChange/allocateRecovery)
	}
	return 1
}
