package holder

import "math"

const momentumHistory = 50

// MomentumPredictor tracks a fast and a slow exponential moving average of
// utilization. Their difference is the momentum.
type MomentumPredictor struct {
	fastAlpha float64
	slowAlpha float64

	initialized bool
	fast        float64
	slow        float64
	history     []float64
}

// NewMomentumPredictor creates a predictor with the given smoothing factors.
func NewMomentumPredictor(fastAlpha, slowAlpha float64) *MomentumPredictor {
	return &MomentumPredictor{fastAlpha: fastAlpha, slowAlpha: slowAlpha}
}

// SetRates replaces the smoothing factors; the averages are kept.
func (m *MomentumPredictor) SetRates(fastAlpha, slowAlpha float64) {
	m.fastAlpha, m.slowAlpha = fastAlpha, slowAlpha
}

// Update folds a new sample into both averages. The first sample seeds them.
func (m *MomentumPredictor) Update(value float64) {
	m.history = appendBounded(m.history, value, momentumHistory)
	if !m.initialized {
		m.fast, m.slow = value, value
		m.initialized = true
		return
	}
	m.fast = m.fastAlpha*value + (1-m.fastAlpha)*m.fast
	m.slow = m.slowAlpha*value + (1-m.slowAlpha)*m.slow
}

// Momentum returns fast - slow, or 0 before the first sample.
func (m *MomentumPredictor) Momentum() float64 {
	if !m.initialized {
		return 0
	}
	return m.fast - m.slow
}

// Predict extrapolates utilization secondsAhead into the future, clamped to [0, 100].
func (m *MomentumPredictor) Predict(secondsAhead float64) float64 {
	if !m.initialized {
		return 0
	}
	return math.Max(0, math.Min(100, m.fast+m.Momentum()*(secondsAhead/5)))
}

// History returns a copy of the most recent samples, oldest first.
func (m *MomentumPredictor) History() []float64 {
	out := make([]float64, len(m.history))
	copy(out, m.history)
	return out
}
