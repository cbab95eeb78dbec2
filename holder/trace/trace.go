package trace

import "sync"

// DefaultCapacity bounds each record list when Config.Capacity is zero.
const DefaultCapacity = 500

// Config controls trace collection.
type Config struct {
	Capacity int // most recent records kept per list
}

// Trace is a bounded, goroutine-safe log of recent records.
type Trace struct {
	mu        sync.Mutex
	capacity  int
	decisions []DecisionRecord
	optimizer []OptimizerRecord
	total     int
}

// New creates an empty Trace.
func New(cfg Config) *Trace {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Trace{capacity: capacity}
}

// RecordDecision appends a decision, dropping the oldest beyond capacity.
func (t *Trace) RecordDecision(r DecisionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	t.decisions = append(t.decisions, r)
	if len(t.decisions) > t.capacity {
		t.decisions = append(t.decisions[:0:0], t.decisions[len(t.decisions)-t.capacity:]...)
	}
}

// RecordOptimizer appends an optimizer step, dropping the oldest beyond capacity.
func (t *Trace) RecordOptimizer(r OptimizerRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.optimizer = append(t.optimizer, r)
	if len(t.optimizer) > t.capacity {
		t.optimizer = append(t.optimizer[:0:0], t.optimizer[len(t.optimizer)-t.capacity:]...)
	}
}

// Decisions returns a copy of the retained decisions, oldest first.
func (t *Trace) Decisions() []DecisionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DecisionRecord, len(t.decisions))
	copy(out, t.decisions)
	return out
}

// OptimizerSteps returns a copy of the retained optimizer records, oldest first.
func (t *Trace) OptimizerSteps() []OptimizerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]OptimizerRecord, len(t.optimizer))
	copy(out, t.optimizer)
	return out
}

// Total is the number of decisions ever recorded, including dropped ones.
func (t *Trace) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
