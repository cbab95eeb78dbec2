package holder

import (
	"hash/fnv"
	"math/rand"
)

// Named random streams. Each consumer draws from its own stream so that, for
// a fixed seed, target changes never perturb the optimizer's draws.
const (
	SubsystemOptimizer = "optimizer" // exploration trigger, key choice, perturbation size
	SubsystemTarget    = "target"    // target value and the delay before the next change
)

// PartitionedRNG hands out one *rand.Rand per named stream, all derived from
// a single run seed. Stream name is mixed into the seed with FNV-1a.
// Only the loop goroutine may draw from it.
type PartitionedRNG struct {
	seed    int64
	streams map[string]*rand.Rand
}

func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{seed: seed, streams: map[string]*rand.Rand{}}
}

// ForSubsystem returns the stream for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	r, ok := p.streams[name]
	if !ok {
		r = rand.New(rand.NewSource(p.seed ^ streamSalt(name)))
		p.streams[name] = r
	}
	return r
}

// Seed is the run seed, logged so a run can be replayed.
func (p *PartitionedRNG) Seed() int64 { return p.seed }

func streamSalt(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
