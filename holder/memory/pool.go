package memory

import (
	"fmt"
	"sort"
	"time"
)

const (
	allocateStopFraction = 0.95
	releaseStopFraction  = 0.90
	minChunkMB           = 50
)

// Pool is the set of chunks the holder owns. It is not safe for concurrent use.
type Pool struct {
	alloc  Allocator
	now    func() time.Time
	chunks []*Chunk
}

// NewPool creates an empty pool. now stamps chunk creation times; nil means time.Now.
func NewPool(alloc Allocator, now func() time.Time) *Pool {
	if now == nil {
		now = time.Now
	}
	return &Pool{alloc: alloc, now: now}
}

// ChunkSizeFor picks the next chunk size when remainingMB is still wanted.
// Larger requests use larger chunks so release can drop whole chunks.
func ChunkSizeFor(remainingMB int) int {
	switch {
	case remainingMB >= 1000:
		return 500
	case remainingMB >= 500:
		return 300
	case remainingMB >= 200:
		return 200
	case remainingMB >= 100:
		return 100
	default:
		return max(minChunkMB, remainingMB)
	}
}

// Allocate adds chunks until at least 95% of targetMB is held or the
// allocator refuses. It returns the megabytes actually added; err is non-nil
// only when the allocator stopped it early.
func (p *Pool) Allocate(targetMB int) (int, error) {
	allocated := 0
	for allocated < targetMB {
		size := ChunkSizeFor(targetMB - allocated)
		buf, err := p.alloc.Allocate(size)
		if err != nil {
			return allocated, fmt.Errorf("allocated %d of %d MB: %w", allocated, targetMB, err)
		}
		p.chunks = append(p.chunks, &Chunk{SizeMB: size, CreatedAt: p.now(), data: buf})
		allocated += size
		if float64(allocated) >= float64(targetMB)*allocateStopFraction {
			break
		}
	}
	return allocated, nil
}

// Release drops whole chunks, largest first, until at least 90% of targetMB
// has been released. It returns the megabytes released.
func (p *Pool) Release(targetMB int) int {
	if len(p.chunks) == 0 || targetMB <= 0 {
		return 0
	}
	sort.SliceStable(p.chunks, func(i, j int) bool {
		return p.chunks[i].SizeMB > p.chunks[j].SizeMB
	})
	released, n := 0, 0
	for _, c := range p.chunks {
		if float64(released) >= float64(targetMB)*releaseStopFraction {
			break
		}
		released += c.SizeMB
		n++
	}
	for i := 0; i < n; i++ {
		p.alloc.Free(p.chunks[i].SizeMB)
		p.chunks[i] = nil
	}
	p.chunks = p.chunks[n:]
	if n > 0 {
		p.alloc.Reclaim()
	}
	return released
}

// ReleaseAll drops every chunk and returns the megabytes released.
func (p *Pool) ReleaseAll() int {
	if len(p.chunks) == 0 {
		return 0
	}
	released := p.HeldMB()
	for _, c := range p.chunks {
		p.alloc.Free(c.SizeMB)
	}
	p.chunks = nil
	p.alloc.Reclaim()
	return released
}

// HeldMB is the total size of all chunks.
func (p *Pool) HeldMB() int {
	total := 0
	for _, c := range p.chunks {
		total += c.SizeMB
	}
	return total
}

// Count is the number of chunks held.
func (p *Pool) Count() int { return len(p.chunks) }

// Sizes returns chunk sizes in the pool's current order.
func (p *Pool) Sizes() []int {
	out := make([]int, len(p.chunks))
	for i, c := range p.chunks {
		out[i] = c.SizeMB
	}
	return out
}
