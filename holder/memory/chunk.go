// Package memory owns the physical side of the holder: buffers that are
// allocated and touched so they count toward host utilization, and the host
// memory sampler the control loop reads each cycle.
package memory

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

const (
	bytesPerMB = 1 << 20
	pageSize   = 4096
)

// ErrExhausted is returned by an Allocator that refuses a request.
var ErrExhausted = errors.New("memory exhausted")

// Allocator produces buffers of a given size in megabytes.
type Allocator interface {
	Allocate(sizeMB int) ([]byte, error)
	// Free is called for each buffer the pool drops.
	Free(sizeMB int)
	// Reclaim is called once after a batch of buffers has been dropped.
	Reclaim()
}

// Chunk is one owned buffer.
type Chunk struct {
	SizeMB    int
	CreatedAt time.Time
	data      []byte
}

// HeapAllocator allocates Go heap buffers and writes one byte per page so
// the kernel commits them. It refuses requests that would leave less than
// ReserveMB available on the host.
type HeapAllocator struct {
	Sampler   Sampler // nil disables the headroom check
	ReserveMB float64
}

// DefaultReserveMB is the headroom kept free by NewHeapAllocator.
const DefaultReserveMB = 256

func NewHeapAllocator(s Sampler) *HeapAllocator {
	return &HeapAllocator{Sampler: s, ReserveMB: DefaultReserveMB}
}

func (a *HeapAllocator) Allocate(sizeMB int) ([]byte, error) {
	if sizeMB <= 0 {
		return nil, fmt.Errorf("allocating %d MB: size must be positive", sizeMB)
	}
	if a.Sampler != nil {
		host, err := a.Sampler.Sample()
		if err != nil {
			return nil, fmt.Errorf("checking headroom: %w", err)
		}
		if host.AvailableMB-float64(sizeMB) < a.ReserveMB {
			return nil, fmt.Errorf("allocating %d MB with %.0f MB available: %w", sizeMB, host.AvailableMB, ErrExhausted)
		}
	}
	buf := make([]byte, sizeMB*bytesPerMB)
	for i := 0; i < len(buf); i += pageSize {
		buf[i] = 1
	}
	return buf, nil
}

// Free is a no-op; heap buffers are collected once unreferenced.
func (a *HeapAllocator) Free(int) {}

// Reclaim forces a GC and returns freed spans to the OS.
func (a *HeapAllocator) Reclaim() {
	debug.FreeOSMemory()
}
