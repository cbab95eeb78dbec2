// Package testutil provides fakes shared by the holder test packages: a
// simulated host whose utilization follows what the holder allocates, and
// a helper for procfs fixtures.
package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/inference-sim/nerdy-holder/holder/memory"
)

// SimHost is a fake host. Its used memory is a background load plus whatever
// the holder has allocated through it, so it serves as both the Sampler and
// the Allocator of a control loop under test.
type SimHost struct {
	mu           sync.Mutex
	totalMB      float64
	backgroundMB float64
	heldMB       float64

	// FailAfter makes Allocate fail once this many MB are held; 0 disables.
	FailAfterMB float64
	// SampleErr, when set, is returned by Sample.
	SampleErr error

	Allocations int
	Frees       int
	Reclaims    int
}

// NewSimHost creates a host with totalMB of memory of which backgroundPercent is in use.
func NewSimHost(totalMB, backgroundPercent float64) *SimHost {
	return &SimHost{totalMB: totalMB, backgroundMB: totalMB * backgroundPercent / 100}
}

// SetBackgroundPercent changes the load that does not belong to the holder.
func (h *SimHost) SetBackgroundPercent(p float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backgroundMB = h.totalMB * p / 100
}

// HeldMB is what the holder currently has allocated through h.
func (h *SimHost) HeldMB() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heldMB
}

func (h *SimHost) Sample() (memory.HostMemory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SampleErr != nil {
		return memory.HostMemory{}, h.SampleErr
	}
	used := math.Min(h.totalMB, h.backgroundMB+h.heldMB)
	return memory.HostMemory{TotalMB: h.totalMB, AvailableMB: h.totalMB - used}, nil
}

func (h *SimHost) Allocate(sizeMB int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailAfterMB > 0 && h.heldMB+float64(sizeMB) > h.FailAfterMB {
		return nil, fmt.Errorf("sim host at %.0f MB: %w", h.heldMB, memory.ErrExhausted)
	}
	h.heldMB += float64(sizeMB)
	h.Allocations++
	// a token buffer; the simulated usage is tracked in heldMB
	return make([]byte, 1), nil
}

func (h *SimHost) Free(sizeMB int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heldMB -= float64(sizeMB)
	h.Frees++
}

func (h *SimHost) Reclaim() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Reclaims++
}

// WriteMeminfo writes a minimal meminfo file under a temp proc root and
// returns that root for procfs.NewFS.
func WriteMeminfo(t *testing.T, totalKB, freeKB, availableKB uint64) string {
	t.Helper()
	root := t.TempDir()
	content := fmt.Sprintf("MemTotal:       %d kB\nMemFree:        %d kB\n", totalKB, freeKB)
	if availableKB > 0 {
		content += fmt.Sprintf("MemAvailable:   %d kB\n", availableKB)
	}
	if err := os.WriteFile(filepath.Join(root, "meminfo"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing meminfo fixture: %v", err)
	}
	return root
}
