package memory

import (
	"errors"
	"fmt"

	"github.com/prometheus/procfs"
)

// HostMemory is one reading of host memory.
type HostMemory struct {
	TotalMB     float64
	AvailableMB float64
}

// UsedPercent is the share of total memory that is not available, 0-100.
func (h HostMemory) UsedPercent() float64 {
	if h.TotalMB <= 0 {
		return 0
	}
	return (h.TotalMB - h.AvailableMB) / h.TotalMB * 100
}

// Sampler reads host memory.
type Sampler interface {
	Sample() (HostMemory, error)
}

// ProcSampler reads /proc/meminfo.
type ProcSampler struct {
	fs procfs.FS
}

// NewProcSampler opens the proc filesystem at mountPoint; empty means /proc.
func NewProcSampler(mountPoint string) (*ProcSampler, error) {
	var (
		fs  procfs.FS
		err error
	)
	if mountPoint == "" {
		fs, err = procfs.NewDefaultFS()
	} else {
		fs, err = procfs.NewFS(mountPoint)
	}
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}
	return &ProcSampler{fs: fs}, nil
}

func (s *ProcSampler) Sample() (HostMemory, error) {
	info, err := s.fs.Meminfo()
	if err != nil {
		return HostMemory{}, fmt.Errorf("reading meminfo: %w", err)
	}
	if info.MemTotal == nil || *info.MemTotal == 0 {
		return HostMemory{}, errors.New("meminfo has no MemTotal")
	}
	total := float64(*info.MemTotal) / 1024
	var available float64
	switch {
	case info.MemAvailable != nil:
		available = float64(*info.MemAvailable) / 1024
	case info.MemFree != nil:
		// kernels before 3.14 lack MemAvailable
		available = float64(*info.MemFree) / 1024
	default:
		return HostMemory{}, errors.New("meminfo has neither MemAvailable nor MemFree")
	}
	return HostMemory{TotalMB: total, AvailableMB: available}, nil
}
