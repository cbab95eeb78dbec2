package holder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StatusFreshness is how old a status file may be before readers treat the
// holder as not running.
const StatusFreshness = 10 * time.Second

// Status is the live status document read by external monitors. Its JSON
// layout is stable.
type Status struct {
	Timestamp     float64           `json:"timestamp"` // unix seconds
	RunID         string            `json:"run_id"`
	CurrentTarget float64           `json:"current_target"`
	SystemMemory  float64           `json:"system_memory"`
	HoldingMB     int               `json:"holding_mb"`
	ChunksCount   int               `json:"chunks_count"`
	Params        StatusParams      `json:"params"`
	Stats         StatusCounters    `json:"stats"`
	Performance   StatusPerformance `json:"performance"`
}

type StatusParams struct {
	PidKp         float64 `json:"pid_kp"`
	PidKi         float64 `json:"pid_ki"`
	PidKd         float64 `json:"pid_kd"`
	ResponseBase  float64 `json:"response_base"`
	ResponseCurve float64 `json:"response_curve"`
	Tolerance     float64 `json:"tolerance"`
}

type StatusCounters struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Decisions     int     `json:"decisions"`
	Adjustments   int     `json:"adjustments"`
	Blocked       int     `json:"blocked"`
	Optimizations int     `json:"optimizations"`
}

// StatusPerformance is zero-valued while tracker statistics are unavailable.
type StatusPerformance struct {
	AvgError        float64 `json:"avg_error"`
	ErrorVolatility float64 `json:"error_volatility"`
	BlockRate       float64 `json:"block_rate"`
	Score           float64 `json:"score"`
}

// Time converts Timestamp back to a time.Time.
func (s Status) Time() time.Time {
	sec := int64(s.Timestamp)
	return time.Unix(sec, int64((s.Timestamp-float64(sec))*1e9))
}

// Fresh reports whether s was written within StatusFreshness of now.
func (s Status) Fresh(now time.Time) bool {
	return now.Sub(s.Time()) <= StatusFreshness
}

// WriteStatus writes s to path through a temporary file and a rename, so
// readers never observe a partial document.
func WriteStatus(path string, s Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing status %s: %w", path, err)
	}
	return nil
}

// ReadStatus parses a status file.
func ReadStatus(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, fmt.Errorf("reading status: %w", err)
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return Status{}, fmt.Errorf("parsing status %s: %w", path, err)
	}
	return s, nil
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
