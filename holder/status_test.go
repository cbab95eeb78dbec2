package holder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "status.json")
	want := Status{
		Timestamp:     1_700_000_000.5,
		RunID:         "run-1",
		CurrentTarget: 31.5,
		SystemMemory:  30.9,
		HoldingMB:     2400,
		ChunksCount:   6,
		Params:        StatusParams{PidKp: 2.2, PidKi: 0.25, PidKd: 0.6, ResponseBase: 1.6, ResponseCurve: 1.7, Tolerance: 0.8},
		Stats:         StatusCounters{UptimeSeconds: 120, Decisions: 40, Adjustments: 12, Blocked: 9, Optimizations: 1},
		Performance:   StatusPerformance{AvgError: 1.2, ErrorVolatility: 0.4, BlockRate: 0.22, Score: 33.1},
	}

	require.NoError(t, WriteStatus(path, want))
	got, err := ReadStatus(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file left behind")
}

func TestStatus_JSONLayout(t *testing.T) {
	data, err := json.Marshal(Status{})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"timestamp", "run_id", "current_target", "system_memory", "holding_mb", "chunks_count", "params", "stats", "performance"} {
		assert.Contains(t, doc, key)
	}
	assert.Contains(t, doc["stats"], "uptime_seconds")
	assert.Contains(t, doc["performance"], "block_rate")
	assert.Contains(t, doc["params"], "tolerance")
}

func TestStatus_Fresh(t *testing.T) {
	written := time.Unix(1_700_000_000, 250_000_000)
	s := Status{Timestamp: float64(written.UnixNano()) / 1e9}

	assert.WithinDuration(t, written, s.Time(), time.Microsecond)
	assert.True(t, s.Fresh(written.Add(9*time.Second)))
	assert.True(t, s.Fresh(written.Add(StatusFreshness-time.Millisecond)))
	assert.False(t, s.Fresh(written.Add(11*time.Second)))
}

func TestReadStatus_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadStatus(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = ReadStatus(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing status")
}
