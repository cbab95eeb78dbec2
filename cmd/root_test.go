package cmd

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/nerdy-holder/holder"
)

// newTestRunCmd returns a run command with fresh flag state parsed from args.
func newTestRunCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "run"}
	addRunFlags(c)
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestResolveLoopConfig_Defaults(t *testing.T) {
	cfg, err := resolveLoopConfig(newTestRunCmd(t), nil)
	require.NoError(t, err)

	want := holder.DefaultLoopConfig()
	want.Seed = cfg.Seed
	assert.Equal(t, want, cfg)
	assert.Equal(t, 30.0, cfg.InitialTarget())
}

func TestResolveLoopConfig_TargetFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantMode holder.TargetMode
		wantMin  float64
		wantMax  float64
	}{
		{"fixed", []string{"--fixed-target=42"}, holder.TargetFixed, 42, 42},
		{"dynamic", []string{"--dynamic-range=40,60"}, holder.TargetRange, 40, 60},
		{"default band", nil, holder.TargetDefault, 25, 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := resolveLoopConfig(newTestRunCmd(t, tt.args...), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, cfg.Mode)
			assert.Equal(t, tt.wantMin, cfg.MinTarget)
			assert.Equal(t, tt.wantMax, cfg.MaxTarget)
		})
	}
}

func TestResolveLoopConfig_InvalidFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"range needs two values", []string{"--dynamic-range=40"}, "MIN,MAX"},
		{"target out of range", []string{"--fixed-target=150"}, "must be in (0, 100)"},
		{"inverted range", []string{"--dynamic-range=60,40"}, "exceeds max target"},
		{"zero interval", []string{"--interval=0s"}, "interval must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveLoopConfig(newTestRunCmd(t, tt.args...), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunFlags_FixedAndDynamicAreExclusive(t *testing.T) {
	c := newTestRunCmd(t, "--fixed-target=30", "--dynamic-range=20,40")
	assert.Error(t, c.ValidateFlagGroups())

	c = newTestRunCmd(t, "--fixed-target=30")
	assert.NoError(t, c.ValidateFlagGroups())
}

func TestResolveLoopConfig_ExplicitFlagsBeatRunConfig(t *testing.T) {
	// GIVEN a run config fixing the target, interval and seed
	target := 45.0
	every := 5 * time.Second
	fileSeed := int64(7)
	rc := &holder.RunConfig{FixedTarget: &target, Interval: &every, Seed: &fileSeed, ParamsFile: "from-file.json"}

	// WHEN the CLI sets a band and a seed
	cfg, err := resolveLoopConfig(newTestRunCmd(t, "--dynamic-range=20,30", "--seed=9"), rc)
	require.NoError(t, err)

	// THEN changed flags win and untouched flags leave file values alone
	assert.Equal(t, holder.TargetRange, cfg.Mode)
	assert.Equal(t, 20.0, cfg.MinTarget)
	assert.Equal(t, 30.0, cfg.MaxTarget)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, "from-file.json", cfg.ParamsFile)
}

func TestResolveLoopConfig_RunConfigSeedUsedWhenFlagUnset(t *testing.T) {
	fileSeed := int64(7)
	cfg, err := resolveLoopConfig(newTestRunCmd(t), &holder.RunConfig{Seed: &fileSeed})
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Seed)
}

func TestResolveLoopConfig_NoExport(t *testing.T) {
	export := true
	cfg, err := resolveLoopConfig(newTestRunCmd(t, "--no-export", "--status-file="), &holder.RunConfig{Export: &export})
	require.NoError(t, err)
	assert.False(t, cfg.ExportStatus)
	assert.Empty(t, cfg.StatusFile)
}

func TestResolveLoopConfig_InvalidRunConfig(t *testing.T) {
	target := 0.0
	_, err := resolveLoopConfig(newTestRunCmd(t), &holder.RunConfig{FixedTarget: &target})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run config")
}
