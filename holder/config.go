package holder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TargetMode selects how the utilization target is chosen.
type TargetMode string

const (
	// TargetDefault wanders inside the default 25-35% band.
	TargetDefault TargetMode = "default"
	// TargetRange wanders inside a user-supplied band.
	TargetRange TargetMode = "range"
	// TargetFixed never changes the target.
	TargetFixed TargetMode = "fixed"
)

const (
	DefaultMinTarget = 25.0
	DefaultMaxTarget = 35.0
	DefaultTarget    = 30.0

	DefaultParamsFile = "nerdy_params.json"
	DefaultStatusFile = "nerdy_status.json"
)

// LoopConfig is the resolved configuration of a ControlLoop.
type LoopConfig struct {
	Mode      TargetMode
	MinTarget float64
	MaxTarget float64

	Interval      time.Duration // delay between cycles
	OptimizeEvery time.Duration
	ExportEvery   time.Duration
	SummaryEvery  time.Duration
	// Target re-randomization waits a whole number of seconds drawn from
	// [TargetChangeMin, TargetChangeMax].
	TargetChangeMin time.Duration
	TargetChangeMax time.Duration

	ExportStatus  bool
	StatusFile    string
	ParamsFile    string // empty disables persistence
	TraceCapacity int

	Seed  int64
	RunID string
}

// DefaultLoopConfig returns the default band with status export enabled.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Mode:            TargetDefault,
		MinTarget:       DefaultMinTarget,
		MaxTarget:       DefaultMaxTarget,
		Interval:        3 * time.Second,
		OptimizeEvery:   30 * time.Second,
		ExportEvery:     time.Second,
		SummaryEvery:    120 * time.Second,
		TargetChangeMin: 180 * time.Second,
		TargetChangeMax: 360 * time.Second,
		ExportStatus:    true,
		StatusFile:      DefaultStatusFile,
		ParamsFile:      DefaultParamsFile,
	}
}

// InitialTarget is the starting target: the fixed value, the band midpoint,
// or 30% for the default band.
func (c LoopConfig) InitialTarget() float64 {
	if c.Mode == TargetDefault {
		return DefaultTarget
	}
	return (c.MinTarget + c.MaxTarget) / 2
}

// Validate checks ranges and intervals.
func (c LoopConfig) Validate() error {
	switch c.Mode {
	case TargetDefault, TargetRange, TargetFixed:
	default:
		return fmt.Errorf("unknown target mode %q", c.Mode)
	}
	if err := validateTarget("min target", c.MinTarget); err != nil {
		return err
	}
	if err := validateTarget("max target", c.MaxTarget); err != nil {
		return err
	}
	if c.MinTarget > c.MaxTarget {
		return fmt.Errorf("min target %.1f exceeds max target %.1f", c.MinTarget, c.MaxTarget)
	}
	if c.Mode == TargetFixed && c.MinTarget != c.MaxTarget {
		return fmt.Errorf("fixed target mode needs min == max, got %.1f and %.1f", c.MinTarget, c.MaxTarget)
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"interval", c.Interval},
		{"optimize interval", c.OptimizeEvery},
		{"export interval", c.ExportEvery},
		{"summary interval", c.SummaryEvery},
		{"target change min", c.TargetChangeMin},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.v)
		}
	}
	if c.TargetChangeMax < c.TargetChangeMin {
		return fmt.Errorf("target change max %v is below min %v", c.TargetChangeMax, c.TargetChangeMin)
	}
	if c.ExportStatus && c.StatusFile == "" {
		return errors.New("status export enabled without a status file")
	}
	return nil
}

func validateTarget(name string, v float64) error {
	if v <= 0 || v >= 100 {
		return fmt.Errorf("%s must be in (0, 100), got %.2f", name, v)
	}
	return nil
}

// RunConfig is the optional YAML run file. Nil pointer fields and empty
// strings mean "not set" and leave the LoopConfig value alone.
type RunConfig struct {
	FixedTarget   *float64       `yaml:"fixed_target"`
	DynamicRange  *RangeConfig   `yaml:"dynamic_range"`
	Export        *bool          `yaml:"export"`
	ParamsFile    string         `yaml:"params_file"`
	StatusFile    string         `yaml:"status_file"`
	Interval      *time.Duration `yaml:"interval"`
	Seed          *int64         `yaml:"seed"`
	TraceCapacity *int           `yaml:"trace_capacity"`
	MetricsAddr   string         `yaml:"metrics_addr"`
	LogLevel      string         `yaml:"log_level"`
}

// RangeConfig is a [min, max] target band.
type RangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// LoadRunConfig reads a YAML run file. Unknown keys are errors.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run config: %w", err)
	}
	var rc RunConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&rc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing run config: %w", err)
	}
	return &rc, nil
}

// Validate checks the values that are set.
func (rc *RunConfig) Validate() error {
	if rc.FixedTarget != nil && rc.DynamicRange != nil {
		return errors.New("fixed_target and dynamic_range are mutually exclusive")
	}
	if rc.FixedTarget != nil {
		if err := validateTarget("fixed_target", *rc.FixedTarget); err != nil {
			return err
		}
	}
	if r := rc.DynamicRange; r != nil {
		if err := validateTarget("dynamic_range.min", r.Min); err != nil {
			return err
		}
		if err := validateTarget("dynamic_range.max", r.Max); err != nil {
			return err
		}
		if r.Min > r.Max {
			return fmt.Errorf("dynamic_range.min %.1f exceeds max %.1f", r.Min, r.Max)
		}
	}
	if rc.Interval != nil && *rc.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", *rc.Interval)
	}
	if rc.TraceCapacity != nil && *rc.TraceCapacity < 0 {
		return fmt.Errorf("trace_capacity must be non-negative, got %d", *rc.TraceCapacity)
	}
	return nil
}

// ApplyTo overlays the set fields onto cfg.
func (rc *RunConfig) ApplyTo(cfg *LoopConfig) {
	if rc.FixedTarget != nil {
		cfg.SetFixedTarget(*rc.FixedTarget)
	}
	if rc.DynamicRange != nil {
		cfg.SetRange(rc.DynamicRange.Min, rc.DynamicRange.Max)
	}
	if rc.Export != nil {
		cfg.ExportStatus = *rc.Export
	}
	if rc.ParamsFile != "" {
		cfg.ParamsFile = rc.ParamsFile
	}
	if rc.StatusFile != "" {
		cfg.StatusFile = rc.StatusFile
	}
	if rc.Interval != nil {
		cfg.Interval = *rc.Interval
	}
	if rc.Seed != nil {
		cfg.Seed = *rc.Seed
	}
	if rc.TraceCapacity != nil {
		cfg.TraceCapacity = *rc.TraceCapacity
	}
}

// SetFixedTarget switches cfg to a fixed target.
func (c *LoopConfig) SetFixedTarget(target float64) {
	c.Mode = TargetFixed
	c.MinTarget, c.MaxTarget = target, target
}

// SetRange switches cfg to a user-supplied band.
func (c *LoopConfig) SetRange(minTarget, maxTarget float64) {
	c.Mode = TargetRange
	c.MinTarget, c.MaxTarget = minTarget, maxTarget
}
