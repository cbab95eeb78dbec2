package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/nerdy-holder/holder"
	"github.com/inference-sim/nerdy-holder/holder/memory"
	"github.com/inference-sim/nerdy-holder/holder/metrics"
)

var (
	// CLI flags for target selection
	fixedTarget  float64   // Hold utilization at exactly this percentage
	dynamicRange []float64 // MIN,MAX band the target wanders inside
	noExport     bool      // Disable the live status file

	// CLI flags for files and pacing
	configPath  string        // Optional YAML run config
	paramsFile  string        // Persisted tunables
	statusFile  string        // Live status file
	interval    time.Duration // Delay between control cycles
	seed        int64         // Seed for target re-randomization and exploration
	metricsAddr string        // Prometheus listen address, empty disables
	logLevel    string        // Log verbosity level

	// CLI flags for the host
	procRoot  string  // procfs mount point
	reserveMB float64 // Headroom the allocator never consumes
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "nerdy-holder",
	Short: "Self-regulating memory holder that keeps host utilization near a target",
}

// runCmd holds memory until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Hold memory at the target utilization until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		var rc *holder.RunConfig
		if configPath != "" {
			var err error
			rc, err = holder.LoadRunConfig(configPath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
		}

		// Set up logging; an explicit --log beats the run config
		level := logLevel
		if rc != nil && rc.LogLevel != "" && !cmd.Flags().Changed("log") {
			level = rc.LogLevel
		}
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", level)
		}
		logrus.SetLevel(parsed)

		cfg, err := resolveLoopConfig(cmd, rc)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		addr := metricsAddr
		if rc != nil && rc.MetricsAddr != "" && !cmd.Flags().Changed("metrics-addr") {
			addr = rc.MetricsAddr
		}

		if err := runHolder(cmd.Context(), cfg, addr); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// resolveLoopConfig layers defaults, the run config and explicitly set flags,
// in that order, and validates the result.
func resolveLoopConfig(cmd *cobra.Command, rc *holder.RunConfig) (holder.LoopConfig, error) {
	cfg := holder.DefaultLoopConfig()
	cfg.Seed = time.Now().UnixNano()
	if rc != nil {
		if err := rc.Validate(); err != nil {
			return cfg, fmt.Errorf("invalid run config: %w", err)
		}
		rc.ApplyTo(&cfg)
	}

	flags := cmd.Flags()
	if flags.Changed("fixed-target") {
		cfg.SetFixedTarget(fixedTarget)
	}
	if flags.Changed("dynamic-range") {
		if len(dynamicRange) != 2 {
			return cfg, fmt.Errorf("--dynamic-range takes MIN,MAX, got %v", dynamicRange)
		}
		cfg.SetRange(dynamicRange[0], dynamicRange[1])
	}
	if flags.Changed("no-export") {
		cfg.ExportStatus = !noExport
	}
	if flags.Changed("params-file") {
		cfg.ParamsFile = paramsFile
	}
	if flags.Changed("status-file") {
		cfg.StatusFile = statusFile
	}
	if flags.Changed("interval") {
		cfg.Interval = interval
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// runHolder runs the control loop, and the metrics server when addr is set,
// until SIGINT or SIGTERM.
func runHolder(ctx context.Context, cfg holder.LoopConfig, addr string) error {
	sampler, err := memory.NewProcSampler(procRoot)
	if err != nil {
		return fmt.Errorf("opening procfs: %w", err)
	}
	allocator := memory.NewHeapAllocator(sampler)
	allocator.ReserveMB = reserveMB

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	var recorder *metrics.Recorder
	if addr != "" {
		recorder = metrics.NewRecorder(cfg.RunID)
	}

	loop, err := holder.NewControlLoop(cfg, holder.Deps{
		Sampler:   sampler,
		Allocator: allocator,
		Metrics:   recorder,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gCtx)
	})
	if recorder != nil {
		srv := metrics.NewServer(addr, recorder, func() any { return loop.Snapshot() })
		g.Go(func() error {
			return srv.Run(gCtx)
		})
	}
	return g.Wait()
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addRunFlags registers the run flags on cmd, resetting the bound variables
// to their defaults.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&fixedTarget, "fixed-target", holder.DefaultTarget, "Hold utilization at this fixed percentage")
	cmd.Flags().Float64SliceVar(&dynamicRange, "dynamic-range", nil, "MIN,MAX band the target wanders inside (default 25,35)")
	cmd.Flags().BoolVar(&noExport, "no-export", false, "Do not write the live status file")
	cmd.MarkFlagsMutuallyExclusive("fixed-target", "dynamic-range")

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML run config")
	cmd.Flags().StringVar(&paramsFile, "params-file", holder.DefaultParamsFile, "Where tunables are persisted")
	cmd.Flags().StringVar(&statusFile, "status-file", holder.DefaultStatusFile, "Where the live status is written")
	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "Delay between control cycles")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed for target changes and exploration (time-derived when unset)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics and /healthz on this address")
	cmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")

	cmd.Flags().StringVar(&procRoot, "proc-root", "", "procfs mount point (default /proc)")
	cmd.Flags().Float64Var(&reserveMB, "reserve-mb", memory.DefaultReserveMB, "Available memory the holder never allocates into")
}

// init sets up CLI flags and subcommands
func init() {
	addRunFlags(runCmd)
	addStatusFlags(statusCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}
