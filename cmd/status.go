package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/nerdy-holder/holder"
)

var (
	statusPath string // Status file to read
	statusJSON bool   // Print the raw document
)

var errHolderUnavailable = errors.New("holder unavailable")

// statusCmd prints what a running holder last exported
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live status exported by a running holder",
	Run: func(cmd *cobra.Command, args []string) {
		if err := printStatus(cmd.OutOrStdout(), statusPath, statusJSON, time.Now()); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// printStatus writes the status at path to w. A missing, unreadable or stale
// file means the holder is not running.
func printStatus(w io.Writer, path string, raw bool, now time.Time) error {
	s, err := holder.ReadStatus(path)
	if err != nil {
		return fmt.Errorf("%w: %w", errHolderUnavailable, err)
	}
	if !s.Fresh(now) {
		return fmt.Errorf("%w: %s was last written %s ago", errHolderUnavailable, path, now.Sub(s.Time()).Round(time.Second))
	}

	if raw {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	uptime := time.Duration(s.Stats.UptimeSeconds * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(w, "run          %s (up %s)\n", s.RunID, uptime)
	fmt.Fprintf(w, "memory       %.1f%% (target %.1f%%)\n", s.SystemMemory, s.CurrentTarget)
	fmt.Fprintf(w, "holding      %d MB in %d chunks\n", s.HoldingMB, s.ChunksCount)
	fmt.Fprintf(w, "decisions    %d (%d adjusted, %d blocked, %d optimizations)\n",
		s.Stats.Decisions, s.Stats.Adjustments, s.Stats.Blocked, s.Stats.Optimizations)
	fmt.Fprintf(w, "performance  error %.2f%% | volatility %.2f%% | block rate %.1f%% | best score %.1f\n",
		s.Performance.AvgError, s.Performance.ErrorVolatility, s.Performance.BlockRate*100, s.Performance.Score)
	fmt.Fprintf(w, "params       kp %.2f ki %.2f kd %.2f | base %.2f curve %.2f | tolerance %.2f\n",
		s.Params.PidKp, s.Params.PidKi, s.Params.PidKd, s.Params.ResponseBase, s.Params.ResponseCurve, s.Params.Tolerance)
	return nil
}

func addStatusFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&statusPath, "status-file", holder.DefaultStatusFile, "Status file written by nerdy-holder run")
	cmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw JSON document")
}
