package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veerhq/veer/analyzer"
	"github.com/veerhq/veer/notify"
	"github.com/veerhq/veer/types"
	"github.com/veerhq/veer/wal"
)

var detectOutput string

// exit codes: 0 no drift, 1 cycle failed, 2 drift detected
const exitDrift = 2

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one drift detection cycle",
	Long: `Run a single detection cycle: plan the declared configuration,
inventory the running environment, and compare the two.

The report is persisted either way. Exit code 0 means no drift,
2 means drift was detected, 1 means the cycle itself failed.`,
	Example: `  veer detect                        # Detect and print a summary
  veer detect --output json          # Full report as JSON
  veer detect -c prod.yaml           # Use a specific config`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().StringVarP(&detectOutput, "output", "o", "table", "Output format: table, json")
}

func runDetect(cmd *cobra.Command, args []string) error {
	if detectOutput != "table" && detectOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be table or json)", detectOutput)
	}

	a, err := newApp("detect")
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := a.analyst.Analyze(ctx)
	if err != nil {
		var cerr *analyzer.CollectorError
		if errors.As(err, &cerr) && report != nil {
			// The cycle could not conclude; record what we saw and
			// fail loudly rather than reporting a clean environment.
			_, _ = a.reports.Append(report)
			return fmt.Errorf("detection could not conclude: %w", err)
		}
		return err
	}

	if _, err := a.reports.Append(report); err != nil {
		a.logger.Warn().Err(err).Msg("failed to persist report")
	}

	if report.DriftDetected {
		_ = a.trail.Append(wal.EntryDetected, a.cfg.Environment, report.Summary())
		a.notifier.Notify(ctx, notify.EventDriftDetected, report.Summary())
	} else if a.cfg.Notify.AlwaysNotify {
		a.notifier.Notify(ctx, notify.EventDetectionClean, nil)
	}

	if err := printReport(report, detectOutput); err != nil {
		return err
	}

	if report.DriftDetected {
		a.close()
		os.Exit(exitDrift)
	}
	return nil
}

func printReport(report *types.DriftReport, format string) error {
	if format == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if !report.DriftDetected {
		fmt.Printf("✅ No drift detected in %s\n", report.Environment)
		return nil
	}

	counts := report.Summary()
	fmt.Printf("⚠️  Drift detected in %s: %d issue(s) (%d high, %d medium, %d low)\n\n",
		report.Environment, len(report.Details), counts.High, counts.Medium, counts.Low)

	for _, d := range report.Details {
		fmt.Printf("  [%s] %s: %s\n", d.Severity, d.Subject, d.Message)
		if d.Expected != "" || d.Observed != "" {
			fmt.Printf("         expected %s, observed %s\n", d.Expected, d.Observed)
		}
	}
	return nil
}
