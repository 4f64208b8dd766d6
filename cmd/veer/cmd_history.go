package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/veerhq/veer/wal"
)

var (
	historyLimit         int
	historyRetentionDays int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored drift reports and the audit trail",
}

var historyReportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List stored drift reports, newest first",
	RunE:  runHistoryReports,
}

var historyTrailCmd = &cobra.Command{
	Use:   "trail",
	Short: "Replay the audit trail",
	RunE:  runHistoryTrail,
}

var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove audit-trail files older than the retention window",
	RunE:  runHistoryCleanup,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyReportsCmd, historyTrailCmd, historyCleanupCmd)

	historyReportsCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Reports to show")
	historyCleanupCmd.Flags().IntVar(&historyRetentionDays, "retention-days", 30, "Age beyond which trail files are removed")
}

func runHistoryReports(cmd *cobra.Command, args []string) error {
	a, err := newApp("history")
	if err != nil {
		return err
	}
	defer a.close()

	reports, err := a.reports.List(historyLimit)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("No reports recorded.")
		return nil
	}

	for _, r := range reports {
		status := "clean"
		if r.DriftDetected {
			counts := r.Summary()
			status = fmt.Sprintf("drift: %d issue(s), %d high", counts.Total, counts.High)
		}
		fmt.Printf("%s  %s  %s\n", r.Timestamp.Format("2006-01-02 15:04:05"), r.Environment, status)
	}
	return nil
}

func runHistoryTrail(cmd *cobra.Command, args []string) error {
	a, err := newApp("history")
	if err != nil {
		return err
	}
	defer a.close()

	return wal.Replay(a.cfg.Paths.WALDir, time.Time{}, func(entry *wal.Entry) error {
		line := fmt.Sprintf("%s  #%d  %-16s  %s",
			entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Sequence, entry.Type, entry.Subject)
		if entry.Error != "" {
			line += "  error: " + entry.Error
		}
		fmt.Println(line)
		return nil
	})
}

func runHistoryCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp("history")
	if err != nil {
		return err
	}
	defer a.close()

	removed, err := wal.Cleanup(a.cfg.Paths.WALDir, historyRetentionDays)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d audit-trail file(s) older than %d days.\n", removed, historyRetentionDays)
	return nil
}
