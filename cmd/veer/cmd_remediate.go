package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veerhq/veer/notify"
	"github.com/veerhq/veer/remedy"
	"github.com/veerhq/veer/types"
)

var (
	remediateReport     string
	remediateAutoOK     bool
	remediateRollbackOF bool
)

var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Remediate detected drift",
	Long: `Run a remediation pass: back up mutable state, build an action plan
from the drift report, execute it with approval gates, then verify the
environment converged.

Without --report a fresh detection cycle runs first. With --report a
previously stored report drives the plan ("latest" picks the newest).`,
	Example: `  veer remediate                        # Detect, then remediate
  veer remediate --report latest        # Remediate the last stored report
  veer remediate --auto-approve         # Unattended, every action approved
  veer remediate --auto-approve --rollback-on-failure`,
	RunE: runRemediate,
}

func init() {
	rootCmd.AddCommand(remediateCmd)

	remediateCmd.Flags().StringVar(&remediateReport, "report", "", "Stored report to remediate (key or \"latest\")")
	remediateCmd.Flags().BoolVarP(&remediateAutoOK, "auto-approve", "y", false, "Approve every action without prompting")
	remediateCmd.Flags().BoolVar(&remediateRollbackOF, "rollback-on-failure", false, "Roll back automatically when the run fails unattended")
}

func runRemediate(cmd *cobra.Command, args []string) error {
	a, err := newApp("remediate")
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := resolveReport(a, remediateReport)
	if err != nil {
		return err
	}

	eng := a.remedyEngine(terminalApprover{}, remediateAutoOK, remediateRollbackOF)

	result, err := eng.Run(ctx, report)
	if err != nil {
		return err
	}

	a.notifier.Notify(ctx, notify.EventRemediationComplete, result)
	printRunResult(result)

	if result.Outcome == remedy.OutcomeFailed {
		return fmt.Errorf("remediation failed: %s", strings.Join(result.Summary, "; "))
	}
	return nil
}

// resolveReport maps the --report flag to a stored report. Empty means
// the engine detects for itself.
func resolveReport(a *app, key string) (*types.DriftReport, error) {
	switch key {
	case "":
		return nil, nil
	case "latest":
		return a.reports.Latest()
	default:
		return a.reports.Get(key)
	}
}

func printRunResult(result *remedy.RunResult) {
	switch result.Outcome {
	case remedy.OutcomeConverged:
		fmt.Printf("✅ Converged (%d -> %d issues)\n", result.OriginalIssues, result.RemainingIssues)
	case remedy.OutcomePartiallyConverged:
		fmt.Printf("⚠️  Partially converged (%d -> %d issues)\n", result.OriginalIssues, result.RemainingIssues)
	case remedy.OutcomeFailed:
		fmt.Printf("❌ Failed (%d issues remain)\n", result.RemainingIssues)
	}
	for _, line := range result.Summary {
		fmt.Printf("  %s\n", line)
	}

	for _, ar := range result.Actions {
		marker := "✓"
		switch ar.Status {
		case remedy.ActionFailed:
			marker = "✗"
		case remedy.ActionSkipped:
			marker = "-"
		}
		fmt.Printf("  %s %s\n", marker, ar.Action.Describe())
		if ar.Error != "" {
			fmt.Printf("      %s\n", ar.Error)
		}
	}

	if result.BackupID != "" {
		fmt.Printf("  backup: %s\n", result.BackupID)
	}
	if result.RolledBack {
		fmt.Println("  environment was rolled back to the pre-run backup")
	}
}
