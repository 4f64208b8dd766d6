package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veerhq/veer/notify"
	"github.com/veerhq/veer/rollback"
)

var (
	rollbackBackupID string
	rollbackDryRun   bool
	rollbackYes      bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the environment from a backup",
	Long: `Build and execute an ordered restoration plan from a backup:
stop workloads, restore the state file and volume archives, re-apply
the restored configuration, then verify with a fresh detection cycle.

Execution stops at the first failed step. The partial log is kept.`,
	Example: `  veer rollback --dry-run            # Show the plan for the newest backup
  veer rollback                      # Restore the newest backup
  veer rollback --backup backup_20260829_120000
  veer rollback plan                 # Plan only, newest backup`,
	RunE: runRollback,
}

var rollbackPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the restoration plan without executing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		rollbackDryRun = true
		return runRollback(cmd, args)
	},
}

var rollbackRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a restoration plan",
	RunE:  runRollback,
}

var rollbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups available for rollback",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackupList(cmd, args)
	},
}

var rollbackShowCmd = &cobra.Command{
	Use:   "show <backup-id>",
	Short: "Show what a backup would restore",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rollbackBackupID = args[0]
		rollbackDryRun = true
		return runRollback(cmd, nil)
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.AddCommand(rollbackPlanCmd, rollbackRunCmd, rollbackListCmd, rollbackShowCmd)

	rollbackCmd.PersistentFlags().StringVar(&rollbackBackupID, "backup", "", "Backup to restore (default: newest)")
	rollbackCmd.PersistentFlags().BoolVar(&rollbackDryRun, "dry-run", false, "Show the plan without executing")
	rollbackCmd.PersistentFlags().BoolVarP(&rollbackYes, "yes", "y", false, "Execute without confirmation")
}

func runRollback(cmd *cobra.Command, args []string) error {
	a, err := newApp("rollback")
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	plan, err := a.rollbacks.BuildPlan(rollbackBackupID)
	if err != nil {
		return err
	}

	printRollbackPlan(plan)

	if rollbackDryRun {
		return nil
	}

	if !rollbackYes {
		approved, err := terminalApprover{}.Approve(ctx,
			fmt.Sprintf("Restore %s from backup %s?", a.cfg.Environment, plan.BackupID))
		if err != nil {
			return err
		}
		if !approved {
			fmt.Println("Rollback cancelled.")
			return nil
		}
	}

	log, err := a.rollbacks.Execute(ctx, plan, false)
	if err != nil {
		printRollbackLog(log)
		return err
	}

	a.notifier.Notify(ctx, notify.EventRollbackComplete, log)
	printRollbackLog(log)
	return nil
}

func printRollbackPlan(plan *rollback.Plan) {
	fmt.Printf("Rollback plan for backup %s (%d steps):\n", plan.BackupID, len(plan.Steps))
	for _, step := range plan.Steps {
		fmt.Printf("  %d. %s\n", step.Order, step.Description)
		if step.Command != "" {
			fmt.Printf("     %s\n", step.Command)
		}
	}
}

func printRollbackLog(log *rollback.Log) {
	if log == nil {
		return
	}
	for _, rec := range log.Steps {
		marker := "✓"
		if !rec.Success {
			marker = "✗"
		}
		fmt.Printf("  %s step %d (%s)\n", marker, rec.Order, rec.Kind)
		if rec.Error != "" {
			fmt.Printf("      %s\n", rec.Error)
		}
	}
	switch {
	case log.Success && log.Unverified:
		fmt.Println("⚠️  Rollback completed but verification still shows drift.")
	case log.Success:
		fmt.Println("✅ Rollback completed and verified.")
	default:
		fmt.Println("❌ Rollback stopped before completion; see log above.")
	}
}
