package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veerhq/veer/backup"
)

var backupPruneKeep int

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and manage environment backups",
	Long: `Manage backups of mutable environment state: the planning tool's
state file, volume archives, and a container inventory snapshot.

Backups accumulate until an explicit prune; no run ever deletes one.`,
}

var backupCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "Snapshot mutable state now",
	Example: `  veer backup create`,
	RunE:    runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE:  runBackupList,
}

var backupShowCmd = &cobra.Command{
	Use:   "show <backup-id>",
	Short: "Show what a backup contains",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupShow,
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old backups beyond the retention count",
	Example: `  veer backup prune             # Keep the configured count
  veer backup prune --keep 5    # Keep only the newest 5`,
	RunE: runBackupPrune,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupShowCmd, backupPruneCmd)

	backupPruneCmd.Flags().IntVar(&backupPruneKeep, "keep", 0, "Backups to keep (default from config)")
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp("backup")
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.backups.Create(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("📦 Backup %s created at %s\n", b.ID, b.Path)
	printBackupContents(b)
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	a, err := newApp("backup")
	if err != nil {
		return err
	}
	defer a.close()

	backups, err := a.backups.List()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("No backups found.")
		return nil
	}

	for _, b := range backups {
		contents := describeContents(&b)
		fmt.Printf("%s  %s  %s\n", b.ID, b.CreatedAt.Format("2006-01-02 15:04:05"), contents)
	}
	return nil
}

func runBackupShow(cmd *cobra.Command, args []string) error {
	a, err := newApp("backup")
	if err != nil {
		return err
	}
	defer a.close()

	b, err := a.backups.Inspect(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Backup %s\n", b.ID)
	fmt.Printf("  created: %s\n", b.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  path:    %s\n", b.Path)
	printBackupContents(b)
	return nil
}

func runBackupPrune(cmd *cobra.Command, args []string) error {
	a, err := newApp("backup")
	if err != nil {
		return err
	}
	defer a.close()

	keep := backupPruneKeep
	if keep <= 0 {
		keep = a.cfg.Retention.Keep
	}

	removed, err := a.backups.Prune(keep)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Printf("Nothing to prune (keeping up to %d backups).\n", keep)
		return nil
	}

	fmt.Printf("🗑  Pruned %d backup(s):\n", len(removed))
	for _, id := range removed {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

func printBackupContents(b *backup.Backup) {
	if b.HasStateFile {
		fmt.Println("  state file: captured")
	} else {
		fmt.Println("  state file: not present")
	}
	if b.HasInventory {
		fmt.Println("  inventory:  captured")
	}
	for _, v := range b.VolumeArchives {
		fmt.Printf("  volume:     %s\n", v)
	}
	for _, m := range b.MissingArtifacts {
		fmt.Printf("  missing:    %s\n", m)
	}
}

func describeContents(b *backup.Backup) string {
	var parts []string
	if b.HasStateFile {
		parts = append(parts, "state")
	}
	if len(b.VolumeArchives) > 0 {
		parts = append(parts, fmt.Sprintf("%d volume(s)", len(b.VolumeArchives)))
	}
	if b.HasInventory {
		parts = append(parts, "inventory")
	}
	if len(b.MissingArtifacts) > 0 {
		parts = append(parts, fmt.Sprintf("%d missing", len(b.MissingArtifacts)))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, ", ")
}
