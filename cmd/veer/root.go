package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "veer",
		Short: "Drift detection and remediation engine",
		Long: `Veer - Drift Detection and Remediation Engine

Veer watches a declaratively managed environment for drift between what
the configuration says should exist and what is actually running. It
detects drift, snapshots mutable state before touching anything,
remediates with approval gates, verifies the result, and can roll the
environment back to any backup.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Veer {{.Version}} - Drift Detection and Remediation Engine
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "veer.yaml", "Path to config file")
}
