package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/veerhq/veer/analyzer"
	"github.com/veerhq/veer/backup"
	"github.com/veerhq/veer/config"
	"github.com/veerhq/veer/engine"
	"github.com/veerhq/veer/notify"
	"github.com/veerhq/veer/remedy"
	"github.com/veerhq/veer/report"
	"github.com/veerhq/veer/rollback"
	"github.com/veerhq/veer/telemetry"
	"github.com/veerhq/veer/terraform"
	"github.com/veerhq/veer/wal"
)

// app wires the full component graph for one environment. Every
// command builds one, uses what it needs, and closes it.
type app struct {
	cfg        *config.Config
	logger     *telemetry.Logger
	planner    *terraform.Client
	containers *engine.Client
	analyst    *analyzer.Analyzer
	reports    *report.Store
	trail      *wal.WAL
	backups    *backup.Manager
	rollbacks  *rollback.Manager
	notifier   *notify.Notifier
}

// newApp loads config and wires the component graph. The default
// config path is optional; an explicit --config that does not exist is
// an error.
func newApp(component string) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger(component)

	planner := terraform.NewClient(terraform.Options{
		Dir:     cfg.Terraform.Dir,
		VarFile: cfg.Terraform.VarFile,
		Timeout: cfg.Terraform.Timeout,
	}, logger)

	containers := engine.NewClient(engine.Options{
		Binary:      cfg.Engine.Binary,
		Environment: cfg.Environment,
		HelperImage: cfg.Engine.HelperImage,
		Timeout:     cfg.Engine.Timeout,
	}, logger)

	analyst := analyzer.New(cfg.Environment, planner, containers, cfg.Services, logger)

	reports, err := report.Open(cfg.Paths.ReportStore)
	if err != nil {
		return nil, fmt.Errorf("failed to open report store: %w", err)
	}

	trail, err := wal.Open(cfg.Paths.WALDir)
	if err != nil {
		_ = reports.Close()
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	backups := backup.NewManager(backup.Options{
		Environment: cfg.Environment,
		StateFile:   cfg.Terraform.StateFile,
		Dir:         cfg.Paths.BackupDir,
		Engine:      containers,
		Trail:       trail,
	}, logger)

	rollbacks := rollback.NewManager(rollback.Deps{
		Environment: cfg.Environment,
		StateFile:   cfg.Terraform.StateFile,
		LogDir:      filepath.Join(cfg.Paths.BackupDir, "rollback-logs"),
		LockDir:     cfg.Paths.LockDir,
		HelperImage: cfg.Engine.HelperImage,
		Backups:     backups,
		Engine:      containers,
		Planner:     planner,
		Analyst:     analyst,
		Trail:       trail,
		Logger:      logger,
	})

	var dispatchers []notify.Dispatcher
	if cfg.Notify.WebhookURL != "" {
		dispatchers = append(dispatchers, notify.NewWebhookDispatcher(cfg.Notify.WebhookURL))
	}
	notifier := notify.NewNotifier(cfg.Environment, logger, dispatchers...)

	return &app{
		cfg:        cfg,
		logger:     logger,
		planner:    planner,
		containers: containers,
		analyst:    analyst,
		reports:    reports,
		trail:      trail,
		backups:    backups,
		rollbacks:  rollbacks,
		notifier:   notifier,
	}, nil
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	return config.Load(configPath)
}

// remedyEngine builds a remediation engine on top of the app's wiring.
func (a *app) remedyEngine(approver remedy.Approver, autoApprove, rollbackOnFailure bool) *remedy.Engine {
	return remedy.NewEngine(remedy.Deps{
		Environment: a.cfg.Environment,
		LockDir:     a.cfg.Paths.LockDir,
		Planner:     a.planner,
		Containers:  a.containers,
		Analyst:     a.analyst,
		Backups:     a.backups,
		Rollbacker:  a.rollbacks,
		Approver:    approver,
		Topology:    a.cfg.Services,
		Trail:       a.trail,
		Logger:      a.logger,
	}, remedy.Options{
		AutoApprove:       autoApprove || a.cfg.Remediation.AutoApprove,
		RollbackOnFailure: rollbackOnFailure,
		MaxRetries:        a.cfg.Remediation.MaxRetries,
		RetryDelay:        a.cfg.Remediation.RetryDelay,
		Stabilization:     a.cfg.Remediation.Stabilization,
		ObservationWindow: a.cfg.Remediation.ObservationWindow,
	})
}

func (a *app) close() {
	if err := a.trail.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close audit trail")
	}
	if err := a.reports.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close report store")
	}
}
