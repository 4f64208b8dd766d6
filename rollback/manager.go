// Package rollback builds and executes ordered restoration plans from
// backups. Execution is strictly ordered and fail-fast; the partial log
// is persisted whatever happens.
package rollback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/veerhq/veer/backup"
	"github.com/veerhq/veer/lockfile"
	"github.com/veerhq/veer/telemetry"
	"github.com/veerhq/veer/types"
	"github.com/veerhq/veer/wal"
)

// ErrNoBackups means no backup exists to roll back to.
var ErrNoBackups = errors.New("no backups available")

// Engine is the container-engine surface rollback needs.
type Engine interface {
	StopEnvironment(ctx context.Context) (int, error)
	EnsureVolume(ctx context.Context, name string) error
	RestoreVolume(ctx context.Context, volume, archivePath string) error
}

// Planner applies the restored declared configuration.
type Planner interface {
	Apply(ctx context.Context) error
}

// Analyst re-runs drift analysis for the verify step.
type Analyst interface {
	Analyze(ctx context.Context) (*types.DriftReport, error)
}

// Manager restores environments from backups.
type Manager struct {
	environment string
	stateFile   string
	logDir      string
	lockDir     string
	helperImage string
	backups     *backup.Manager
	engine      Engine
	planner     Planner
	analyst     Analyst
	trail       *wal.WAL
	logger      *telemetry.Logger
}

// Deps are the manager's collaborators.
type Deps struct {
	Environment string
	StateFile   string
	LogDir      string
	LockDir     string
	HelperImage string
	Backups     *backup.Manager
	Engine      Engine
	Planner     Planner
	Analyst     Analyst
	Trail       *wal.WAL
	Logger      *telemetry.Logger
}

// NewManager creates a rollback manager.
func NewManager(deps Deps) *Manager {
	return &Manager{
		environment: deps.Environment,
		stateFile:   deps.StateFile,
		logDir:      deps.LogDir,
		lockDir:     deps.LockDir,
		helperImage: deps.HelperImage,
		backups:     deps.Backups,
		engine:      deps.Engine,
		planner:     deps.Planner,
		analyst:     deps.Analyst,
		trail:       deps.Trail,
		logger:      deps.Logger,
	}
}

// ListBackups enumerates restorable backups, newest first.
func (m *Manager) ListBackups() ([]backup.Backup, error) {
	return m.backups.List()
}

// BuildPlan inspects a backup and derives the restoration steps that
// apply to it. An empty id means the newest backup. The backup must be
// structurally complete before any step may execute: the state-file
// presence recorded in the layout has to match what is on disk.
func (m *Manager) BuildPlan(backupID string) (*Plan, error) {
	b, err := m.resolveBackup(backupID)
	if err != nil {
		return nil, err
	}

	if err := m.checkComplete(b); err != nil {
		return nil, err
	}

	plan := &Plan{
		BackupID:   b.ID,
		BackupPath: b.Path,
		CreatedAt:  time.Now().UTC(),
	}

	add := func(kind StepKind, description, volume, command string) {
		plan.Steps = append(plan.Steps, Step{
			Order:       len(plan.Steps) + 1,
			Kind:        kind,
			Description: description,
			Volume:      volume,
			Command:     command,
		})
	}

	add(StepStopWorkloads, "stop running workloads for "+m.environment, "",
		fmt.Sprintf("docker stop $(docker ps -q --filter label=environment=%s)", m.environment))

	if b.HasStateFile {
		add(StepRestoreStateFile, "restore planning-tool state file", "",
			fmt.Sprintf("cp %s %s", b.StateFilePath(), m.stateFile))
	}

	for _, volume := range b.VolumeArchives {
		add(StepRestoreVolume, "restore volume "+volume, volume,
			fmt.Sprintf("docker run --rm -v %s:/target -v %s:/backup:ro %s sh -c 'cd /target && rm -rf ./* && tar xzf /backup/%s.tar.gz'",
				volume, b.Path, m.helperImage, volume))
	}

	if b.HasStateFile {
		add(StepReapply, "apply restored configuration", "",
			"terraform apply -auto-approve")
	}

	add(StepVerify, "verify rollback via drift detection", "", "")

	return plan, nil
}

func (m *Manager) resolveBackup(backupID string) (*backup.Backup, error) {
	if backupID != "" {
		return m.backups.Inspect(backupID)
	}
	backups, err := m.backups.List()
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, ErrNoBackups
	}
	return &backups[0], nil
}

// checkComplete validates the backup's structural integrity.
func (m *Manager) checkComplete(b *backup.Backup) error {
	if b.HasStateFile {
		if _, err := os.Stat(b.StateFilePath()); err != nil {
			return fmt.Errorf("backup %s claims a state file but it is unreadable: %w", b.ID, err)
		}
	}
	for _, volume := range b.VolumeArchives {
		if _, err := os.Stat(b.ArchivePath(volume)); err != nil {
			return fmt.Errorf("backup %s volume archive %s is unreadable: %w", b.ID, volume, err)
		}
	}
	return nil
}

// Execute runs the plan. With dryRun set it only resolves and returns
// the step list; nothing executes. Otherwise the per-environment lock
// is taken first, then steps run in order, fail-fast, with the partial
// log persisted on the way out.
func (m *Manager) Execute(ctx context.Context, plan *Plan, dryRun bool) (*Log, error) {
	if dryRun {
		now := time.Now().UTC()
		return &Log{
			RunID:     uuid.NewString(),
			BackupID:  plan.BackupID,
			StartedAt: now,
			EndedAt:   now,
			Success:   true,
		}, nil
	}

	// The state file and backup directory are shared with remediation:
	// exactly one mutating run per environment.
	lock, err := lockfile.Acquire(m.lockDir, m.environment)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	return m.run(ctx, plan)
}

// run executes the plan steps. The caller holds the environment lock.
func (m *Manager) run(ctx context.Context, plan *Plan) (*Log, error) {
	log := &Log{
		RunID:     uuid.NewString(),
		BackupID:  plan.BackupID,
		StartedAt: time.Now().UTC(),
	}

	defer func() {
		log.EndedAt = time.Now().UTC()
		m.persistLog(log)
		_ = m.trail.Append(wal.EntryRollbackDone, plan.BackupID, log)
	}()

	for _, step := range plan.Steps {
		record := StepRecord{Order: step.Order, Kind: step.Kind, Timestamp: time.Now().UTC()}

		err := m.runStep(ctx, plan, step, log)
		if err != nil {
			record.Error = err.Error()
			log.Steps = append(log.Steps, record)
			_ = m.trail.AppendError(wal.EntryRollbackStep, plan.BackupID, step, err)
			m.logger.WithContext(ctx).Error().
				Err(err).
				Int("step", step.Order).
				Str("kind", string(step.Kind)).
				Msg("rollback step failed, aborting remaining steps")
			return log, &StepError{Step: step, Err: err}
		}

		record.Success = true
		log.Steps = append(log.Steps, record)
		_ = m.trail.Append(wal.EntryRollbackStep, plan.BackupID, record)
	}

	log.Success = true
	return log, nil
}

func (m *Manager) runStep(ctx context.Context, plan *Plan, step Step, log *Log) error {
	switch step.Kind {
	case StepStopWorkloads:
		stopped, err := m.engine.StopEnvironment(ctx)
		if err != nil {
			return err
		}
		m.logger.WithContext(ctx).Info().Int("stopped", stopped).Msg("workloads stopped")
		return nil
	case StepRestoreStateFile:
		return m.restoreStateFile(plan)
	case StepRestoreVolume:
		return m.restoreVolume(ctx, plan, step.Volume)
	case StepReapply:
		return m.planner.Apply(ctx)
	case StepVerify:
		return m.verify(ctx, log)
	default:
		return fmt.Errorf("unknown step kind: %s", step.Kind)
	}
}

// restoreStateFile overwrites the live state file with the backup copy.
// The current file is preserved at <name>.rollback-backup first so the
// rollback can itself be undone.
func (m *Manager) restoreStateFile(plan *Plan) error {
	source := filepath.Join(plan.BackupPath, "terraform.tfstate")

	if _, err := os.Stat(m.stateFile); err == nil {
		if err := copyFile(m.stateFile, m.stateFile+".rollback-backup"); err != nil {
			return fmt.Errorf("failed to preserve current state file: %w", err)
		}
	}

	if err := copyFile(source, m.stateFile); err != nil {
		return fmt.Errorf("failed to restore state file: %w", err)
	}
	return nil
}

func (m *Manager) restoreVolume(ctx context.Context, plan *Plan, volume string) error {
	if err := m.engine.EnsureVolume(ctx, volume); err != nil {
		return fmt.Errorf("failed to ensure volume %s: %w", volume, err)
	}
	archive := filepath.Join(plan.BackupPath, volume+".tar.gz")
	return m.engine.RestoreVolume(ctx, volume, archive)
}

// verify re-runs drift analysis. Remaining drift marks the rollback
// unverified; it is not a failure of the restore steps themselves.
func (m *Manager) verify(ctx context.Context, log *Log) error {
	report, err := m.analyst.Analyze(ctx)
	if err != nil {
		log.Unverified = true
		m.logger.WithContext(ctx).Warn().Err(err).Msg("rollback verification could not run")
		return nil
	}
	if report.DriftDetected {
		log.Unverified = true
		m.logger.WithContext(ctx).Warn().
			Int("remaining", len(report.Details)).
			Msg("rollback verification still shows drift")
	}
	return nil
}

// RollbackTo is the quick path used when a failed remediation restores
// its own backup: build the plan and execute it. The remediation run
// still holds the environment lock, so no second acquisition happens
// here.
func (m *Manager) RollbackTo(ctx context.Context, backupID string) error {
	plan, err := m.BuildPlan(backupID)
	if err != nil {
		return err
	}
	_, err = m.run(ctx, plan)
	return err
}

func (m *Manager) persistLog(log *Log) {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(m.logDir, fmt.Sprintf("rollback-%s.json", log.StartedAt.Format("20060102_150405")))
	if err := os.MkdirAll(m.logDir, 0o755); err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil && m.logger != nil {
		m.logger.Warn().Err(err).Msg("failed to persist rollback log")
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- paths derived from config and backup layout
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) // #nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
