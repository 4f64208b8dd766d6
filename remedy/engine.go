// Package remedy drives the bounded remediation workflow: backup,
// corrective actions with approval gates and bounded retries, a
// verification pass, and a rollback offer when verification fails.
package remedy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veerhq/veer/backup"
	"github.com/veerhq/veer/lockfile"
	"github.com/veerhq/veer/telemetry"
	"github.com/veerhq/veer/types"
	"github.com/veerhq/veer/wal"
)

// Planner is the planning-tool surface the engine needs.
type Planner interface {
	Apply(ctx context.Context) error
	Taint(ctx context.Context, address string) error
	SetVar(name, value string) error
}

// Containers is the container-engine surface the engine needs.
type Containers interface {
	Snapshot(ctx context.Context) (*types.InventorySnapshot, error)
	Restart(ctx context.Context, name string) error
	StopRemove(ctx context.Context, name string) error
	InspectHealth(ctx context.Context, name string) (types.HealthState, error)
}

// Analyst re-runs drift analysis for the verification loop.
type Analyst interface {
	Analyze(ctx context.Context) (*types.DriftReport, error)
}

// BackupCreator snapshots mutable state before any action runs.
type BackupCreator interface {
	Create(ctx context.Context) (*backup.Backup, error)
}

// Rollbacker restores a backup. Wired to the rollback manager.
type Rollbacker interface {
	RollbackTo(ctx context.Context, backupID string) error
}

// Engine runs the remediation state machine for one environment.
type Engine struct {
	environment string
	lockDir     string
	planner     Planner
	containers  Containers
	analyst     Analyst
	backups     BackupCreator
	rollbacker  Rollbacker
	approver    Approver
	topology    types.Topology
	trail       *wal.WAL
	logger      *telemetry.Logger
	options     Options
}

// Deps are the engine's collaborators.
type Deps struct {
	Environment string
	LockDir     string
	Planner     Planner
	Containers  Containers
	Analyst     Analyst
	Backups     BackupCreator
	Rollbacker  Rollbacker
	Approver    Approver
	Topology    types.Topology
	Trail       *wal.WAL
	Logger      *telemetry.Logger
}

// NewEngine creates a remediation engine.
func NewEngine(deps Deps, options Options) *Engine {
	approver := deps.Approver
	if options.AutoApprove || approver == nil {
		approver = AutoApprover{}
	}
	return &Engine{
		environment: deps.Environment,
		lockDir:     deps.LockDir,
		planner:     deps.Planner,
		containers:  deps.Containers,
		analyst:     deps.Analyst,
		backups:     deps.Backups,
		rollbacker:  deps.Rollbacker,
		approver:    approver,
		topology:    deps.Topology,
		trail:       deps.Trail,
		logger:      deps.Logger,
		options:     options,
	}
}

// Run executes one remediation run against a report. A nil report makes
// the engine run its own detection first; callers that just detected
// drift pass their report explicitly so there is a single source of
// truth.
func (e *Engine) Run(ctx context.Context, report *types.DriftReport) (*RunResult, error) {
	result := &RunResult{
		RunID:       uuid.NewString(),
		Environment: e.environment,
		State:       StateIdle,
		StartedAt:   time.Now().UTC(),
	}
	defer func() { result.EndedAt = time.Now().UTC() }()

	e.setState(ctx, result, StateAnalyzing)
	report, err := e.analyze(ctx, report)
	if err != nil {
		return nil, err
	}

	if !report.DriftDetected {
		result.Outcome = OutcomeConverged
		result.Summary = append(result.Summary, "no drift detected, remediation not needed")
		return result, nil
	}
	result.OriginalIssues = len(report.Details)

	// The state file and backup directory are shared: exactly one
	// mutating run per environment.
	lock, err := lockfile.Acquire(e.lockDir, e.environment)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	e.setState(ctx, result, StateBackingUp)
	if err := e.backUp(ctx, result); err != nil {
		return nil, err
	}

	plan := BuildPlan(report, e.options.AutoApprove)
	e.setState(ctx, result, StateApplying)
	e.runActions(ctx, plan, result)

	e.setState(ctx, result, StateVerifying)
	remaining, verr := e.verify(ctx, result)
	result.RemainingIssues = remaining
	result.Outcome = e.classify(result, verr)

	e.logOutcome(ctx, result)

	if e.shouldOfferRollback(result, verr) {
		e.offerRollback(ctx, result)
	}

	return result, nil
}

// setState records a lifecycle transition on the result.
func (e *Engine) setState(ctx context.Context, result *RunResult, state RunState) {
	if result.State == state {
		return
	}
	result.State = state
	e.logger.WithContext(ctx).Debug().
		Str("run_id", result.RunID).
		Str("state", string(state)).
		Msg("run state changed")
}

func (e *Engine) analyze(ctx context.Context, report *types.DriftReport) (*types.DriftReport, error) {
	if report != nil {
		return report, nil
	}
	report, err := e.analyst.Analyze(ctx)
	if err != nil {
		return nil, fmt.Errorf("drift analysis failed: %w", err)
	}
	return report, nil
}

// backUp creates the run's backup synchronously. Remediation never
// proceeds without one.
func (e *Engine) backUp(ctx context.Context, result *RunResult) error {
	b, err := e.backups.Create(ctx)
	if err != nil {
		return fmt.Errorf("backup failed, refusing to remediate: %w", err)
	}
	result.BackupID = b.ID
	result.Summary = append(result.Summary, fmt.Sprintf("backup created: %s", b.ID))
	if len(b.MissingArtifacts) > 0 {
		result.Summary = append(result.Summary, fmt.Sprintf("backup is partial, missing: %v", b.MissingArtifacts))
	}
	return nil
}

// runActions executes the plan. A failed action is recorded and its
// siblings still run; a declined action is recorded as skipped.
func (e *Engine) runActions(ctx context.Context, plan *Plan, result *RunResult) {
	for _, action := range plan.Actions {
		result.Actions = append(result.Actions, e.runAction(ctx, result, action))
	}
}

func (e *Engine) runAction(ctx context.Context, result *RunResult, action Action) ActionResult {
	ar := ActionResult{Action: action, StartedAt: time.Now().UTC()}
	defer func() { ar.Duration = time.Since(ar.StartedAt) }()

	if action.RequiresApproval {
		e.setState(ctx, result, StateAwaitingApproval)
		approved, err := e.approver.Approve(ctx, action.Describe()+"?")
		e.setState(ctx, result, StateApplying)
		if err != nil || !approved {
			ar.Status = ActionSkipped
			_ = e.trail.Append(wal.EntryActionSkipped, action.Detail.Subject, action)
			e.logger.WithContext(ctx).Info().
				Str("action", string(action.Kind)).
				Str("subject", action.Detail.Subject).
				Msg("action declined, recorded as skipped")
			return ar
		}
	}

	_ = e.trail.Append(wal.EntryActionStart, action.Detail.Subject, action)

	err := e.executeWithRetry(ctx, action, &ar)
	if err != nil {
		ar.Status = ActionFailed
		ar.Error = err.Error()
		_ = e.trail.AppendError(wal.EntryActionFailed, action.Detail.Subject, action, err)
		e.logger.LogActionResult(ctx, string(action.Kind), action.Detail.Subject, err)
		return ar
	}

	ar.Status = ActionSucceeded
	_ = e.trail.Append(wal.EntryActionDone, action.Detail.Subject, ar)
	e.logger.LogActionResult(ctx, string(action.Kind), action.Detail.Subject, nil)
	return ar
}

func (e *Engine) executeWithRetry(ctx context.Context, action Action, ar *ActionResult) error {
	attempts := e.options.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ar.Attempts = attempt
		lastErr = e.execute(ctx, action)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			e.logger.WithContext(ctx).Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Str("action", string(action.Kind)).
				Msg("action failed, retrying")
			if err := sleepCtx(ctx, e.options.RetryDelay); err != nil {
				break
			}
		}
	}
	return &ActionError{Action: action, Err: lastErr}
}

// verify waits out the stabilization interval and re-runs the analyzer.
func (e *Engine) verify(ctx context.Context, result *RunResult) (int, error) {
	if err := sleepCtx(ctx, e.options.Stabilization); err != nil {
		return result.OriginalIssues, err
	}

	report, err := e.analyst.Analyze(ctx)
	if err != nil {
		// A failed verification collector draws no convergence
		// conclusion; the run cannot be called converged.
		_ = e.trail.AppendError(wal.EntryVerified, e.environment, nil, err)
		return result.OriginalIssues, fmt.Errorf("verification failed: %w", err)
	}

	_ = e.trail.Append(wal.EntryVerified, e.environment, report.Summary())
	return len(report.Details), nil
}

// classify applies the outcome rule: zero remaining means converged,
// fewer than original means partial, equal or more means failed.
func (e *Engine) classify(result *RunResult, verr error) Outcome {
	if verr != nil {
		result.Summary = append(result.Summary, "verification could not complete: "+verr.Error())
		return OutcomeFailed
	}
	switch {
	case result.RemainingIssues == 0:
		return OutcomeConverged
	case result.RemainingIssues < result.OriginalIssues:
		return OutcomePartiallyConverged
	default:
		return OutcomeFailed
	}
}

func (e *Engine) anyActionFailed(result *RunResult) bool {
	for _, ar := range result.Actions {
		if ar.Status == ActionFailed {
			return true
		}
	}
	return false
}

func (e *Engine) shouldOfferRollback(result *RunResult, verr error) bool {
	if result.BackupID == "" || e.rollbacker == nil {
		return false
	}
	return result.Outcome == OutcomeFailed || e.anyActionFailed(result) || verr != nil
}

// offerRollback asks the operator (or the unattended policy) whether to
// restore the run's backup. Declining leaves the infrastructure in its
// current state with a Failed result.
func (e *Engine) offerRollback(ctx context.Context, result *RunResult) {
	var proceed bool
	if e.options.AutoApprove {
		proceed = e.options.RollbackOnFailure
	} else {
		approved, err := e.approver.Approve(ctx, fmt.Sprintf("remediation failed; roll back to backup %s?", result.BackupID))
		proceed = err == nil && approved
	}

	if !proceed {
		result.Summary = append(result.Summary, "rollback declined, infrastructure left as-is")
		return
	}

	if err := e.rollbacker.RollbackTo(ctx, result.BackupID); err != nil {
		result.Summary = append(result.Summary, "rollback failed: "+err.Error())
		e.logger.WithContext(ctx).Error().Err(err).Str("backup", result.BackupID).Msg("rollback failed")
		return
	}
	result.RolledBack = true
	result.Summary = append(result.Summary, "rolled back to backup "+result.BackupID)
}

func (e *Engine) logOutcome(ctx context.Context, result *RunResult) {
	succeeded, failed, skipped := 0, 0, 0
	for _, ar := range result.Actions {
		switch ar.Status {
		case ActionSucceeded:
			succeeded++
		case ActionFailed:
			failed++
		case ActionSkipped:
			skipped++
		}
	}
	result.Summary = append(result.Summary, fmt.Sprintf(
		"%d actions: %d succeeded, %d failed, %d skipped; %d of %d issues remain",
		len(result.Actions), succeeded, failed, skipped, result.RemainingIssues, result.OriginalIssues))

	e.logger.WithContext(ctx).Info().
		Str("run_id", result.RunID).
		Str("outcome", string(result.Outcome)).
		Int("original_issues", result.OriginalIssues).
		Int("remaining_issues", result.RemainingIssues).
		Msg("remediation run complete")
}

// IsLockHeld reports whether err is the environment-lock conflict.
func IsLockHeld(err error) bool {
	return errors.Is(err, lockfile.ErrHeld)
}
