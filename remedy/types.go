package remedy

import (
	"context"
	"fmt"
	"time"

	"github.com/veerhq/veer/types"
)

// RunState tracks where a remediation run is in its lifecycle. The
// engine records every transition on the RunResult as the run moves
// through analysis, approval, backup, application, and verification.
type RunState string

const (
	StateIdle             RunState = "idle"
	StateAnalyzing        RunState = "analyzing"
	StateAwaitingApproval RunState = "awaiting_approval"
	StateBackingUp        RunState = "backing_up"
	StateApplying         RunState = "applying"
	StateVerifying        RunState = "verifying"
)

// Outcome is the terminal classification of a run.
type Outcome string

const (
	// OutcomeConverged means verification found no remaining drift.
	OutcomeConverged Outcome = "converged"
	// OutcomePartiallyConverged means some but not all drift remains.
	// It is reported, never retried automatically within the same run.
	OutcomePartiallyConverged Outcome = "partially_converged"
	// OutcomeFailed means drift persisted or worsened, or an action
	// failed without recovery.
	OutcomeFailed Outcome = "failed"
)

// ActionKind is a closed set of corrective actions.
type ActionKind string

const (
	// ActionReapply re-applies the declared configuration.
	ActionReapply ActionKind = "reapply"
	// ActionScaleUp raises a service's declared scale target and
	// re-applies through the planning tool.
	ActionScaleUp ActionKind = "scale_up"
	// ActionScaleDown removes excess instances directly, bypassing the
	// planning tool.
	ActionScaleDown ActionKind = "scale_down"
	// ActionRestart restarts an unhealthy instance, escalating to
	// forced recreation if it stays unhealthy.
	ActionRestart ActionKind = "restart"
)

// Action is one corrective step in a remediation plan.
type Action struct {
	Kind             ActionKind        `json:"kind"`
	Detail           types.DriftDetail `json:"detail"`
	RequiresApproval bool              `json:"requires_approval"`
}

// Describe renders the action for approval prompts and summaries.
func (a Action) Describe() string {
	switch a.Kind {
	case ActionReapply:
		return "re-apply declared configuration"
	case ActionScaleUp:
		return fmt.Sprintf("scale %s up to %s instances", a.Detail.Subject, a.Detail.Expected)
	case ActionScaleDown:
		return fmt.Sprintf("remove excess %s instances down to %s", a.Detail.Subject, a.Detail.Expected)
	case ActionRestart:
		return fmt.Sprintf("restart unhealthy container %s", a.Detail.Subject)
	default:
		return string(a.Kind)
	}
}

// Plan is the ordered action list for one remediation run. Consumed
// once.
type Plan struct {
	Actions []Action `json:"actions"`
}

// ActionStatus is the recorded result of one action.
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
	// ActionSkipped means the operator declined; it does not count as
	// failure.
	ActionSkipped ActionStatus = "skipped"
)

// ActionResult records one executed (or skipped) action.
type ActionResult struct {
	Action    Action        `json:"action"`
	Status    ActionStatus  `json:"status"`
	Attempts  int           `json:"attempts"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// RunResult is everything a run produced, included in the final
// notification payload.
type RunResult struct {
	RunID       string `json:"run_id"`
	Environment string `json:"environment"`
	// State is the last lifecycle phase the run entered; Outcome is
	// the terminal classification once the run ends.
	State           RunState       `json:"state"`
	Outcome         Outcome        `json:"outcome"`
	BackupID        string         `json:"backup_id,omitempty"`
	OriginalIssues  int            `json:"original_issues"`
	RemainingIssues int            `json:"remaining_issues"`
	Actions         []ActionResult `json:"actions"`
	RolledBack      bool           `json:"rolled_back"`
	Summary         []string       `json:"summary"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at"`
}

// ActionError marks a single remediation action's failure. It is
// recorded and escalates the run toward Failed without aborting
// sibling actions.
type ActionError struct {
	Action Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s on %s failed: %v", e.Action.Kind, e.Action.Detail.Subject, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Approver is the injected approval capability. Implementations decide
// interactively or by policy; an operator interrupt during a prompt is
// reported as declined, not as an error.
type Approver interface {
	Approve(ctx context.Context, prompt string) (bool, error)
}

// AutoApprover approves everything; used in unattended mode.
type AutoApprover struct{}

func (AutoApprover) Approve(context.Context, string) (bool, error) { return true, nil }

// Options tune the engine.
type Options struct {
	// AutoApprove runs unattended: every action approved, no rollback
	// offer on failure.
	AutoApprove bool
	// RollbackOnFailure auto-invokes rollback after a Failed outcome
	// when running unattended.
	RollbackOnFailure bool
	MaxRetries        int
	RetryDelay        time.Duration
	// Stabilization is how long to wait after the last action before
	// re-running the analyzer.
	Stabilization time.Duration
	// ObservationWindow is how long a restarted container gets to turn
	// healthy before restart escalates to forced recreation.
	ObservationWindow time.Duration
}
