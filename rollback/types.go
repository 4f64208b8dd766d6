package rollback

import (
	"fmt"
	"time"
)

// StepKind is a closed set of restoration step types.
type StepKind string

const (
	StepStopWorkloads    StepKind = "stop_workloads"
	StepRestoreStateFile StepKind = "restore_state_file"
	StepRestoreVolume    StepKind = "restore_volume"
	StepReapply          StepKind = "reapply"
	StepVerify           StepKind = "verify_rollback"
)

// Step is one restoration action. Steps are idempotent and can be
// retried by re-running the plan.
type Step struct {
	Order       int      `json:"order"`
	Kind        StepKind `json:"kind"`
	Description string   `json:"description"`
	// Volume is set for restore_volume steps.
	Volume string `json:"volume,omitempty"`
	// Command renders what the step will run, for dry-run review.
	Command string `json:"command,omitempty"`
}

// Plan is the ordered restoration list built from one backup. Consumed
// once.
type Plan struct {
	BackupID   string    `json:"backup_id"`
	BackupPath string    `json:"backup_path"`
	CreatedAt  time.Time `json:"created_at"`
	Steps      []Step    `json:"steps"`
}

// StepRecord is the logged result of one executed step.
type StepRecord struct {
	Order     int       `json:"order"`
	Kind      StepKind  `json:"kind"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Log records a rollback execution, partial or complete. It is
// persisted even when execution stops early.
type Log struct {
	RunID     string       `json:"run_id"`
	BackupID  string       `json:"backup_id"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Steps     []StepRecord `json:"steps"`
	Success   bool         `json:"success"`
	// Unverified means restoration succeeded but the post-rollback
	// drift check still found discrepancies. Logged, not a failure of
	// the restore steps themselves.
	Unverified bool `json:"unverified,omitempty"`
}

// StepError marks a restoration step failure. Execution is fail-fast:
// the first StepError aborts the remaining steps.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("rollback step %d (%s) failed: %v", e.Step.Order, e.Step.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
