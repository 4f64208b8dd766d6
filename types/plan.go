package types

// PlanOutcome classifies the planning tool's detailed exit status.
type PlanOutcome string

const (
	// PlanNoChanges means declared and recorded state agree (exit 0).
	PlanNoChanges PlanOutcome = "no_changes"
	// PlanChangesPending means the tool wants to make changes (exit 2).
	PlanChangesPending PlanOutcome = "changes_pending"
	// PlanError means the tool itself failed (exit 1). An error outcome
	// is a collector failure, never a drift conclusion.
	PlanError PlanOutcome = "error"
)

// PlanOutcomeFromExitCode maps terraform's -detailed-exitcode contract.
func PlanOutcomeFromExitCode(code int) PlanOutcome {
	switch code {
	case 0:
		return PlanNoChanges
	case 2:
		return PlanChangesPending
	default:
		return PlanError
	}
}

// PlanResult carries the raw change-plan output alongside its outcome.
type PlanResult struct {
	Outcome PlanOutcome `json:"outcome"`
	Summary string      `json:"summary,omitempty"`
	Stderr  string      `json:"stderr,omitempty"`
}
