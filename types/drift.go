package types

import (
	"fmt"
	"time"
)

// DriftKind is a closed set of drift categories. Adding a kind requires
// updating the remediation action mapping as well.
type DriftKind string

const (
	// KindPlanChange means the planning tool reported pending changes.
	KindPlanChange DriftKind = "plan_change"
	// KindCountMismatch means observed instance count differs from the
	// declared count for a service.
	KindCountMismatch DriftKind = "count_mismatch"
	// KindHealthMismatch means a container's health probe reports a
	// non-healthy state, or an expected probe is absent.
	KindHealthMismatch DriftKind = "health_mismatch"
)

// Validate reports whether the kind is one of the defined categories.
func (k DriftKind) Validate() error {
	switch k {
	case KindPlanChange, KindCountMismatch, KindHealthMismatch:
		return nil
	default:
		return fmt.Errorf("unknown drift kind: %q", k)
	}
}

// Severity ranks how urgent a drift detail is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Validate reports whether the severity is one of the defined levels.
func (s Severity) Validate() error {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return nil
	default:
		return fmt.Errorf("unknown severity: %q", s)
	}
}

// DriftDetail describes a single discrepancy between declared and
// observed state. Immutable once created.
type DriftDetail struct {
	Kind     DriftKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Subject  string    `json:"subject"`
	Expected string    `json:"expected,omitempty"`
	Observed string    `json:"observed,omitempty"`
	Message  string    `json:"message"`
}

// Validate checks the detail carries a defined kind and severity.
func (d DriftDetail) Validate() error {
	if err := d.Kind.Validate(); err != nil {
		return err
	}
	if err := d.Severity.Validate(); err != nil {
		return err
	}
	if d.Subject == "" {
		return fmt.Errorf("drift detail subject cannot be empty")
	}
	return nil
}

// SeverityCounts summarizes drift details by severity.
type SeverityCounts struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// StateSnapshot captures the collector outputs the analysis ran against.
type StateSnapshot struct {
	PlanOutcome       PlanOutcome `json:"plan_outcome"`
	ContainersRunning int         `json:"containers_running"`
	Networks          int         `json:"networks"`
	Volumes           int         `json:"volumes"`
}

// DriftReport is the record of one detection cycle. It is created once,
// appended to the report log, and never mutated; a newer report
// supersedes it.
type DriftReport struct {
	Timestamp     time.Time     `json:"timestamp"`
	Environment   string        `json:"environment"`
	DriftDetected bool          `json:"drift_detected"`
	Details       []DriftDetail `json:"drift_details"`
	State         StateSnapshot `json:"infrastructure_state"`
}

// NewDriftReport builds a report from analysis output. DriftDetected is
// derived from the detail list, never set independently.
func NewDriftReport(environment string, details []DriftDetail, state StateSnapshot) *DriftReport {
	return &DriftReport{
		Timestamp:     time.Now().UTC(),
		Environment:   environment,
		DriftDetected: len(details) > 0,
		Details:       details,
		State:         state,
	}
}

// Summary derives severity counts from the detail list.
func (r *DriftReport) Summary() SeverityCounts {
	counts := SeverityCounts{Total: len(r.Details)}
	for _, d := range r.Details {
		switch d.Severity {
		case SeverityHigh:
			counts.High++
		case SeverityMedium:
			counts.Medium++
		case SeverityLow:
			counts.Low++
		}
	}
	return counts
}

// DetailsOfKind returns the details matching a kind, preserving order.
func (r *DriftReport) DetailsOfKind(kind DriftKind) []DriftDetail {
	var out []DriftDetail
	for _, d := range r.Details {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Validate checks report invariants: drift_detected matches the detail
// list and every detail is well formed.
func (r *DriftReport) Validate() error {
	if r.DriftDetected != (len(r.Details) > 0) {
		return fmt.Errorf("drift_detected=%v inconsistent with %d details", r.DriftDetected, len(r.Details))
	}
	for i, d := range r.Details {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("detail %d: %w", i, err)
		}
	}
	return nil
}
