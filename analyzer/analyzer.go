// Package analyzer compares declared infrastructure state against the
// live container inventory and produces severity-ranked drift reports.
package analyzer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/veerhq/veer/telemetry"
	"github.com/veerhq/veer/types"
)

// PlanCollector produces a change-plan from the planning tool.
type PlanCollector interface {
	Plan(ctx context.Context) (*types.PlanResult, error)
}

// InventoryCollector produces the live container-engine inventory.
type InventoryCollector interface {
	Snapshot(ctx context.Context) (*types.InventorySnapshot, error)
}

// CollectorError means a collector failed; no drift conclusion may be
// drawn from it.
type CollectorError struct {
	Collector string
	Err       error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("collector %s failed: %v", e.Collector, e.Err)
}

func (e *CollectorError) Unwrap() error { return e.Err }

// Analyzer runs detection cycles for one environment.
type Analyzer struct {
	plan        PlanCollector
	inventory   InventoryCollector
	topology    types.Topology
	environment string
	logger      *telemetry.Logger
}

// New creates an analyzer.
func New(environment string, plan PlanCollector, inventory InventoryCollector, topology types.Topology, logger *telemetry.Logger) *Analyzer {
	return &Analyzer{
		plan:        plan,
		inventory:   inventory,
		topology:    topology,
		environment: environment,
		logger:      logger,
	}
}

// Analyze collects current state and produces a DriftReport. When a
// collector fails the returned report carries drift_detected=false and
// the error is a *CollectorError: collector failure is never treated as
// "converged".
func (a *Analyzer) Analyze(ctx context.Context) (*types.DriftReport, error) {
	plan, err := a.plan.Plan(ctx)
	if err != nil {
		return a.collectorFailure(ctx, "plan", types.PlanError, err)
	}
	if plan.Outcome == types.PlanError {
		return a.collectorFailure(ctx, "plan", types.PlanError, fmt.Errorf("planning tool error: %s", plan.Stderr))
	}

	inventory, err := a.inventory.Snapshot(ctx)
	if err != nil {
		return a.collectorFailure(ctx, "inventory", plan.Outcome, err)
	}

	return a.Compare(plan, inventory), nil
}

// Compare is the pure analysis step over already-collected state. Two
// calls against the same inputs produce the same detail set.
func (a *Analyzer) Compare(plan *types.PlanResult, inventory *types.InventorySnapshot) *types.DriftReport {
	var details []types.DriftDetail

	details = append(details, a.planDetails(plan)...)
	details = append(details, a.countDetails(inventory)...)
	details = append(details, a.healthDetails(inventory)...)

	state := types.StateSnapshot{
		PlanOutcome:       plan.Outcome,
		ContainersRunning: len(inventory.Containers),
		Networks:          len(inventory.Networks),
		Volumes:           len(inventory.Volumes),
	}

	return types.NewDriftReport(a.environment, details, state)
}

// planDetails emits a single high-severity plan_change detail when the
// planning tool wants changes. Nothing else is fabricated from it.
func (a *Analyzer) planDetails(plan *types.PlanResult) []types.DriftDetail {
	if plan.Outcome != types.PlanChangesPending {
		return nil
	}
	return []types.DriftDetail{{
		Kind:     types.KindPlanChange,
		Severity: types.SeverityHigh,
		Subject:  "terraform",
		Expected: "no pending changes",
		Observed: "changes pending",
		Message:  plan.Summary,
	}}
}

// countDetails checks each declared service's instance count.
func (a *Analyzer) countDetails(inventory *types.InventorySnapshot) []types.DriftDetail {
	var details []types.DriftDetail
	for _, service := range a.topology.ServiceNames() {
		spec := a.topology[service]
		observed := inventory.CountService(service)
		if observed == spec.Count {
			continue
		}
		details = append(details, types.DriftDetail{
			Kind:     types.KindCountMismatch,
			Severity: types.SeverityMedium,
			Subject:  service,
			Expected: strconv.Itoa(spec.Count),
			Observed: strconv.Itoa(observed),
			Message:  fmt.Sprintf("%s instance count mismatch: expected %d, observed %d", service, spec.Count, observed),
		})
	}
	return details
}

// healthDetails checks per-container health probes. A container without
// a probe only drifts when its service declares one.
func (a *Analyzer) healthDetails(inventory *types.InventorySnapshot) []types.DriftDetail {
	var details []types.DriftDetail
	for _, container := range inventory.Containers {
		if container.Health == types.HealthNone {
			if !a.probeExpected(container) {
				continue
			}
			details = append(details, types.DriftDetail{
				Kind:     types.KindHealthMismatch,
				Severity: types.SeverityHigh,
				Subject:  container.Name,
				Expected: string(types.HealthHealthy),
				Observed: "probe absent",
				Message:  fmt.Sprintf("container %s declares no health probe but its service expects one", container.Name),
			})
			continue
		}
		if container.Health.IsHealthy() {
			continue
		}
		details = append(details, types.DriftDetail{
			Kind:     types.KindHealthMismatch,
			Severity: types.SeverityHigh,
			Subject:  container.Name,
			Expected: string(types.HealthHealthy),
			Observed: string(container.Health),
			Message:  fmt.Sprintf("container %s is %s", container.Name, container.Health),
		})
	}
	return details
}

func (a *Analyzer) probeExpected(container types.ContainerInfo) bool {
	for service, spec := range a.topology {
		if container.MatchesService(service) {
			return spec.HealthProbe
		}
	}
	return false
}

func (a *Analyzer) collectorFailure(ctx context.Context, collector string, outcome types.PlanOutcome, err error) (*types.DriftReport, error) {
	cerr := &CollectorError{Collector: collector, Err: err}
	if a.logger != nil {
		a.logger.LogCollectorFailure(ctx, collector, err)
	}
	report := types.NewDriftReport(a.environment, nil, types.StateSnapshot{PlanOutcome: outcome})
	return report, cerr
}
