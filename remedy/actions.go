package remedy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/veerhq/veer/types"
)

// BuildPlan maps a report's drift details to an ordered action list.
// Plan-level drift is corrected first so count and health fixes act on
// the declared topology, not a stale one.
func BuildPlan(report *types.DriftReport, autoApprove bool) *Plan {
	plan := &Plan{}

	for _, detail := range report.DetailsOfKind(types.KindPlanChange) {
		plan.Actions = append(plan.Actions, Action{
			Kind:             ActionReapply,
			Detail:           detail,
			RequiresApproval: !autoApprove,
		})
	}

	for _, detail := range report.DetailsOfKind(types.KindCountMismatch) {
		kind := ActionScaleUp
		if observedCount(detail) > expectedCount(detail) {
			kind = ActionScaleDown
		}
		plan.Actions = append(plan.Actions, Action{
			Kind:             kind,
			Detail:           detail,
			RequiresApproval: !autoApprove,
		})
	}

	for _, detail := range report.DetailsOfKind(types.KindHealthMismatch) {
		plan.Actions = append(plan.Actions, Action{
			Kind:             ActionRestart,
			Detail:           detail,
			RequiresApproval: !autoApprove,
		})
	}

	return plan
}

func expectedCount(detail types.DriftDetail) int {
	n, _ := strconv.Atoi(detail.Expected)
	return n
}

func observedCount(detail types.DriftDetail) int {
	n, _ := strconv.Atoi(detail.Observed)
	return n
}

// execute runs one action once. Retrying is the engine's concern.
func (e *Engine) execute(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionReapply:
		return e.planner.Apply(ctx)
	case ActionScaleUp:
		return e.scaleUp(ctx, action)
	case ActionScaleDown:
		return e.scaleDown(ctx, action)
	case ActionRestart:
		return e.restartOrRecreate(ctx, action)
	default:
		return fmt.Errorf("unknown action kind: %s", action.Kind)
	}
}

// scaleUp moves the declared scale target and re-applies. The planning
// tool owns instance creation; veer never creates containers directly.
func (e *Engine) scaleUp(ctx context.Context, action Action) error {
	service := action.Detail.Subject
	spec, ok := e.topology[service]
	if !ok {
		return fmt.Errorf("no declared spec for service %s", service)
	}

	countVar := spec.CountVar
	if countVar == "" {
		countVar = service + "_count"
	}
	if err := e.planner.SetVar(countVar, action.Detail.Expected); err != nil {
		return fmt.Errorf("failed to set scale target: %w", err)
	}
	return e.planner.Apply(ctx)
}

// scaleDown removes instances beyond the expected count directly,
// bypassing the planning tool. Truncation is in name order, so the
// survivors are deterministic.
func (e *Engine) scaleDown(ctx context.Context, action Action) error {
	service := action.Detail.Subject
	expected := expectedCount(action.Detail)

	inventory, err := e.containers.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to list %s instances: %w", service, err)
	}

	instances := inventory.ServiceContainers(service)
	if len(instances) <= expected {
		return nil
	}

	for _, instance := range instances[expected:] {
		if err := e.containers.StopRemove(ctx, instance.Name); err != nil {
			return fmt.Errorf("failed to remove %s: %w", instance.Name, err)
		}
		e.logger.WithContext(ctx).Info().
			Str("container", instance.Name).
			Str("service", service).
			Msg("removed excess instance")
	}
	return nil
}

// restartOrRecreate restarts an unhealthy container, waits out the
// observation window, and escalates to forced recreation through the
// planning tool if the container is still not healthy.
func (e *Engine) restartOrRecreate(ctx context.Context, action Action) error {
	name := action.Detail.Subject

	if err := e.containers.Restart(ctx, name); err != nil {
		return fmt.Errorf("failed to restart %s: %w", name, err)
	}

	if err := sleepCtx(ctx, e.options.ObservationWindow); err != nil {
		return err
	}

	health, err := e.containers.InspectHealth(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check %s after restart: %w", name, err)
	}
	if health.IsHealthy() {
		return nil
	}

	e.logger.WithContext(ctx).Warn().
		Str("container", name).
		Str("health", string(health)).
		Msg("still unhealthy after restart, escalating to recreation")

	if address := e.taintAddress(name); address != "" {
		if err := e.planner.Taint(ctx, address); err != nil {
			return fmt.Errorf("failed to mark %s for replacement: %w", name, err)
		}
	}
	return e.planner.Apply(ctx)
}

// taintAddress resolves the planning-tool address for a container via
// its declared service. Empty when the service declares none; the
// escalation then re-applies without a forced replacement.
func (e *Engine) taintAddress(container string) string {
	for service, spec := range e.topology {
		if (types.ContainerInfo{Name: container}).MatchesService(service) {
			return spec.Address
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
