package remedy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerhq/veer/types"
)

func TestBuildPlan_Mapping(t *testing.T) {
	report := driftedReport(
		healthDetail("web-2"),
		countDetail("web", "3", "5"),
		countDetail("worker", "2", "1"),
		types.DriftDetail{
			Kind: types.KindPlanChange, Severity: types.SeverityHigh,
			Subject: "terraform", Message: "1 to add",
		},
	)

	plan := BuildPlan(report, false)
	require.Len(t, plan.Actions, 4)

	// Plan-level drift is corrected first, then counts, then health.
	assert.Equal(t, ActionReapply, plan.Actions[0].Kind)
	assert.Equal(t, ActionScaleDown, plan.Actions[1].Kind)
	assert.Equal(t, "web", plan.Actions[1].Detail.Subject)
	assert.Equal(t, ActionScaleUp, plan.Actions[2].Kind)
	assert.Equal(t, "worker", plan.Actions[2].Detail.Subject)
	assert.Equal(t, ActionRestart, plan.Actions[3].Kind)
	assert.Equal(t, "web-2", plan.Actions[3].Detail.Subject)

	for _, action := range plan.Actions {
		assert.True(t, action.RequiresApproval)
	}
}

func TestBuildPlan_AutoApproveSkipsGates(t *testing.T) {
	plan := BuildPlan(driftedReport(countDetail("web", "3", "2")), true)
	require.Len(t, plan.Actions, 1)
	assert.False(t, plan.Actions[0].RequiresApproval)
}

func TestScaleDown_RemovesHighestNamesFirst(t *testing.T) {
	f := newFixture(t)
	f.containers.snapshot = &types.InventorySnapshot{
		Containers: []types.ContainerInfo{
			{Name: "web-3", Health: types.HealthHealthy},
			{Name: "web-1", Health: types.HealthHealthy},
			{Name: "web-2", Health: types.HealthHealthy},
			{Name: "db-1", Health: types.HealthHealthy},
		},
	}
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	err := eng.execute(context.Background(), Action{
		Kind:   ActionScaleDown,
		Detail: countDetail("web", "2", "3"),
	})
	require.NoError(t, err)

	// Survivors are the lowest names; db is untouched.
	assert.Equal(t, []string{"web-3"}, f.containers.removed)
}

func TestScaleDown_NothingExcess(t *testing.T) {
	f := newFixture(t)
	f.containers.snapshot = &types.InventorySnapshot{
		Containers: []types.ContainerInfo{{Name: "web-1"}},
	}
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	err := eng.execute(context.Background(), Action{
		Kind:   ActionScaleDown,
		Detail: countDetail("web", "2", "1"),
	})
	require.NoError(t, err)
	assert.Empty(t, f.containers.removed)
}

func TestScaleUp_DefaultCountVar(t *testing.T) {
	f := newFixture(t)
	f.deps.Topology = types.Topology{"worker": {Count: 2}}
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	err := eng.execute(context.Background(), Action{
		Kind:   ActionScaleUp,
		Detail: countDetail("worker", "2", "1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "2", f.planner.vars["worker_count"])
	assert.Equal(t, 1, f.planner.applyCalls)
}

func TestScaleUp_UndeclaredService(t *testing.T) {
	f := newFixture(t)
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	err := eng.execute(context.Background(), Action{
		Kind:   ActionScaleUp,
		Detail: countDetail("ghost", "2", "1"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no declared spec")
}

func TestRestart_HealthyAfterRestartStops(t *testing.T) {
	f := newFixture(t)
	f.containers.health = types.HealthHealthy
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	err := eng.execute(context.Background(), Action{
		Kind:   ActionRestart,
		Detail: healthDetail("web-2"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"web-2"}, f.containers.restarts)
	assert.Empty(t, f.planner.taints, "healthy restart must not escalate")
	assert.Equal(t, 0, f.planner.applyCalls)
}

func TestRestart_EscalatesToRecreation(t *testing.T) {
	f := newFixture(t)
	f.containers.health = types.HealthUnhealthy
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	err := eng.execute(context.Background(), Action{
		Kind:   ActionRestart,
		Detail: healthDetail("web-2"),
	})
	require.NoError(t, err)

	// Still unhealthy: mark for replacement and apply.
	assert.Equal(t, []string{"docker_container.web"}, f.planner.taints)
	assert.Equal(t, 1, f.planner.applyCalls)
}

func TestRestart_NoAddressStillReapplies(t *testing.T) {
	f := newFixture(t)
	f.deps.Topology = types.Topology{"web": {Count: 3, HealthProbe: true}}
	f.containers.health = types.HealthUnhealthy
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	err := eng.execute(context.Background(), Action{
		Kind:   ActionRestart,
		Detail: healthDetail("web-2"),
	})
	require.NoError(t, err)

	assert.Empty(t, f.planner.taints)
	assert.Equal(t, 1, f.planner.applyCalls)
}

func TestAction_Describe(t *testing.T) {
	action := Action{Kind: ActionScaleUp, Detail: countDetail("web", "3", "2")}
	desc := action.Describe()
	assert.Contains(t, desc, "web")
}
