package remedy

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerhq/veer/backup"
	"github.com/veerhq/veer/lockfile"
	"github.com/veerhq/veer/telemetry"
	"github.com/veerhq/veer/types"
	"github.com/veerhq/veer/wal"
)

type mockPlanner struct {
	applyErrs  []error
	applyCalls int
	taints     []string
	vars       map[string]string
}

func (m *mockPlanner) Apply(ctx context.Context) error {
	m.applyCalls++
	if len(m.applyErrs) > 0 {
		err := m.applyErrs[0]
		m.applyErrs = m.applyErrs[1:]
		return err
	}
	return nil
}

func (m *mockPlanner) Taint(ctx context.Context, address string) error {
	m.taints = append(m.taints, address)
	return nil
}

func (m *mockPlanner) SetVar(name, value string) error {
	if m.vars == nil {
		m.vars = make(map[string]string)
	}
	m.vars[name] = value
	return nil
}

type mockContainers struct {
	snapshot   *types.InventorySnapshot
	restarts   []string
	removed    []string
	health     types.HealthState
	restartErr error
}

func (m *mockContainers) Snapshot(ctx context.Context) (*types.InventorySnapshot, error) {
	return m.snapshot, nil
}

func (m *mockContainers) Restart(ctx context.Context, name string) error {
	m.restarts = append(m.restarts, name)
	return m.restartErr
}

func (m *mockContainers) StopRemove(ctx context.Context, name string) error {
	m.removed = append(m.removed, name)
	return nil
}

func (m *mockContainers) InspectHealth(ctx context.Context, name string) (types.HealthState, error) {
	return m.health, nil
}

// mockAnalyst replays reports in order; the last one repeats.
type mockAnalyst struct {
	reports []*types.DriftReport
	errs    []error
}

func (m *mockAnalyst) Analyze(ctx context.Context) (*types.DriftReport, error) {
	var report *types.DriftReport
	var err error
	if len(m.reports) > 0 {
		report = m.reports[0]
		if len(m.reports) > 1 {
			m.reports = m.reports[1:]
		}
	}
	if len(m.errs) > 0 {
		err = m.errs[0]
		if len(m.errs) > 1 {
			m.errs = m.errs[1:]
		}
	}
	return report, err
}

type mockBackups struct {
	backup *backup.Backup
	err    error
	calls  int
}

func (m *mockBackups) Create(ctx context.Context) (*backup.Backup, error) {
	m.calls++
	return m.backup, m.err
}

type mockRollbacker struct {
	calls []string
	err   error
}

func (m *mockRollbacker) RollbackTo(ctx context.Context, backupID string) error {
	m.calls = append(m.calls, backupID)
	return m.err
}

// scriptApprover answers prompts from a queue; exhausted means decline.
type scriptApprover struct {
	answers []bool
	prompts []string
}

func (s *scriptApprover) Approve(ctx context.Context, prompt string) (bool, error) {
	s.prompts = append(s.prompts, prompt)
	if len(s.answers) == 0 {
		return false, nil
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

func driftedReport(details ...types.DriftDetail) *types.DriftReport {
	return types.NewDriftReport("dev", details, types.StateSnapshot{PlanOutcome: types.PlanNoChanges})
}

func cleanReport() *types.DriftReport {
	return types.NewDriftReport("dev", nil, types.StateSnapshot{PlanOutcome: types.PlanNoChanges})
}

func countDetail(service string, expected, observed string) types.DriftDetail {
	return types.DriftDetail{
		Kind: types.KindCountMismatch, Severity: types.SeverityMedium,
		Subject: service, Expected: expected, Observed: observed,
		Message: service + " count mismatch",
	}
}

func healthDetail(container string) types.DriftDetail {
	return types.DriftDetail{
		Kind: types.KindHealthMismatch, Severity: types.SeverityHigh,
		Subject: container, Expected: "healthy", Observed: "unhealthy",
		Message: container + " is unhealthy",
	}
}

type engineFixture struct {
	planner    *mockPlanner
	containers *mockContainers
	analyst    *mockAnalyst
	backups    *mockBackups
	rollbacker *mockRollbacker
	deps       Deps
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	trail, err := wal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })

	f := &engineFixture{
		planner:    &mockPlanner{},
		containers: &mockContainers{health: types.HealthHealthy},
		analyst:    &mockAnalyst{},
		backups:    &mockBackups{backup: &backup.Backup{ID: "backup_20260829_120000", HasStateFile: true}},
		rollbacker: &mockRollbacker{},
	}
	f.deps = Deps{
		Environment: "dev",
		LockDir:     t.TempDir(),
		Planner:     f.planner,
		Containers:  f.containers,
		Analyst:     f.analyst,
		Backups:     f.backups,
		Rollbacker:  f.rollbacker,
		Topology: types.Topology{
			"web": {Count: 3, HealthProbe: true, CountVar: "web_count", Address: "docker_container.web"},
		},
		Trail:  trail,
		Logger: telemetry.NewLoggerTo("remedy-test", io.Discard),
	}
	return f
}

func TestRun_NoDriftIsConverged(t *testing.T) {
	f := newFixture(t)
	f.analyst.reports = []*types.DriftReport{cleanReport()}
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	result, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConverged, result.Outcome)
	assert.Equal(t, StateAnalyzing, result.State, "a clean run never leaves analysis")
	assert.Empty(t, result.Actions)
	assert.Equal(t, 0, f.backups.calls, "no backup without drift")
}

func TestRun_TracksLifecycleState(t *testing.T) {
	f := newFixture(t)
	f.analyst.reports = []*types.DriftReport{cleanReport()}
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	result, err := eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
	require.NoError(t, err)

	// A full run ends in the verification phase with a terminal outcome.
	assert.Equal(t, StateVerifying, result.State)
	assert.Equal(t, OutcomeConverged, result.Outcome)
}

func TestRun_ConvergesAfterActions(t *testing.T) {
	f := newFixture(t)
	// Verification sees a clean environment.
	f.analyst.reports = []*types.DriftReport{cleanReport()}
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	report := driftedReport(countDetail("web", "3", "2"))
	result, err := eng.Run(context.Background(), report)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConverged, result.Outcome)
	assert.Equal(t, 1, result.OriginalIssues)
	assert.Equal(t, 0, result.RemainingIssues)
	assert.Equal(t, 1, f.backups.calls, "backup precedes actions")
	assert.Equal(t, "backup_20260829_120000", result.BackupID)

	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionScaleUp, result.Actions[0].Action.Kind)
	assert.Equal(t, ActionSucceeded, result.Actions[0].Status)

	// Scale-up goes through the planning tool's declared target.
	assert.Equal(t, "3", f.planner.vars["web_count"])
	assert.Equal(t, 1, f.planner.applyCalls)
	assert.False(t, result.RolledBack)
}

func TestRun_DeclinedActionIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.analyst.reports = []*types.DriftReport{cleanReport()}
	approver := &scriptApprover{answers: []bool{false}}
	f.deps.Approver = approver
	eng := NewEngine(f.deps, Options{})

	result, err := eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
	require.NoError(t, err)

	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionSkipped, result.Actions[0].Status)
	assert.Equal(t, 0, f.planner.applyCalls, "declined action must not execute")
	// Skipping is not failure: the verify pass was clean here.
	assert.Equal(t, OutcomeConverged, result.Outcome)
}

func TestRun_FailedRunOffersRollback(t *testing.T) {
	f := newFixture(t)
	// Drift persists through verification.
	f.analyst.reports = []*types.DriftReport{driftedReport(countDetail("web", "3", "2"))}
	approver := &scriptApprover{answers: []bool{true, true}} // approve action, approve rollback
	f.deps.Approver = approver
	f.planner.applyErrs = []error{errors.New("apply failed")}
	eng := NewEngine(f.deps, Options{MaxRetries: 1})

	result, err := eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	require.Len(t, f.rollbacker.calls, 1)
	assert.Equal(t, result.BackupID, f.rollbacker.calls[0])
	assert.True(t, result.RolledBack)
	require.Len(t, approver.prompts, 2)
	assert.Contains(t, approver.prompts[1], "roll back")
}

func TestRun_RollbackDeclinedLeavesStateAlone(t *testing.T) {
	f := newFixture(t)
	f.analyst.reports = []*types.DriftReport{driftedReport(countDetail("web", "3", "2"))}
	approver := &scriptApprover{answers: []bool{true, false}}
	f.deps.Approver = approver
	eng := NewEngine(f.deps, Options{MaxRetries: 1})

	result, err := eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Empty(t, f.rollbacker.calls)
	assert.False(t, result.RolledBack)
}

func TestRun_UnattendedRollbackPolicy(t *testing.T) {
	t.Run("rollback on failure enabled", func(t *testing.T) {
		f := newFixture(t)
		f.analyst.reports = []*types.DriftReport{driftedReport(countDetail("web", "3", "2"))}
		f.planner.applyErrs = []error{errors.New("apply failed")}
		eng := NewEngine(f.deps, Options{AutoApprove: true, RollbackOnFailure: true, MaxRetries: 1})

		result, err := eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
		require.NoError(t, err)
		assert.True(t, result.RolledBack)
	})

	t.Run("rollback on failure disabled", func(t *testing.T) {
		f := newFixture(t)
		f.analyst.reports = []*types.DriftReport{driftedReport(countDetail("web", "3", "2"))}
		f.planner.applyErrs = []error{errors.New("apply failed")}
		eng := NewEngine(f.deps, Options{AutoApprove: true, MaxRetries: 1})

		result, err := eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
		require.NoError(t, err)
		assert.False(t, result.RolledBack)
		assert.Empty(t, f.rollbacker.calls)
	})
}

func TestRun_BackupFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.backups.backup = nil
	f.backups.err = errors.New("disk full")
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	_, err := eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to remediate")
	assert.Equal(t, 0, f.planner.applyCalls, "no action without a backup")
}

func TestRun_LockHeld(t *testing.T) {
	f := newFixture(t)
	held, err := lockfile.Acquire(f.deps.LockDir, "dev")
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	eng := NewEngine(f.deps, Options{AutoApprove: true})
	_, err = eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
	require.Error(t, err)
	assert.True(t, IsLockHeld(err))
}

func TestRun_RetriesBeforeFailing(t *testing.T) {
	f := newFixture(t)
	f.analyst.reports = []*types.DriftReport{cleanReport()}
	// First apply fails, second succeeds.
	f.planner.applyErrs = []error{errors.New("transient"), nil}
	eng := NewEngine(f.deps, Options{AutoApprove: true, MaxRetries: 3})

	result, err := eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
	require.NoError(t, err)

	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionSucceeded, result.Actions[0].Status)
	assert.Equal(t, 2, result.Actions[0].Attempts)
}

func TestRun_VerificationFailureIsNotConvergence(t *testing.T) {
	f := newFixture(t)
	f.analyst.reports = []*types.DriftReport{nil}
	f.analyst.errs = []error{errors.New("collector down")}
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	result, err := eng.Run(context.Background(), driftedReport(countDetail("web", "3", "2")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
}

func TestRun_PartialConvergence(t *testing.T) {
	f := newFixture(t)
	// Two issues going in, one remains after.
	f.analyst.reports = []*types.DriftReport{driftedReport(healthDetail("web-2"))}
	eng := NewEngine(f.deps, Options{AutoApprove: true})

	report := driftedReport(countDetail("web", "3", "2"), healthDetail("web-2"))
	result, err := eng.Run(context.Background(), report)
	require.NoError(t, err)

	assert.Equal(t, OutcomePartiallyConverged, result.Outcome)
	assert.Equal(t, 2, result.OriginalIssues)
	assert.Equal(t, 1, result.RemainingIssues)
}
