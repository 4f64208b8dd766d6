package terraform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerhq/veer/toolexec"
	"github.com/veerhq/veer/types"
)

// fakeRunner records specs and replays canned results.
type fakeRunner struct {
	specs   []toolexec.Spec
	results []*toolexec.Result
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, spec toolexec.Spec) (*toolexec.Result, error) {
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return nil, f.err
	}
	result := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return result, nil
}

func newTestClient(runner *fakeRunner, dir string) *Client {
	return NewClient(Options{Dir: dir, Runner: runner}, nil)
}

func TestPlan_ExitCodeMapping(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		want     types.PlanOutcome
	}{
		{"no changes", 0, types.PlanNoChanges},
		{"changes pending", 2, types.PlanChangesPending},
		{"tool error", 1, types.PlanError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{results: []*toolexec.Result{{ExitCode: tt.exitCode, Stdout: "plan output", Stderr: "diag"}}}
			client := newTestClient(runner, "/infra")

			result, err := client.Plan(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Outcome)
			assert.Equal(t, "plan output", result.Summary)

			require.Len(t, runner.specs, 1)
			spec := runner.specs[0]
			assert.Equal(t, "terraform", spec.Name)
			assert.Equal(t, []string{"plan", "-detailed-exitcode", "-input=false", "-no-color"}, spec.Args)
			assert.Equal(t, "/infra", spec.Dir)
		})
	}
}

func TestPlan_RunnerFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("terraform not installed")}
	client := newTestClient(runner, "/infra")

	_, err := client.Plan(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terraform not installed")
}

func TestApply_NonZeroExit(t *testing.T) {
	runner := &fakeRunner{results: []*toolexec.Result{{ExitCode: 1, Stderr: "lock held"}}}
	client := newTestClient(runner, "/infra")

	err := client.Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock held")
}

func TestTaint_PassesAddress(t *testing.T) {
	runner := &fakeRunner{results: []*toolexec.Result{{ExitCode: 0}}}
	client := newTestClient(runner, "/infra")

	require.NoError(t, client.Taint(context.Background(), "docker_container.web[1]"))
	require.Len(t, runner.specs, 1)
	assert.Equal(t, []string{"taint", "docker_container.web[1]"}, runner.specs[0].Args)
}

func TestShowState(t *testing.T) {
	runner := &fakeRunner{results: []*toolexec.Result{{ExitCode: 0, Stdout: `{"values":{}}`}}}
	client := newTestClient(runner, "/infra")

	state, err := client.ShowState(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"values":{}}`, string(state))
}

func TestSetVar_RewritesPreservingOthers(t *testing.T) {
	dir := t.TempDir()
	varFile := filepath.Join(dir, "terraform.tfvars")
	initial := "web_count = \"2\"\ndb_count = \"1\"\n# a comment\n"
	require.NoError(t, os.WriteFile(varFile, []byte(initial), 0o644))

	client := NewClient(Options{Dir: dir, VarFile: varFile, Runner: &fakeRunner{}}, nil)
	require.NoError(t, client.SetVar("web_count", "3"))

	data, err := os.ReadFile(varFile)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, `web_count = "3"`)
	assert.Contains(t, content, `db_count = "1"`)

	// Output is stable: keys in sorted order.
	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "db_count"))
	assert.True(t, strings.HasPrefix(lines[1], "web_count"))
}

func TestSetVar_MissingFileCreatesIt(t *testing.T) {
	varFile := filepath.Join(t.TempDir(), "terraform.tfvars")
	client := NewClient(Options{VarFile: varFile, Runner: &fakeRunner{}}, nil)

	require.NoError(t, client.SetVar("worker_count", "4"))

	data, err := os.ReadFile(varFile)
	require.NoError(t, err)
	assert.Equal(t, "worker_count = \"4\"\n", string(data))
}
