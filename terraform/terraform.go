// Package terraform wraps the planning-tool CLI. It is a read/apply
// collaborator only; all drift decisions live in the analyzer and the
// remediation engine.
package terraform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/veerhq/veer/telemetry"
	"github.com/veerhq/veer/toolexec"
	"github.com/veerhq/veer/types"
)

// Client invokes terraform in a fixed working directory.
type Client struct {
	runner  toolexec.Runner
	dir     string
	varFile string
	timeout time.Duration
	logger  *telemetry.Logger
}

// Options configure a Client.
type Options struct {
	Dir     string
	VarFile string
	Timeout time.Duration
	Runner  toolexec.Runner
}

// NewClient creates a terraform client.
func NewClient(opts Options, logger *telemetry.Logger) *Client {
	runner := opts.Runner
	if runner == nil {
		runner = toolexec.NewExecRunner()
	}
	return &Client{
		runner:  runner,
		dir:     opts.Dir,
		varFile: opts.VarFile,
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Plan produces a change-plan. The detailed exit code is a three-way
// signal: 0 no changes, 2 changes pending, anything else tool error.
// The returned error is non-nil only when the tool could not run at
// all; a PlanError outcome carries stderr for diagnosis.
func (c *Client) Plan(ctx context.Context) (*types.PlanResult, error) {
	result, err := c.run(ctx, "plan", "-detailed-exitcode", "-input=false", "-no-color")
	if err != nil {
		return nil, fmt.Errorf("terraform plan: %w", err)
	}

	return &types.PlanResult{
		Outcome: types.PlanOutcomeFromExitCode(result.ExitCode),
		Summary: result.Stdout,
		Stderr:  result.Stderr,
	}, nil
}

// ShowState dumps the recorded state as machine-readable JSON.
func (c *Client) ShowState(ctx context.Context) (json.RawMessage, error) {
	result, err := c.run(ctx, "show", "-json")
	if err != nil {
		return nil, fmt.Errorf("terraform show: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("terraform show exited %d: %s", result.ExitCode, result.Stderr)
	}
	return json.RawMessage(result.Stdout), nil
}

// Apply applies the declared configuration non-interactively.
func (c *Client) Apply(ctx context.Context) error {
	result, err := c.run(ctx, "apply", "-auto-approve", "-input=false", "-no-color")
	if err != nil {
		return fmt.Errorf("terraform apply: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("terraform apply exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

// Taint marks a resource for forced replacement on the next apply.
func (c *Client) Taint(ctx context.Context, address string) error {
	result, err := c.run(ctx, "taint", address)
	if err != nil {
		return fmt.Errorf("terraform taint %s: %w", address, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("terraform taint %s exited %d: %s", address, result.ExitCode, result.Stderr)
	}
	return nil
}

// SetVar updates one variable in the tfvars file, preserving the other
// entries. Used to move a service's declared scale target.
func (c *Client) SetVar(name, value string) error {
	vars, err := readVarFile(c.varFile)
	if err != nil {
		return err
	}
	vars[name] = value
	return writeVarFile(c.varFile, vars)
}

func (c *Client) run(ctx context.Context, args ...string) (*toolexec.Result, error) {
	spec := toolexec.Spec{
		Name:    "terraform",
		Args:    args,
		Dir:     c.dir,
		Timeout: c.timeout,
	}
	if c.logger != nil {
		c.logger.LogToolInvocation(ctx, spec.Name, spec.Args, spec.Dir)
	}
	return c.runner.Run(ctx, spec)
}

// readVarFile parses simple `key = "value"` lines. Comments and blank
// lines are dropped on rewrite.
func readVarFile(path string) (map[string]string, error) {
	vars := make(map[string]string)

	data, err := os.ReadFile(path) // #nosec G304 -- var file path comes from config
	if os.IsNotExist(err) {
		return vars, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read var file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return vars, nil
}

func writeVarFile(path string, vars map[string]string) error {
	var b strings.Builder
	for _, key := range sortedKeys(vars) {
		fmt.Fprintf(&b, "%s = %q\n", key, vars[key])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write var file: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Stable output keeps the var file diffable.
	sort.Strings(keys)
	return keys
}
