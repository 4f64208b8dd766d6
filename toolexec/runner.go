// Package toolexec runs external tools with explicit working directories
// and timeouts. The process working directory is never changed; every
// invocation passes its directory per call.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result captures one external tool invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes external commands. Collaborators depend on this
// interface so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// Spec describes one invocation.
type Spec struct {
	Name string
	Args []string
	// Dir is the working directory for this call only. Empty means the
	// current process directory.
	Dir string
	// Timeout bounds the call. A timeout is a failure of this step,
	// never a "no drift" or "converged" conclusion.
	Timeout time.Duration
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// NewExecRunner creates a runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the spec. A non-zero exit code is not an error; callers
// interpret exit codes themselves (terraform plan uses them as a
// three-way signal). Errors mean the tool could not run or timed out.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...) // #nosec G204 -- tool and args come from config, not untrusted input
	cmd.Dir = spec.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%s timed out after %s", spec.Name, spec.Timeout)
		}
		return result, fmt.Errorf("failed to run %s: %w", spec.Name, err)
	}

	return result, nil
}

// Command renders the invocation for operator review (dry-run output).
func (s Spec) Command() string {
	parts := append([]string{s.Name}, s.Args...)
	return strings.Join(parts, " ")
}
