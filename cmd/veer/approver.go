package main

import (
	"context"
	"errors"

	"github.com/charmbracelet/huh"
)

// terminalApprover asks the operator to approve each remediation
// action interactively. An interrupted prompt counts as declined.
type terminalApprover struct{}

func (terminalApprover) Approve(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var approved bool
	confirm := huh.NewConfirm().
		Title(prompt).
		Affirmative("Approve").
		Negative("Skip").
		Value(&approved)

	form := huh.NewForm(huh.NewGroup(confirm))

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}

	return approved, nil
}
