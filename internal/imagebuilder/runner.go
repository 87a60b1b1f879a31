package imagebuilder

import (
	"context"
	"log/slog"
	"os/exec"
)

// CommandRunner is an interface for executing commands and getting the combined output.
type CommandRunner interface {
	RunCommand(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

var _ CommandRunner = &ExecRunner{}

func (ExecRunner) RunCommand(ctx context.Context, name string, args ...string) (string, error) {
	slog.Debug("Running command", "name", name, "args", args)
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
