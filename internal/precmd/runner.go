// Package precmd runs the locally configured commands that must complete
// before the SSH connection is opened. Failures are reported per command
// and never abort the remaining commands.
package precmd

import (
	"context"
	"fmt"
	"os/exec"

	"livetunnel/internal/config"
	"livetunnel/pkg/logging"
)

// Result records the outcome of one pre-connection command.
type Result struct {
	Command config.Command
	Err     error // nil on success (launched and exited zero)
}

// Runner executes an ordered list of local commands sequentially.
type Runner struct{}

// NewRunner creates a command runner.
func NewRunner() *Runner {
	return &Runner{}
}

// RunAll executes every command in order, waiting for each to finish.
// A command that fails to launch or exits non-zero is recorded as a
// failure and logged as a warning; execution continues with the next
// command regardless. The returned slice has one entry per command.
func (r *Runner) RunAll(ctx context.Context, commands []config.Command) []Result {
	results := make([]Result, 0, len(commands))
	total := len(commands)

	for i, command := range commands {
		logging.Info("PreCmd", "[%d/%d] Running '%s'", i+1, total, command)

		cmd := exec.CommandContext(ctx, command.Program, command.ArgList()...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			err = fmt.Errorf("command '%s' failed: %w (output: %q)", command, err, string(output))
			logging.Warn("PreCmd", "[%d/%d] %v", i+1, total, err)
			results = append(results, Result{Command: command, Err: err})
			continue
		}

		logging.Info("PreCmd", "[%d/%d] Done: '%s'", i+1, total, command)
		results = append(results, Result{Command: command})
	}

	return results
}
