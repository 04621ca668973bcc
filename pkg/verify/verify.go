// Package verify runs a repo's configured quick/full verify command list in
// a worktree and classifies the outcome, grounded on the reference
// orchestrator's verify runner.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/othala-run/othala/pkg/procrunner"
	"github.com/othala-run/othala/pkg/task"
)

// Outcome is whether a single command, or an entire tier, passed.
type Outcome string

const (
	Passed Outcome = "passed"
	Failed Outcome = "failed"
)

// CommandResult is one command's classified outcome.
type CommandResult struct {
	Command  string
	Outcome  Outcome
	ExitCode int
}

// Result is a whole verify-tier run: every command attempted, stopping at
// the first failure, plus the overall outcome.
type Result struct {
	Tier     task.VerifyTier
	Commands []CommandResult
	Outcome  Outcome
}

// Runner executes a sequence of shell commands inside a working directory,
// optionally wrapped by a dev-shell invocation (e.g. `nix develop -c`).
type Runner struct {
	Timeout time.Duration
}

func New(timeout time.Duration) Runner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return Runner{Timeout: timeout}
}

// RunTier runs every command for a tier in order, stopping at the first
// failure. A runner-level error (e.g. the shell itself could not be
// spawned) is returned distinctly from a command exiting non-zero, since
// callers route the two differently (infra failure vs. verify failure).
func (r Runner) RunTier(ctx context.Context, dir string, tier task.VerifyTier, commands []string, devShell string) (Result, error) {
	result := Result{Tier: tier, Outcome: Passed}

	for _, cmd := range commands {
		shellCmd := cmd
		if devShell != "" {
			shellCmd = fmt.Sprintf("%s -c %s", devShell, quoteForShell(cmd))
		}

		run, err := procrunner.Spawn(ctx, "sh", []string{"-c", shellCmd}, dir, r.Timeout)
		if err != nil {
			return result, fmt.Errorf("verify: spawn %q: %w", cmd, err)
		}
		for range run.Lines {
			// drain; verify output isn't surfaced line-by-line, only the
			// pass/fail classification and (on failure) a joined summary.
		}
		res := <-run.Done

		cr := CommandResult{Command: cmd, ExitCode: res.ExitCode}
		if res.Err != nil || res.ExitCode != 0 {
			cr.Outcome = Failed
			result.Commands = append(result.Commands, cr)
			result.Outcome = Failed
			return result, nil
		}
		cr.Outcome = Passed
		result.Commands = append(result.Commands, cr)
	}

	return result, nil
}

func quoteForShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RenderFailureSummary produces a human-readable one-liner for an Error
// event's message field when a verify tier fails.
func RenderFailureSummary(result Result) string {
	if len(result.Commands) == 0 {
		return "verification failed without command output"
	}
	last := result.Commands[len(result.Commands)-1]
	if last.Outcome != Failed {
		return "verification failed"
	}
	return fmt.Sprintf("%s (exit=%d)", last.Command, last.ExitCode)
}
