package vcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/othala-run/othala/pkg/procrunner"
)

// benignRestackPhrases are stack-tool stdout/stderr substrings that mean "no
// restack was necessary" rather than failure — spec.md §4.9's tolerance
// list for the RESTACKING handler.
var benignRestackPhrases = []string{
	"does not need to be restacked",
	"already up to date",
	"nothing to restack",
}

// StackToolConfig names the external stack-management binary and the
// timeout applied to each invocation. The binary name is config-driven so
// any tool satisfying the invariants below (graphite-shaped by default) can
// be substituted.
type StackToolConfig struct {
	Binary  string
	Timeout time.Duration
}

// StackTool wraps a configured stack-management CLI as subprocess calls.
type StackTool struct {
	cfg StackToolConfig
}

// NewStackTool builds a StackTool from cfg, defaulting Binary to "gt"
// (graphite's CLI name) and Timeout to two minutes when unset.
func NewStackTool(cfg StackToolConfig) *StackTool {
	if cfg.Binary == "" {
		cfg.Binary = "gt"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &StackTool{cfg: cfg}
}

// InvocationResult carries the combined output lines and exit outcome of one
// stack-tool invocation, for callers that want to log or inspect it.
type InvocationResult struct {
	Lines    []procrunner.Line
	ExitCode int
}

func (s *StackTool) invoke(ctx context.Context, dir string, args ...string) (InvocationResult, error) {
	run, err := procrunner.Spawn(ctx, s.cfg.Binary, args, dir, s.cfg.Timeout)
	if err != nil {
		return InvocationResult{}, fmt.Errorf("vcs: spawn %s: %w", s.cfg.Binary, err)
	}
	var lines []procrunner.Line
	for line := range run.Lines {
		lines = append(lines, line)
	}
	res := <-run.Done
	return InvocationResult{Lines: lines, ExitCode: res.ExitCode}, res.Err
}

func combinedText(lines []procrunner.Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// TrackBranch registers branch with the stack tool as a child of parent, the
// idempotent operation backing branch creation in RESTACKING/task-creation
// flows. A branch already tracked is treated as success.
func (s *StackTool) TrackBranch(ctx context.Context, dir, branch, parent string) error {
	res, err := s.invoke(ctx, dir, "track", branch, "--parent", parent, "--force")
	if err != nil && res.ExitCode != 0 {
		text := combinedText(res.Lines)
		if containsAny(text, []string{"already tracked", "already a child of"}) {
			return nil
		}
		return fmt.Errorf("vcs: track branch %s onto %s: %w: %s", branch, parent, err, text)
	}
	return nil
}

// RestackOutcome reports what a Restack invocation did.
type RestackOutcome struct {
	Restacked bool
	Conflict  bool
	Output    string
}

// Restack restacks branch against its tracked parent. A benign "nothing to
// do" response (per benignRestackPhrases) is reported as Restacked=false,
// Conflict=false rather than an error. A merge conflict is detected and
// reported with Conflict=true rather than returned as a Go error, so the
// RESTACKING handler can transition the task to NeedsHuman/RestackConflict
// instead of treating it as an infrastructure failure.
func (s *StackTool) Restack(ctx context.Context, dir, branch string) (RestackOutcome, error) {
	res, err := s.invoke(ctx, dir, "restack", "--branch", branch)
	text := combinedText(res.Lines)
	if err == nil {
		if containsAny(text, benignRestackPhrases) {
			return RestackOutcome{Restacked: false, Output: text}, nil
		}
		return RestackOutcome{Restacked: true, Output: text}, nil
	}
	if containsAny(text, benignRestackPhrases) {
		return RestackOutcome{Restacked: false, Output: text}, nil
	}
	if containsAny(text, []string{"conflict", "CONFLICT"}) {
		return RestackOutcome{Conflict: true, Output: text}, nil
	}
	return RestackOutcome{}, fmt.Errorf("vcs: restack %s: %w: %s", branch, err, text)
}

// AbortRestack aborts an in-progress restack/rebase left behind by a
// conflicting Restack call, restoring the worktree to its pre-restack state.
func (s *StackTool) AbortRestack(ctx context.Context, dir string) error {
	res, err := s.invoke(ctx, dir, "restack", "--abort")
	if err != nil {
		return fmt.Errorf("vcs: abort restack: %w: %s", err, combinedText(res.Lines))
	}
	return nil
}

// SubmitMode selects whether Submit pushes only branch or the whole stack
// rooted at branch.
type SubmitMode int

const (
	SubmitSingleBranch SubmitMode = iota
	SubmitWholeStack
)

// SubmitOutcome reports the PR(s) opened or updated by a Submit call.
type SubmitOutcome struct {
	Output string
}

// Submit pushes branch (or its whole stack, per mode) and opens/updates its
// pull request(s) via the stack tool's own submit command.
func (s *StackTool) Submit(ctx context.Context, dir, branch string, mode SubmitMode) (SubmitOutcome, error) {
	args := []string{"submit", "--branch", branch}
	if mode == SubmitWholeStack {
		args = append(args, "--stack")
	}
	res, err := s.invoke(ctx, dir, args...)
	text := combinedText(res.Lines)
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("vcs: submit %s: %w: %s", branch, err, text)
	}
	return SubmitOutcome{Output: text}, nil
}

// SyncStack brings the stack tool's view of the trunk branch up to date
// before restacking, tolerating a no-op response the same way Restack does.
func (s *StackTool) SyncStack(ctx context.Context, dir string) error {
	res, err := s.invoke(ctx, dir, "sync", "--no-interactive")
	if err != nil {
		text := combinedText(res.Lines)
		if containsAny(text, benignRestackPhrases) {
			return nil
		}
		return fmt.Errorf("vcs: sync stack: %w: %s", err, text)
	}
	return nil
}
