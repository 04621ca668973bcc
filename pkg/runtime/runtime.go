// Package runtime drives the per-tick state handlers spec.md §4.9
// describes: one pass over every task currently sitting in an
// infrastructure-driven state (INITIALIZING, RESTACKING, VERIFYING_*,
// SUBMITTING), plus a final promotion pass over REVIEWING tasks. It is the
// only caller that talks to pkg/vcs directly; everything else goes through
// pkg/service.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/othala-run/othala/pkg/config"
	"github.com/othala-run/othala/pkg/lifecyclegate"
	"github.com/othala-run/othala/pkg/metrics"
	"github.com/othala-run/othala/pkg/reviewgate"
	"github.com/othala-run/othala/pkg/service"
	"github.com/othala-run/othala/pkg/task"
	"github.com/othala-run/othala/pkg/vcs"
	"github.com/othala-run/othala/pkg/verify"
)

// TickSummary counts what a single Tick call did, mirroring the reference
// RuntimeTickSummary field-for-field.
type TickSummary struct {
	Initialized     int
	Restacked       int
	RestackConflict int
	VerifyStarted   int
	VerifyPassed    int
	VerifyFailed    int
	Submitted       int
	SubmitFailed    int
	Errors          int
}

// Touched reports whether the tick did anything at all, so callers (e.g.
// the delta reporter) can skip work on an idle tick.
func (s TickSummary) Touched() bool {
	return s.Initialized > 0 || s.Restacked > 0 || s.RestackConflict > 0 ||
		s.VerifyStarted > 0 || s.VerifyPassed > 0 || s.VerifyFailed > 0 ||
		s.Submitted > 0 || s.SubmitFailed > 0 || s.Errors > 0
}

// Engine holds the subprocess-backed dependencies every handler needs.
type Engine struct {
	Git       *vcs.Git
	StackTool *vcs.StackTool
	Verify    verify.Runner
	metrics   *metrics.Registry
}

// New builds an Engine. reg may be nil, in which case the engine skips
// metrics instrumentation entirely.
func New(stackToolCfg vcs.StackToolConfig, verifyTimeout time.Duration, reg *metrics.Registry) *Engine {
	return &Engine{
		Git:       vcs.NewGit(""),
		StackTool: vcs.NewStackTool(stackToolCfg),
		Verify:    verify.New(verifyTimeout),
		metrics:   reg,
	}
}

// Tick runs one full pass over every runtime-driven task, in the fixed
// handler order spec.md §4.9 requires.
func (e *Engine) Tick(ctx context.Context, svc *service.Service, cfg *config.Config, modelAvailability map[task.ModelKind]bool, at time.Time) (TickSummary, error) {
	var summary TickSummary

	initializing, err := svc.ListTasksByState(ctx, task.StateInitializing)
	if err != nil {
		return summary, fmt.Errorf("runtime: list initializing: %w", err)
	}
	for _, t := range initializing {
		ok, err := e.initializeTask(ctx, svc, cfg, t, at)
		if err != nil {
			return summary, err
		}
		if ok {
			summary.Initialized++
		} else {
			summary.Errors++
		}
	}

	restacking, err := svc.ListTasksByState(ctx, task.StateRestacking)
	if err != nil {
		return summary, fmt.Errorf("runtime: list restacking: %w", err)
	}
	for _, t := range restacking {
		outcome, err := e.restackTask(ctx, svc, cfg, t, at)
		if err != nil {
			return summary, err
		}
		switch outcome {
		case restackOutcomeRestacked:
			summary.Restacked++
		case restackOutcomeConflict:
			summary.RestackConflict++
		default:
			summary.Errors++
		}
	}

	running, err := svc.ListTasksByState(ctx, task.StateRunning)
	if err != nil {
		return summary, fmt.Errorf("runtime: list running: %w", err)
	}
	for _, t := range running {
		if e.maybeStartQuickVerify(t) {
			summary.VerifyStarted++
		}
	}

	verifyingQuick, err := svc.ListTasksByState(ctx, task.StateVerifyingQuick)
	if err != nil {
		return summary, fmt.Errorf("runtime: list verifying quick: %w", err)
	}
	for _, t := range verifyingQuick {
		passed, err := e.verifyTask(ctx, svc, cfg, t, task.VerifyQuick, at)
		if err != nil {
			return summary, err
		}
		if passed {
			summary.VerifyPassed++
		} else {
			summary.VerifyFailed++
		}
	}

	verifyingFull, err := svc.ListTasksByState(ctx, task.StateVerifyingFull)
	if err != nil {
		return summary, fmt.Errorf("runtime: list verifying full: %w", err)
	}
	for _, t := range verifyingFull {
		passed, err := e.verifyTask(ctx, svc, cfg, t, task.VerifyFull, at)
		if err != nil {
			return summary, err
		}
		if passed {
			summary.VerifyPassed++
		} else {
			summary.VerifyFailed++
		}
	}

	submitting, err := svc.ListTasksByState(ctx, task.StateSubmitting)
	if err != nil {
		return summary, fmt.Errorf("runtime: list submitting: %w", err)
	}
	// Preserve completion order when multiple agents finish close together.
	sort.Slice(submitting, func(i, j int) bool {
		a, b := submitting[i], submitting[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for _, t := range submitting {
		ok, err := e.submitTask(ctx, svc, cfg, t, at)
		if err != nil {
			return summary, err
		}
		if ok {
			summary.Submitted++
		} else {
			summary.SubmitFailed++
		}
	}

	if err := e.promoteReadyTasks(ctx, svc, cfg, modelAvailability, at); err != nil {
		return summary, err
	}

	return summary, nil
}

func defaultBranchName(t task.Task) string {
	return "task/" + t.ID
}

func taskRuntimePath(t task.Task, repoCfg config.RepoConfig) string {
	if t.WorktreePath != "" {
		return t.WorktreePath
	}
	return repoCfg.RepoPath
}

func (e *Engine) markTaskFailed(ctx context.Context, svc *service.Service, t task.Task, code, message string, at time.Time) error {
	if err := svc.RecordEvent(ctx, task.Event{
		ID:     task.NewID(),
		TaskID: &t.ID,
		RepoID: &t.RepoID,
		At:     at,
		Kind:   task.EventKind{Tag: task.EventError, Code: code, Message: message},
	}); err != nil {
		return err
	}
	_, err := svc.TransitionTaskState(ctx, t.ID, task.StateFailed, at)
	return err
}

// initializeTask resolves the task's stack branch, creates it and its
// worktree if needed, and advances the task through DRAFT_PR_OPEN to
// RUNNING, recording a draft PR on the way when the repo opens draft PRs
// on start.
func (e *Engine) initializeTask(ctx context.Context, svc *service.Service, cfg *config.Config, t task.Task, at time.Time) (bool, error) {
	repoCfg, ok := cfg.Repo(t.RepoID)
	if !ok {
		return false, e.markTaskFailed(ctx, svc, t, "repo_config_missing", fmt.Sprintf("repo config not found for repo_id=%s", t.RepoID), at)
	}

	root, err := e.Git.Discover(ctx, repoCfg.RepoPath)
	if err != nil {
		return false, e.markTaskFailed(ctx, svc, t, "repo_discovery_failed", fmt.Sprintf("failed to discover repository at %s: %v", repoCfg.RepoPath, err), at)
	}

	branchBefore, err := e.Git.CurrentBranch(ctx, root)
	if err != nil {
		return false, e.markTaskFailed(ctx, svc, t, "current_branch_failed", fmt.Sprintf("failed to resolve current branch before stack create: %v", err), at)
	}

	branch := defaultBranchName(t)
	if t.BranchName != nil && *t.BranchName != "" {
		branch = *t.BranchName
	}

	if err := e.Git.CreateBranch(ctx, root, branch); err != nil && !errors.Is(err, vcs.ErrAlreadyExists) {
		return false, e.markTaskFailed(ctx, svc, t, "branch_create_failed", fmt.Sprintf("failed to create branch %q: %v", branch, err), at)
	}

	if branchBefore != branch {
		if active, err := e.Git.CurrentBranch(ctx, root); err == nil && active == branch {
			_ = e.Git.ReattachHead(ctx, root, branchBefore)
		}
	}

	worktreePath := t.WorktreePath
	if worktreePath != "" {
		if err := e.Git.AddWorktree(ctx, root, worktreePath, branch); err != nil && !errors.Is(err, vcs.ErrAlreadyExists) {
			return false, e.markTaskFailed(ctx, svc, t, "worktree_create_failed", fmt.Sprintf("failed to create worktree at %q: %v", worktreePath, err), at)
		}
	}

	if t.BranchName == nil || *t.BranchName != branch {
		updated, err := svc.SetTaskBranch(ctx, t.ID, branch, at)
		if err != nil {
			return false, err
		}
		t = updated
	}

	if t.State == task.StateInitializing {
		if repoCfg.Graphite.DraftOnStart && t.PR == nil {
			if _, err := svc.MarkTaskDraftPrOpen(ctx, t.ID, 0, syntheticDraftPRURL(t.ID), at); err != nil {
				return false, err
			}
		} else {
			if _, err := svc.TransitionTaskState(ctx, t.ID, task.StateDraftPROpen, at); err != nil {
				return false, err
			}
		}
		if _, err := svc.TransitionTaskState(ctx, t.ID, task.StateRunning, at); err != nil {
			return false, err
		}
	}

	if err := svc.FinishOpenAgentRuns(ctx, t.ID, task.AgentRunExited, "task re-initialized", at); err != nil {
		return false, err
	}

	return true, nil
}

func syntheticDraftPRURL(taskID string) string {
	return "othala://draft/" + taskID
}

type restackOutcomeKind int

const (
	restackOutcomeFailed restackOutcomeKind = iota
	restackOutcomeRestacked
	restackOutcomeConflict
)

// restackTask detaches sibling worktrees (so the stack tool can freely
// rebase their branches), anchors the current branch onto the oldest
// already-submitted peer in the stack, runs the restack, and reattaches
// the siblings regardless of outcome.
func (e *Engine) restackTask(ctx context.Context, svc *service.Service, cfg *config.Config, t task.Task, at time.Time) (restackOutcomeKind, error) {
	repoCfg, ok := cfg.Repo(t.RepoID)
	if !ok {
		return restackOutcomeFailed, e.markTaskFailed(ctx, svc, t, "repo_config_missing", fmt.Sprintf("repo config not found for repo_id=%s", t.RepoID), at)
	}
	runtimePath := taskRuntimePath(t, repoCfg)

	_ = e.StackTool.AbortRestack(ctx, runtimePath)

	allTasks, err := svc.ListTasks(ctx)
	if err != nil {
		return restackOutcomeFailed, fmt.Errorf("runtime: list tasks for anchor selection: %w", err)
	}
	detached := e.detachSiblingWorktrees(ctx, repoCfg, t)
	defer e.reattachWorktrees(ctx, detached)

	if anchor := selectStackAnchorBranch(allTasks, t); anchor != "" && t.BranchName != nil {
		_ = e.StackTool.TrackBranch(ctx, runtimePath, *t.BranchName, anchor)
	}

	branch := ""
	if t.BranchName != nil {
		branch = *t.BranchName
	}
	outcome, err := e.StackTool.Restack(ctx, runtimePath, branch)
	if err != nil {
		if _, serr := svc.CompleteRestack(ctx, t.ID, false, at); serr != nil {
			return restackOutcomeFailed, serr
		}
		return restackOutcomeFailed, e.markTaskFailed(ctx, svc, t, "restack_failed", err.Error(), at)
	}

	if _, err := svc.CompleteRestack(ctx, t.ID, outcome.Conflict, at); err != nil {
		return restackOutcomeFailed, err
	}
	if outcome.Conflict {
		return restackOutcomeConflict, nil
	}
	return restackOutcomeRestacked, nil
}

// selectStackAnchorBranch picks the oldest (by updated_at, then created_at,
// then id) peer in the same repo that has already reached SUBMITTING or
// beyond, so restacking onto it reproduces completion order deterministically.
func selectStackAnchorBranch(tasks []task.Task, current task.Task) string {
	var candidates []task.Task
	for _, t := range tasks {
		if t.ID == current.ID || t.RepoID != current.RepoID {
			continue
		}
		switch t.State {
		case task.StateSubmitting, task.StateAwaitingMerge, task.StateMerged:
		default:
			continue
		}
		if t.BranchName == nil || strings.TrimSpace(*t.BranchName) == "" {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return *candidates[0].BranchName
}

func (e *Engine) detachSiblingWorktrees(ctx context.Context, repoCfg config.RepoConfig, current task.Task) []vcs.SiblingWorktree {
	root, err := e.Git.Discover(ctx, repoCfg.RepoPath)
	if err != nil {
		return nil
	}
	worktrees, err := e.Git.ListWorktrees(ctx, root)
	if err != nil {
		return nil
	}
	currentPath := taskRuntimePath(current, repoCfg)

	var detached []vcs.SiblingWorktree
	for _, wt := range worktrees {
		if wt.Path == currentPath || wt.Path == repoCfg.RepoPath || wt.Branch == "" {
			continue
		}
		if _, err := e.Git.DetachHead(ctx, wt.Path); err == nil {
			detached = append(detached, wt)
		}
	}
	return detached
}

func (e *Engine) reattachWorktrees(ctx context.Context, detached []vcs.SiblingWorktree) {
	for _, wt := range detached {
		_ = e.Git.ReattachHead(ctx, wt.Path, wt.Branch)
	}
}

// maybeStartQuickVerify never auto-starts verification: tasks stay in
// RUNNING until a quick verify is explicitly requested from the API/CLI
// surface, matching the reference runtime's deliberate no-op here.
func (e *Engine) maybeStartQuickVerify(t task.Task) bool {
	return false
}

func (e *Engine) verifyTask(ctx context.Context, svc *service.Service, cfg *config.Config, t task.Task, tier task.VerifyTier, at time.Time) (bool, error) {
	repoCfg, ok := cfg.Repo(t.RepoID)
	if !ok {
		return false, e.markTaskFailed(ctx, svc, t, "repo_config_missing", fmt.Sprintf("repo config not found for repo_id=%s", t.RepoID), at)
	}
	runtimePath := taskRuntimePath(t, repoCfg)

	verifyCfg := cfg.VerifyConfigFor(t.RepoID)
	commands := verifyCfg.Quick
	if tier == task.VerifyFull {
		commands = verifyCfg.Full
	}

	result, err := e.Verify.RunTier(ctx, runtimePath, tier, commands, repoCfg.Nix.DevShell)
	if err != nil {
		return false, e.markTaskFailed(ctx, svc, t, "verify_runner_failed", err.Error(), at)
	}

	success := result.Outcome == verify.Passed
	failureSummary := ""
	if !success {
		failureSummary = verify.RenderFailureSummary(result)
	}
	if e.metrics != nil {
		e.metrics.VerifyOutcomes.WithLabelValues(string(tier), string(result.Outcome)).Inc()
	}

	if tier == task.VerifyQuick {
		if _, err := svc.CompleteQuickVerify(ctx, t.ID, success, failureSummary, at); err != nil {
			return false, err
		}
	} else {
		if _, err := svc.CompleteFullVerify(ctx, t.ID, success, failureSummary, task.StateRunning, task.StateFailed, at); err != nil {
			return false, err
		}
	}
	return success, nil
}

// submitTask commits any pending changes, restacks one last time so the
// stack tool sees a clean tree, then submits. A restack conflict or
// failure here routes the task back to RESTACKING rather than failing it
// outright, since conflict resolution is itself a RESTACKING-state concern.
func (e *Engine) submitTask(ctx context.Context, svc *service.Service, cfg *config.Config, t task.Task, at time.Time) (bool, error) {
	repoCfg, ok := cfg.Repo(t.RepoID)
	if !ok {
		return false, e.markTaskFailed(ctx, svc, t, "repo_config_missing", fmt.Sprintf("repo config not found for repo_id=%s", t.RepoID), at)
	}
	runtimePath := taskRuntimePath(t, repoCfg)
	branch := ""
	if t.BranchName != nil {
		branch = *t.BranchName
	}

	_ = e.StackTool.AbortRestack(ctx, runtimePath)

	commitMsg := task.NormalizeTitle(t.Title)
	if err := e.Git.CommitAll(ctx, runtimePath, commitMsg); err != nil {
		_ = svc.RecordEvent(ctx, task.Event{
			ID:     task.NewID(),
			TaskID: &t.ID,
			RepoID: &t.RepoID,
			At:     at,
			Kind:   task.EventKind{Tag: task.EventError, Code: "submit_commit_pending_failed", Message: err.Error()},
		})
	}

	_ = e.Git.SyncTrunk(ctx, repoCfg.RepoPath, repoCfg.TrunkBranch)

	detached := e.detachSiblingWorktrees(ctx, repoCfg, t)
	defer e.reattachWorktrees(ctx, detached)

	outcome, err := e.StackTool.Restack(ctx, runtimePath, branch)
	if err != nil || outcome.Conflict {
		code, message := "submit_restack_failed", fmt.Sprintf("restack failed during submit for %s, delegating to agent", t.ID)
		if outcome.Conflict {
			code, message = "submit_restack_conflict", fmt.Sprintf("restack conflict during submit for %s, delegating to agent", t.ID)
		}
		_ = svc.RecordEvent(ctx, task.Event{
			ID:     task.NewID(),
			TaskID: &t.ID,
			RepoID: &t.RepoID,
			At:     at,
			Kind:   task.EventKind{Tag: task.EventError, Code: code, Message: message},
		})
		if _, err := svc.TransitionTaskState(ctx, t.ID, task.StateRestacking, at); err != nil {
			return false, err
		}
		return false, nil
	}

	mode := vcs.SubmitSingleBranch
	if repoCfgSubmitMode(repoCfg, t) == task.SubmitStack {
		mode = vcs.SubmitWholeStack
	}
	_, submitErr := e.StackTool.Submit(ctx, runtimePath, branch, mode)

	success := submitErr == nil
	failureMessage := ""
	if submitErr != nil {
		failureMessage = submitErr.Error()
	}
	if _, err := svc.CompleteSubmit(ctx, t.ID, success, failureMessage, at); err != nil {
		return false, err
	}
	return success, nil
}

func repoCfgSubmitMode(repoCfg config.RepoConfig, t task.Task) task.SubmitMode {
	if repoCfg.SubmitMode != "" {
		return repoCfg.SubmitMode
	}
	return t.SubmitMode
}

// promoteReadyTasks recomputes the review gate for every REVIEWING task,
// demotes any that now need a human, and promotes the rest through the
// ready gate (and, if policy says so, straight into SUBMITTING).
func (e *Engine) promoteReadyTasks(ctx context.Context, svc *service.Service, cfg *config.Config, modelAvailability map[task.ModelKind]bool, at time.Time) error {
	availability := reviewgate.Availability(modelAvailability)

	reviewing, err := svc.ListTasksByState(ctx, task.StateReviewing)
	if err != nil {
		return fmt.Errorf("runtime: list reviewing: %w", err)
	}

	for _, t := range reviewing {
		reviewCfg := cfg.ReviewPolicyFor(t.RepoID).ToReviewgateConfig()
		_, computation, err := svc.RecomputeTaskReviewStatus(ctx, t.ID, reviewCfg, availability, at)
		if err != nil {
			return err
		}

		if e.metrics != nil {
			e.metrics.ReviewDecisions.WithLabelValues(string(computation.Requirement.Capacity)).Inc()
		}

		if computation.Requirement.Capacity == reviewgate.CapacityNeedsHuman {
			if _, err := svc.MarkNeedsHuman(ctx, t.ID, "review capacity requires human intervention", at); err != nil {
				return err
			}
			continue
		}

		readyInput := lifecyclegate.ReadyGateInput{
			VerifyStatus:     t.VerifyStatus,
			ReviewEvaluation: computation.Evaluation,
			GraphiteHygieneOK: true,
		}

		repoCfg, hasRepo := cfg.Repo(t.RepoID)
		submitPolicy := lifecyclegate.SubmitPolicy{
			AutoSubmit: hasRepo && repoCfg.AutoSubmit,
			OrgDefault: task.SubmitSingle,
		}
		if hasRepo && repoCfg.SubmitMode != "" {
			mode := repoCfg.SubmitMode
			submitPolicy.RepoOverride = &mode
		}

		if _, err := svc.PromoteTaskAfterReview(ctx, t.ID, readyInput, submitPolicy, at); err != nil {
			return err
		}
	}

	return nil
}
