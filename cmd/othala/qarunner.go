package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/othala-run/othala/pkg/config"
	"github.com/othala-run/othala/pkg/contextgen"
	"github.com/othala-run/othala/pkg/metrics"
	"github.com/othala-run/othala/pkg/procrunner"
	"github.com/othala-run/othala/pkg/qa"
	"github.com/othala-run/othala/pkg/service"
	"github.com/othala-run/othala/pkg/task"
)

// qaRunner sweeps tasks awaiting review and runs a validation QA pass
// against each one's baseline/task spec, independent of the runtime tick
// loop for the same reason context-gen is: a QA agent run (bounded only by
// QAConfig.Timeout) takes far longer than a tick could absorb.
type qaRunner struct {
	svc     *service.Service
	metrics *metrics.Registry
}

func newQARunner(svc *service.Service, reg *metrics.Registry) *qaRunner {
	return &qaRunner{svc: svc, metrics: reg}
}

// Run loops until ctx is canceled, sweeping REVIEWING tasks once per
// interval.
func (r *qaRunner) Run(ctx context.Context, cfg *config.Config, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !cfg.Org.QA.Enabled {
				continue
			}
			r.sweep(ctx, cfg)
		}
	}
}

func (r *qaRunner) sweep(ctx context.Context, cfg *config.Config) {
	reviewing, err := r.svc.ListTasksByState(ctx, task.StateReviewing)
	if err != nil {
		slog.Warn("qa-runner: list reviewing tasks failed", "error", err)
		return
	}
	for _, t := range reviewing {
		repoCfg, ok := cfg.Repo(t.RepoID)
		if !ok || repoCfg.RepoPath == "" {
			continue
		}
		r.runTask(ctx, cfg.Org.QA, t, repoCfg)
	}
}

func (r *qaRunner) runTask(ctx context.Context, qaCfg config.QAConfig, t task.Task, repoCfg config.RepoConfig) {
	branch := ""
	if t.BranchName != nil {
		branch = *t.BranchName
	}
	if branch == "" {
		return
	}
	runtimePath := repoCfg.RepoPath
	if t.WorktreePath != "" {
		runtimePath = t.WorktreePath
	}

	headSHA, err := contextgen.HeadSHA(ctx, runtimePath)
	if err != nil {
		slog.Warn("qa-runner: could not read HEAD", "task", t.ID, "error", err)
		return
	}

	var previous *qa.Result
	if prev, ok := qa.LoadLatestResult(repoCfg.RepoPath, branch); ok {
		if prev.Commit == headSHA {
			return // already validated this commit
		}
		previous = &prev
	}

	baseline, _ := qa.LoadBaseline(repoCfg.RepoPath)
	taskSpec, _ := qa.LoadTaskSpec(repoCfg.RepoPath, t.ID)

	prompt := qa.BuildPrompt(repoCfg.RepoPath, "qa_validator.md", baseline, taskSpec, previous)

	started := time.Now()
	run, err := procrunner.Spawn(ctx, agentBinary(qaCfg.Model), []string{"-p", prompt}, runtimePath, qaCfg.Timeout)
	if err != nil {
		slog.Warn("qa-runner: spawn failed", "task", t.ID, "error", err)
		r.recordAgentRun(string(qaCfg.Model), "error", started)
		return
	}
	raw := collectStdout(run)
	r.recordAgentRun(string(qaCfg.Model), "ok", started)

	result := qa.ParseOutput(raw, time.Now())
	if result.Branch == "unknown" {
		result.Branch = branch
	}
	if result.Commit == "unknown" {
		result.Commit = headSHA
	}

	path, err := qa.SaveResult(repoCfg.RepoPath, result)
	if err != nil {
		slog.Warn("qa-runner: save result failed", "task", t.ID, "error", err)
		return
	}
	slog.Info("qa validation complete",
		"task", t.ID, "branch", branch, "passed", result.Summary.Passed, "total", result.Summary.Total, "path", path)

	if result.Summary.Failed > 0 {
		failed := failedTestNames(result)
		_ = r.svc.RecordEvent(ctx, task.Event{
			ID:     task.NewID(),
			TaskID: &t.ID,
			RepoID: &t.RepoID,
			At:     time.Now(),
			Kind: task.EventKind{
				Tag:     task.EventError,
				Code:    "qa_validation_failed",
				Message: fmt.Sprintf("qa regression: %d/%d tests failed (%v)", result.Summary.Failed, result.Summary.Total, failed),
			},
		})
	}
}

func (r *qaRunner) recordAgentRun(model, status string, started time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.AgentRunsTotal.WithLabelValues(model, status).Inc()
	r.metrics.AgentRunDuration.WithLabelValues(model).Observe(time.Since(started).Seconds())
}

func failedTestNames(result qa.Result) []string {
	var failed []string
	for _, tr := range result.Tests {
		if !tr.Passed {
			failed = append(failed, tr.Name)
		}
	}
	return failed
}
