package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/othala-run/othala/pkg/config"
	"github.com/othala-run/othala/pkg/contextgen"
	"github.com/othala-run/othala/pkg/metrics"
	"github.com/othala-run/othala/pkg/procrunner"
	"github.com/othala-run/othala/pkg/qaspecgen"
	"github.com/othala-run/othala/pkg/task"
)

// agentBinary maps a model kind to the CLI binary othalad shells out to
// when asking that model to generate context or QA-spec documents.
func agentBinary(m task.ModelKind) string {
	return string(m)
}

// maintainer runs the background context-gen and QA-spec-gen passes every
// repo needs, independent of the runtime tick loop since generation has no
// wall-clock timeout and shouldn't block task progression.
type maintainer struct {
	contextCfg   contextgen.Config
	contextTrack *contextgen.Tracker
	qaCfg        qaspecgen.Config
	qaTrack      *qaspecgen.Tracker
	metrics      *metrics.Registry
}

func newMaintainer(reg *metrics.Registry) *maintainer {
	return &maintainer{
		contextCfg:   contextgen.DefaultConfig(),
		contextTrack: contextgen.NewTracker(),
		qaCfg:        qaspecgen.DefaultConfig(),
		qaTrack:      qaspecgen.NewTracker(),
		metrics:      reg,
	}
}

func (m *maintainer) recordAgentRun(model, status string, started time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.AgentRunsTotal.WithLabelValues(model, status).Inc()
	m.metrics.AgentRunDuration.WithLabelValues(model).Observe(time.Since(started).Seconds())
}

// Run loops until ctx is canceled, sweeping every configured repo once per
// interval and regenerating context/QA-spec documents whenever a repo's
// tracker says it's due.
func (m *maintainer) Run(ctx context.Context, cfg *config.Config, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for repoID, rc := range cfg.Repos {
				m.sweepRepo(ctx, repoID, rc)
			}
		}
	}
}

func (m *maintainer) sweepRepo(ctx context.Context, repoID string, rc config.RepoConfig) {
	if rc.RepoPath == "" {
		return
	}

	headSHA, err := contextgen.HeadSHA(ctx, rc.RepoPath)
	if err != nil {
		slog.Warn("context-gen: could not read HEAD", "repo", repoID, "error", err)
	}

	if contextgen.IsCurrent(rc.RepoPath, headSHA) {
		slog.Debug("context is current, skipping generation", "repo", repoID)
	} else if m.contextTrack.ShouldRegenerate(m.contextCfg, repoID, false, time.Now()) {
		m.generateContext(ctx, repoID, rc, headSHA)
	}

	qaHeadSHA, err := qaspecgen.HeadSHA(ctx, rc.RepoPath)
	if err != nil {
		slog.Warn("qa-spec-gen: could not read HEAD", "repo", repoID, "error", err)
	}
	if qaspecgen.IsCurrent(rc.RepoPath, qaHeadSHA) {
		slog.Debug("qa specs are current, skipping generation", "repo", repoID)
	} else if m.qaTrack.ShouldRegenerate(m.qaCfg, repoID, false, time.Now()) {
		m.generateQASpecs(ctx, repoID, rc, qaHeadSHA)
	}
}

func (m *maintainer) generateContext(ctx context.Context, repoID string, rc config.RepoConfig, headSHA string) {
	prompt := contextgen.BuildPrompt(rc.RepoPath, "")
	started := time.Now()
	run, err := procrunner.Spawn(ctx, agentBinary(m.contextCfg.Model), []string{"-p", prompt}, rc.RepoPath, 0)
	if err != nil {
		slog.Warn("context-gen: spawn failed", "repo", repoID, "error", err)
		m.recordAgentRun(string(m.contextCfg.Model), "error", started)
		return
	}
	raw := collectStdout(run)
	m.recordAgentRun(string(m.contextCfg.Model), "ok", started)
	output := contextgen.ParseOutput(raw)
	if len(output.Files) == 0 {
		return
	}
	if _, err := contextgen.WriteFiles(rc.RepoPath, headSHA, output); err != nil {
		slog.Warn("context-gen: write failed", "repo", repoID, "error", err)
		return
	}
	m.contextTrack.MarkGenerated(repoID, time.Now())
	slog.Info("context regenerated", "repo", repoID, "files", len(output.Files))
}

func (m *maintainer) generateQASpecs(ctx context.Context, repoID string, rc config.RepoConfig, headSHA string) {
	prompt := qaspecgen.BuildPrompt(rc.RepoPath, "")
	started := time.Now()
	run, err := procrunner.Spawn(ctx, agentBinary(m.qaCfg.Model), []string{"-p", prompt}, rc.RepoPath, 0)
	if err != nil {
		slog.Warn("qa-spec-gen: spawn failed", "repo", repoID, "error", err)
		m.recordAgentRun(string(m.qaCfg.Model), "error", started)
		return
	}
	raw := collectStdout(run)
	m.recordAgentRun(string(m.qaCfg.Model), "ok", started)
	output := qaspecgen.ParseOutput(raw)
	if len(output.Files) == 0 {
		return
	}
	if _, err := qaspecgen.WriteFiles(rc.RepoPath, headSHA, output); err != nil {
		slog.Warn("qa-spec-gen: write failed", "repo", repoID, "error", err)
		return
	}
	m.qaTrack.MarkGenerated(repoID, time.Now())
	slog.Info("qa specs regenerated", "repo", repoID, "files", len(output.Files))
}

func collectStdout(run *procrunner.Run) string {
	var out string
	for line := range run.Lines {
		if line.Stream == procrunner.Stdout {
			out += line.Text + "\n"
		}
	}
	<-run.Done
	return out
}
