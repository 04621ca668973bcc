package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/othala-run/othala/pkg/config"
	"github.com/othala-run/othala/pkg/task"
)

func TestAgentBinary_MatchesModelKindString(t *testing.T) {
	cases := map[task.ModelKind]string{
		task.ModelClaude: "claude",
		task.ModelCodex:  "codex",
		task.ModelGemini: "gemini",
	}
	for model, want := range cases {
		if got := agentBinary(model); got != want {
			t.Errorf("agentBinary(%v) = %q, want %q", model, got, want)
		}
	}
}

func TestEventDir_NestsUnderConfigDir(t *testing.T) {
	if got, want := eventDir("/etc/othala"), "/etc/othala/events"; got != want {
		t.Errorf("eventDir = %q, want %q", got, want)
	}
}

func TestBuildNotifySinks_AlwaysIncludesLogSink(t *testing.T) {
	cfg := &config.Config{}
	sinks := buildNotifySinks(cfg)
	if len(sinks) != 1 {
		t.Fatalf("expected exactly the log sink when Slack is disabled, got %d sinks", len(sinks))
	}
	if sinks[0].Name() != "log" {
		t.Errorf("expected log sink, got %q", sinks[0].Name())
	}
}

func TestBuildNotifySinks_SlackEnabledWithoutTokenStaysLogOnly(t *testing.T) {
	cfg := &config.Config{}
	cfg.Org.Notify.Slack.Enabled = true
	cfg.Org.Notify.Slack.TokenEnv = "OTHALA_TEST_UNSET_SLACK_TOKEN"

	sinks := buildNotifySinks(cfg)
	if len(sinks) != 1 {
		t.Fatalf("expected Slack sink to be skipped without a token, got %d sinks", len(sinks))
	}
}

func TestBuildNotifySinks_SlackEnabledWithTokenAddsSlackSink(t *testing.T) {
	t.Setenv("OTHALA_TEST_SLACK_TOKEN", "xoxb-fake")

	cfg := &config.Config{}
	cfg.Org.Notify.Slack.Enabled = true
	cfg.Org.Notify.Slack.TokenEnv = "OTHALA_TEST_SLACK_TOKEN"
	cfg.Org.Notify.Slack.Channel = "#othala"

	sinks := buildNotifySinks(cfg)
	if len(sinks) != 2 {
		t.Fatalf("expected log + slack sinks, got %d", len(sinks))
	}
	names := map[string]bool{}
	for _, s := range sinks {
		names[s.Name()] = true
	}
	if !names["log"] || !names["slack"] {
		t.Errorf("expected log and slack sinks, got %v", names)
	}
}

func TestGroup_FirstErrorCancelsSiblingsAndIsReturned(t *testing.T) {
	g, gctx := errGroupWithContext(context.Background())
	boom := errors.New("boom")

	started := make(chan struct{})
	g.Go(func() error {
		close(started)
		return boom
	})
	g.Go(func() error {
		<-started
		select {
		case <-gctx.Done():
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("sibling was never canceled")
		}
	})

	if err := g.Wait(); err != boom {
		t.Fatalf("expected the first error to win, got %v", err)
	}
}

func TestGroup_AllSucceedYieldsNilError(t *testing.T) {
	g, _ := errGroupWithContext(context.Background())
	g.Go(func() error { return nil })
	g.Go(func() error { return nil })

	if err := g.Wait(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
