package qa

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleSpec = `# Baseline

## Startup

- daemon prints a banner on boot, should include version
- health endpoint responds within 2s

## CLI

- othala status exits zero when idle
`

func TestParseSpec(t *testing.T) {
	spec := ParseSpec(sampleSpec)
	if len(spec.Tests) != 3 {
		t.Fatalf("expected 3 test cases, got %d: %+v", len(spec.Tests), spec.Tests)
	}
	if spec.Tests[0].Suite != "startup" {
		t.Fatalf("expected suite 'startup', got %q", spec.Tests[0].Suite)
	}
	if spec.Tests[0].Name != "daemon_prints_a_banner_on_boot" {
		t.Fatalf("unexpected name: %q", spec.Tests[0].Name)
	}
	if spec.Tests[2].Suite != "cli" {
		t.Fatalf("expected suite 'cli', got %q", spec.Tests[2].Suite)
	}
}

func TestParseSpec_TruncatesLongNames(t *testing.T) {
	longItem := "- this is a very long test case description that goes on and on and on and on and on and keeps going well past sixty characters total"
	spec := ParseSpec("## general\n" + longItem)
	if len(spec.Tests) != 1 {
		t.Fatalf("expected 1 test, got %d", len(spec.Tests))
	}
	if len(spec.Tests[0].Name) > 60 {
		t.Fatalf("expected name truncated to 60 chars, got %d", len(spec.Tests[0].Name))
	}
}

func TestSanitizeBranchName(t *testing.T) {
	got := SanitizeBranchName("feature/fix-thing_v2")
	want := "feature-fix-thing_v2"
	if got != want {
		t.Fatalf("SanitizeBranchName = %q, want %q", got, want)
	}
}

const sampleOutput = `
Some agent narration here.
<!-- QA_META: task/fix-login | abc1234567 -->
Running tests...
<!-- QA_RESULT: startup.daemon_banner | PASS | printed in 120ms -->
<!-- QA_RESULT: cli.status_exit_code | FAIL | exited 1 -->
Done.
`

func TestParseOutput(t *testing.T) {
	now := time.Now().UTC()
	result := ParseOutput(sampleOutput, now)

	if result.Branch != "task/fix-login" {
		t.Fatalf("unexpected branch: %q", result.Branch)
	}
	if result.Commit != "abc1234567" {
		t.Fatalf("unexpected commit: %q", result.Commit)
	}
	if len(result.Tests) != 2 {
		t.Fatalf("expected 2 test results, got %d", len(result.Tests))
	}
	if result.Tests[0].Suite != "startup" || result.Tests[0].Name != "daemon_banner" || !result.Tests[0].Passed {
		t.Fatalf("unexpected first result: %+v", result.Tests[0])
	}
	if result.Tests[1].Passed {
		t.Fatalf("expected second result to be a failure: %+v", result.Tests[1])
	}
	if result.Summary.Total != 2 || result.Summary.Passed != 1 || result.Summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
}

func TestSaveResultAndLoadLatest(t *testing.T) {
	repoRoot := t.TempDir()
	older := Result{
		Branch:    "task/fix-login",
		Commit:    "aaaaaaaaaaaa",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Summary:   Summary{Total: 1, Passed: 1},
	}
	newer := Result{
		Branch:    "task/fix-login",
		Commit:    "bbbbbbbbbbbb",
		Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Summary:   Summary{Total: 1, Passed: 0, Failed: 1},
	}

	if _, err := SaveResult(repoRoot, older); err != nil {
		t.Fatal(err)
	}
	path, err := SaveResult(repoRoot, newer)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "task-fix-login-bbbbbbb.json" {
		t.Fatalf("unexpected result filename: %s", path)
	}

	latest, ok := LoadLatestResult(repoRoot, "task/fix-login")
	if !ok {
		t.Fatal("expected a latest result")
	}
	if latest.Commit != "bbbbbbbbbbbb" {
		t.Fatalf("expected the newer result to win, got commit %s", latest.Commit)
	}
}

func TestBuildPrompt_IncludesBaselineAndTaskSpec(t *testing.T) {
	baseline := Spec{Raw: "## startup\n- banner shows"}
	prompt := BuildPrompt(t.TempDir(), "qa-validator.md", baseline, "- custom acceptance check", nil)

	if !strings.Contains(prompt, "QA Baseline Spec") {
		t.Fatal("expected baseline section in prompt")
	}
	if !strings.Contains(prompt, "Task-Specific Acceptance Tests") {
		t.Fatal("expected task-specific section in prompt")
	}
	if !strings.Contains(prompt, "custom acceptance check") {
		t.Fatal("expected task spec content inlined")
	}
}
