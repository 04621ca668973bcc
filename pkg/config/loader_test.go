package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/othala-run/othala/pkg/task"
)

func writeOrgYAML(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "othala.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_AppliesOrgDefaults(t *testing.T) {
	dir := t.TempDir()
	writeOrgYAML(t, dir, `
review:
  enabled_models: [claude, gpt]
repos:
  svc:
    repo_path: /repos/svc
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Org.Review.Policy != "strict" {
		t.Fatalf("expected default policy strict, got %s", cfg.Org.Review.Policy)
	}
	if cfg.Org.Review.MinApprovals != 1 {
		t.Fatalf("expected default min_approvals 1, got %d", cfg.Org.Review.MinApprovals)
	}
	if cfg.Org.StackTool.Binary != "gt" {
		t.Fatalf("expected default stack tool binary gt, got %s", cfg.Org.StackTool.Binary)
	}
	rc, ok := cfg.Repo("svc")
	if !ok {
		t.Fatal("expected repo svc to be present")
	}
	if rc.TrunkBranch != "main" {
		t.Fatalf("expected fallback trunk branch main, got %s", rc.TrunkBranch)
	}
	if cfg.Org.QA.Model != task.ModelClaude {
		t.Fatalf("expected default qa model claude, got %s", cfg.Org.QA.Model)
	}
	if cfg.Org.QA.Timeout <= 0 {
		t.Fatalf("expected default qa timeout to be set, got %s", cfg.Org.QA.Timeout)
	}
}

func TestLoad_MissingFileReturnsErrConfigNotFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound for a missing othala.yaml, got %v", err)
	}
}

func TestLoad_RejectsRepoWithoutPath(t *testing.T) {
	dir := t.TempDir()
	writeOrgYAML(t, dir, `
review:
  enabled_models: [claude]
repos:
  svc:
    trunk_branch: main
`)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected validation failure for repo missing repo_path")
	}
}

func TestLoad_RepoOverridesReviewPolicy(t *testing.T) {
	dir := t.TempDir()
	writeOrgYAML(t, dir, `
review:
  enabled_models: [claude, gpt]
  policy: strict
  min_approvals: 2
repos:
  svc:
    repo_path: /repos/svc
    review:
      enabled_models: [claude]
      policy: adaptive
      min_approvals: 1
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	policy := cfg.ReviewPolicyFor("svc")
	if policy.Policy != "adaptive" || policy.MinApprovals != 1 {
		t.Fatalf("expected repo override to win, got %+v", policy)
	}
	other := cfg.ReviewPolicyFor("unknown-repo")
	if other.Policy != "strict" || other.MinApprovals != 2 {
		t.Fatalf("expected org default for unknown repo, got %+v", other)
	}
}
