package contextgen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIsCurrent_MissingMainIsNotCurrent(t *testing.T) {
	repoRoot := t.TempDir()
	if IsCurrent(repoRoot, "abc123") {
		t.Fatal("expected not current when MAIN.md doesn't exist")
	}
}

func TestWriteFilesThenIsCurrent(t *testing.T) {
	repoRoot := t.TempDir()
	out := ParseOutput("<!-- FILE: MAIN.md -->\n# hello\n")

	if _, err := WriteFiles(repoRoot, "abc123", out); err != nil {
		t.Fatal(err)
	}
	if !IsCurrent(repoRoot, "abc123") {
		t.Fatal("expected current right after writing with matching hash")
	}
	if IsCurrent(repoRoot, "def456") {
		t.Fatal("expected stale when HEAD has moved")
	}
}

func TestScanRepoSnapshot_IncludesGoModAndReadme(t *testing.T) {
	repoRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoRoot, "go.mod"), []byte("module example.com/x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, "README.md"), []byte("# Example\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	snapshot := ScanRepoSnapshot(repoRoot)
	if !strings.Contains(snapshot, "module example.com/x") {
		t.Fatal("expected go.mod content in snapshot")
	}
	if !strings.Contains(snapshot, "# Example") {
		t.Fatal("expected README content in snapshot")
	}
}

func TestTracker_ShouldRegenerateRespectsCooldown(t *testing.T) {
	tracker := NewTracker()
	cfg := Config{Cooldown: time.Minute}
	now := time.Now()

	if !tracker.ShouldRegenerate(cfg, "repo-1", false, now) {
		t.Fatal("expected true before any generation has happened")
	}

	tracker.MarkGenerated("repo-1", now)
	if tracker.ShouldRegenerate(cfg, "repo-1", false, now.Add(10*time.Second)) {
		t.Fatal("expected false within cooldown window")
	}
	if !tracker.ShouldRegenerate(cfg, "repo-1", false, now.Add(2*time.Minute)) {
		t.Fatal("expected true once cooldown elapses")
	}
}
