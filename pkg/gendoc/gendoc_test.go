package gendoc

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParseDelimitedBlocks(t *testing.T) {
	raw := "preamble text\n" +
		"<!-- FILE: MAIN.md -->\n" +
		"# Main\n\nsome content\n" +
		"<!-- FILE: architecture/overview.md -->\n" +
		"overview content\n"

	out := ParseDelimitedBlocks(raw, "FILE")
	if len(out.Files) != 2 {
		t.Fatalf("expected 2 files, got %d: %+v", len(out.Files), out.Files)
	}
	if out.Files[0].Filename != "MAIN.md" {
		t.Fatalf("unexpected filename: %q", out.Files[0].Filename)
	}
	if out.Files[1].Filename != "architecture/overview.md" {
		t.Fatalf("unexpected filename: %q", out.Files[1].Filename)
	}
}

func TestParseDelimitedBlocks_DropsEmptyBlocks(t *testing.T) {
	raw := "<!-- FILE: empty.md -->\n\n   \n<!-- FILE: real.md -->\nhas content\n"
	out := ParseDelimitedBlocks(raw, "FILE")
	if len(out.Files) != 1 || out.Files[0].Filename != "real.md" {
		t.Fatalf("expected only the non-empty file to survive, got %+v", out.Files)
	}
}

func TestParseDelimitedBlocks_RejectsPathTraversal(t *testing.T) {
	raw := "<!-- FILE: ../../../etc/passwd -->\nevil content\n"
	out := ParseDelimitedBlocks(raw, "FILE")
	if len(out.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(out.Files))
	}
	if containsDotDot(out.Files[0].Filename) {
		t.Fatalf("expected sanitized filename, got %q", out.Files[0].Filename)
	}
}

func containsDotDot(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			return true
		}
	}
	return false
}

func TestSanitizePath(t *testing.T) {
	cases := map[string]string{
		"architecture/overview.md": "architecture/overview.md",
		"../evil.md":               "evil.md",
		"../../x":                  "x",
		"..":                       "unnamed.md",
		"":                         "unnamed.md",
		"/abs/path.md":             "abs/path.md",
	}
	for in, want := range cases {
		if got := SanitizePath(in); got != want {
			t.Errorf("SanitizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	out := Output{Files: []File{
		{Filename: "MAIN.md", Content: "hello"},
		{Filename: "sub/nested.md", Content: "world"},
	}}
	written, err := WriteFiles(dir, out)
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 written paths, got %d", len(written))
	}
	if _, ok := ReadStoredHash(filepath.Join(dir, "MAIN.md")); !ok {
		t.Fatal("expected MAIN.md to be readable")
	}
}

func TestIsCurrent(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "MAIN.md")
	hashPath := filepath.Join(dir, ".git-hash")

	if IsCurrent(marker, true, "abc123", hashPath) {
		t.Fatal("expected not current: marker file doesn't exist yet")
	}

	if err := WriteStoredHash(hashPath, "abc123"); err != nil {
		t.Fatal(err)
	}
	if err := WriteStoredHash(marker, "placeholder"); err != nil {
		t.Fatal(err)
	}

	if !IsCurrent(marker, true, "abc123", hashPath) {
		t.Fatal("expected current: hashes match")
	}
	if IsCurrent(marker, true, "def456", hashPath) {
		t.Fatal("expected stale: hash changed")
	}
	if !IsCurrent(marker, false, "", hashPath) {
		t.Fatal("expected current: no hash available, marker present")
	}
}

func TestShouldRegenerate(t *testing.T) {
	now := time.Now()
	if !ShouldRegenerate(false, nil, time.Minute, now) {
		t.Fatal("expected true: never generated before")
	}
	if ShouldRegenerate(true, nil, time.Minute, now) {
		t.Fatal("expected false: a run is already in progress")
	}
	last := now.Add(-30 * time.Second)
	if ShouldRegenerate(false, &last, time.Minute, now) {
		t.Fatal("expected false: cooldown not yet elapsed")
	}
	last = now.Add(-2 * time.Minute)
	if !ShouldRegenerate(false, &last, time.Minute, now) {
		t.Fatal("expected true: cooldown elapsed")
	}
}
