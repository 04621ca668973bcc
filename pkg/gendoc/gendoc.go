// Package gendoc is the shared machinery behind the two agent-driven
// document generators (pkg/contextgen, pkg/qaspecgen): staleness-by-hash
// checking, cooldown gating, delimited-block parsing, and a
// path-traversal-safe file writer. Both generators follow the same
// generate-on-stale-or-missing lifecycle and differ in their marker tag,
// the snapshot they hand the agent, and where their output is written.
package gendoc

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File is one generated document: a relative filename plus its content.
type File struct {
	Filename string
	Content  string
}

// Output is the full set of files an agent run produced.
type Output struct {
	Files []File
}

// ParseDelimitedBlocks splits raw agent output into named file blocks. Each
// block starts with a line of the form "<!-- <marker>: <name> -->" and runs
// until the next such line or end of input. Blank blocks are dropped.
func ParseDelimitedBlocks(raw, marker string) Output {
	prefix := "<!-- " + marker + ":"
	var files []File
	var currentName string
	var content strings.Builder
	haveCurrent := false

	flush := func() {
		if !haveCurrent {
			return
		}
		text := strings.TrimSpace(content.String())
		if text != "" {
			files = append(files, File{Filename: currentName, Content: text})
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
			if name, ok := strings.CutSuffix(rest, "-->"); ok {
				flush()
				currentName = SanitizePath(strings.TrimSpace(name))
				content.Reset()
				haveCurrent = true
				continue
			}
		}
		if haveCurrent {
			content.WriteString(line)
			content.WriteByte('\n')
		}
	}
	flush()

	return Output{Files: files}
}

// SanitizePath makes an agent-supplied filename safe to join under a fixed
// output directory: backslashes and ".." sequences are stripped, leading
// slashes are dropped, and an empty result becomes "unnamed.md".
func SanitizePath(name string) string {
	name = strings.ReplaceAll(name, `\`, "")
	name = strings.ReplaceAll(name, "..", "")
	name = strings.TrimPrefix(name, "/")
	for strings.Contains(name, "//") {
		name = strings.ReplaceAll(name, "//", "/")
	}
	name = strings.Trim(name, "/")
	if name == "" {
		return "unnamed.md"
	}
	return name
}

// WriteFiles writes every file in output under dir, creating subdirectories
// as needed, and returns the paths written. Filenames are expected to
// already be sanitized (ParseDelimitedBlocks does this).
func WriteFiles(dir string, output Output) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	for _, f := range output.Files {
		path := filepath.Join(dir, f.Filename)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
			return nil, err
		}
		written = append(written, path)
	}
	return written, nil
}

// ReadStoredHash reads a previously written staleness marker, trimmed.
func ReadStoredHash(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// WriteStoredHash persists a staleness marker, creating its parent
// directory if needed.
func WriteStoredHash(path, hash string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hash), 0o644)
}

// IsCurrent reports whether a generated document set is up to date: the
// marker file exists AND its hash matches the current one. A missing
// current hash (e.g. not a git repo) is treated as "still current" as long
// as the marker file is present, matching the reference generator's
// can't-tell-so-assume-fine behavior.
func IsCurrent(markerPath string, currentHashAvailable bool, currentHash, storedHashPath string) bool {
	if _, err := os.Stat(markerPath); err != nil {
		return false
	}
	stored, haveStored := ReadStoredHash(storedHashPath)
	switch {
	case currentHashAvailable && haveStored:
		return currentHash == stored
	case !currentHashAvailable:
		return true
	default:
		return false
	}
}

// ShouldRegenerate reports whether a cooldown has elapsed since the last
// generation, or no generation has happened yet. A run already in progress
// never triggers another.
func ShouldRegenerate(running bool, lastGeneratedAt *time.Time, cooldown time.Duration, now time.Time) bool {
	if running {
		return false
	}
	if lastGeneratedAt == nil {
		return true
	}
	return now.Sub(*lastGeneratedAt) >= cooldown
}
