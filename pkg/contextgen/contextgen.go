// Package contextgen drives background generation of .othala/context/
// documents: a repo snapshot is handed to an agent, which returns one or
// more delimited file blocks that get written to disk and staleness-marked
// against the current HEAD commit.
package contextgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	patrickmncache "github.com/patrickmn/go-cache"

	"github.com/othala-run/othala/pkg/gendoc"
	"github.com/othala-run/othala/pkg/procrunner"
	"github.com/othala-run/othala/pkg/task"
)

const marker = "FILE"

// Config tunes generation cadence.
type Config struct {
	Cooldown time.Duration
	Model    task.ModelKind
}

func DefaultConfig() Config {
	return Config{Cooldown: 5 * time.Minute, Model: task.ModelClaude}
}

// Tracker remembers each repo's last-generated timestamp so ShouldRegenerate
// can enforce a cooldown without a caller needing to persist that state
// itself. Backed by an in-memory TTL cache since the cooldown window is
// always much shorter than a process lifetime.
type Tracker struct {
	cache *patrickmncache.Cache
}

func NewTracker() *Tracker {
	return &Tracker{cache: patrickmncache.New(24*time.Hour, time.Hour)}
}

func (t *Tracker) MarkGenerated(repoID string, at time.Time) {
	t.cache.Set(repoID, at, patrickmncache.DefaultExpiration)
}

func (t *Tracker) lastGenerated(repoID string) *time.Time {
	v, ok := t.cache.Get(repoID)
	if !ok {
		return nil
	}
	at := v.(time.Time)
	return &at
}

// ShouldRegenerate reports whether repoID's context is due for
// regeneration: no run currently in flight, and either never generated or
// past its cooldown window.
func (t *Tracker) ShouldRegenerate(cfg Config, repoID string, running bool, now time.Time) bool {
	return gendoc.ShouldRegenerate(running, t.lastGenerated(repoID), cfg.Cooldown, now)
}

// ContextDir returns a repo's .othala/context directory.
func ContextDir(repoRoot string) string {
	return filepath.Join(repoRoot, ".othala", "context")
}

func gitHashPath(repoRoot string) string {
	return filepath.Join(ContextDir(repoRoot), ".git-hash")
}

// IsCurrent reports whether MAIN.md exists and its recorded HEAD hash
// matches headSHA (empty headSHA means "couldn't determine", which is
// treated as current as long as MAIN.md exists).
func IsCurrent(repoRoot, headSHA string) bool {
	marker := filepath.Join(ContextDir(repoRoot), "MAIN.md")
	return gendoc.IsCurrent(marker, headSHA != "", headSHA, gitHashPath(repoRoot))
}

// HeadSHA shells out to resolve the repo's current commit.
func HeadSHA(ctx context.Context, repoRoot string) (string, error) {
	run, err := procrunner.Spawn(ctx, "git", []string{"rev-parse", "HEAD"}, repoRoot, 10*time.Second)
	if err != nil {
		return "", err
	}
	var lines []string
	for line := range run.Lines {
		if line.Stream == procrunner.Stdout {
			lines = append(lines, line.Text)
		}
	}
	res := <-run.Done
	if res.Err != nil || res.ExitCode != 0 {
		return "", fmt.Errorf("contextgen: rev-parse HEAD: exit=%d", res.ExitCode)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("contextgen: rev-parse HEAD: no output")
	}
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// ScanRepoSnapshot builds the markdown snapshot handed to the generation
// agent: the module manifest, README, a two-level directory listing, and
// the first 80 lines of each top-level Go package's primary file.
func ScanRepoSnapshot(repoRoot string) string {
	var b strings.Builder
	b.WriteString("# Repository Snapshot\n\n")

	if content, err := os.ReadFile(filepath.Join(repoRoot, "go.mod")); err == nil {
		b.WriteString("## go.mod (module root)\n```\n")
		b.Write(content)
		b.WriteString("\n```\n\n")
	}

	if content, err := os.ReadFile(filepath.Join(repoRoot, "README.md")); err == nil {
		b.WriteString("## README.md\n")
		b.Write(content)
		b.WriteString("\n\n")
	}

	b.WriteString("## Directory Structure\n```\n")
	for _, line := range twoLevelListing(repoRoot) {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")

	pkgDir := filepath.Join(repoRoot, "pkg")
	if entries, err := os.ReadDir(pkgDir); err == nil {
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			appendPackageExcerpt(&b, pkgDir, name)
		}
	}

	return b.String()
}

func appendPackageExcerpt(b *strings.Builder, pkgDir, name string) {
	dirPath := filepath.Join(pkgDir, name)
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return
	}
	primary := name + ".go"
	found := false
	for _, e := range entries {
		if e.Name() == primary {
			found = true
			break
		}
	}
	if !found {
		return
	}
	content, err := os.ReadFile(filepath.Join(dirPath, primary))
	if err != nil {
		return
	}
	lines := strings.Split(string(content), "\n")
	if len(lines) > 80 {
		lines = lines[:80]
	}
	b.WriteString(fmt.Sprintf("## pkg/%s/%s\n```go\n", name, primary))
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n```\n\n")
}

func twoLevelListing(repoRoot string) []string {
	var out []string
	entries, err := os.ReadDir(repoRoot)
	if err != nil {
		return out
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") && name != ".othala" {
			continue
		}
		if !e.IsDir() {
			out = append(out, name)
			continue
		}
		out = append(out, name)
		subEntries, err := os.ReadDir(filepath.Join(repoRoot, name))
		if err != nil {
			continue
		}
		for _, sub := range subEntries {
			if strings.HasPrefix(sub.Name(), ".") {
				continue
			}
			out = append(out, "  "+name+"/"+sub.Name())
		}
	}
	sort.Strings(out)
	return out
}

// BuildPrompt loads the generator template (if present) and appends the
// repo snapshot.
func BuildPrompt(repoRoot, templateDir string) string {
	var b strings.Builder
	if content, err := os.ReadFile(filepath.Join(templateDir, "context-generator.md")); err == nil {
		b.Write(content)
		b.WriteString("\n\n---\n\n")
	}
	b.WriteString(ScanRepoSnapshot(repoRoot))
	return b.String()
}

// ParseOutput parses an agent's raw transcript into the file set it wants
// written, using the "<!-- FILE: name -->" delimiter convention.
func ParseOutput(raw string) gendoc.Output {
	return gendoc.ParseDelimitedBlocks(raw, marker)
}

// WriteFiles writes output under repoRoot/.othala/context and records
// headSHA as the freshness marker.
func WriteFiles(repoRoot, headSHA string, output gendoc.Output) ([]string, error) {
	written, err := gendoc.WriteFiles(ContextDir(repoRoot), output)
	if err != nil {
		return nil, fmt.Errorf("contextgen: write files: %w", err)
	}
	if headSHA != "" {
		if err := gendoc.WriteStoredHash(gitHashPath(repoRoot), headSHA); err != nil {
			return nil, fmt.Errorf("contextgen: write git hash: %w", err)
		}
	}
	return written, nil
}
