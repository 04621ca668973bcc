// Package qaspecgen drives background generation of .othala/qa/baseline.md
// and supporting QA spec files: a snapshot of the repo's test
// infrastructure (module layout, cmd/ entrypoints, persistence schema,
// state machine) is handed to an agent, which returns delimited file
// blocks written under .othala/qa/specs.
package qaspecgen

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

const marker = "QA_SPEC_FILE"

// Config tunes generation cadence.
type Config struct {
	Cooldown time.Duration
	Model    task.ModelKind
}

func DefaultConfig() Config {
	return Config{Cooldown: 5 * time.Minute, Model: task.ModelClaude}
}

// Tracker remembers each repo's last-generated timestamp.
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

func (t *Tracker) ShouldRegenerate(cfg Config, repoID string, running bool, now time.Time) bool {
	return gendoc.ShouldRegenerate(running, t.lastGenerated(repoID), cfg.Cooldown, now)
}

// QADir returns a repo's .othala/qa directory.
func QADir(repoRoot string) string {
	return filepath.Join(repoRoot, ".othala", "qa")
}

// SpecsDir returns a repo's .othala/qa/specs directory, where per-file QA
// spec output is written.
func SpecsDir(repoRoot string) string {
	return filepath.Join(QADir(repoRoot), "specs")
}

func gitHashPath(repoRoot string) string {
	return filepath.Join(QADir(repoRoot), ".git-hash")
}

// IsCurrent reports whether baseline.md exists and its recorded HEAD hash
// matches headSHA (empty headSHA means "couldn't determine", which is
// treated as current as long as baseline.md exists).
func IsCurrent(repoRoot, headSHA string) bool {
	marker := filepath.Join(QADir(repoRoot), "baseline.md")
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
		return "", fmt.Errorf("qaspecgen: rev-parse HEAD: exit=%d", res.ExitCode)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("qaspecgen: rev-parse HEAD: no output")
	}
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// ScanTestInfrastructure builds the snapshot handed to the QA spec
// generator: module manifest, cmd/ entrypoints, the store's schema
// statements, and the state machine's transition table, all of which help
// the agent understand what surface area is worth testing.
func ScanTestInfrastructure(repoRoot string) string {
	var b strings.Builder
	b.WriteString("# Test Infrastructure Snapshot\n\n")

	if content, err := os.ReadFile(filepath.Join(repoRoot, "go.mod")); err == nil {
		b.WriteString("## go.mod (module root)\n```\n")
		b.Write(content)
		b.WriteString("\n```\n\n")
	}

	b.WriteString("## Binary Entrypoints\n\n")
	cmdDir := filepath.Join(repoRoot, "cmd")
	if entries, err := os.ReadDir(cmdDir); err == nil {
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			mainPath := filepath.Join(cmdDir, name, "main.go")
			content, err := os.ReadFile(mainPath)
			if err != nil {
				continue
			}
			lines := strings.Split(string(content), "\n")
			if len(lines) > 50 {
				lines = lines[:50]
			}
			b.WriteString(fmt.Sprintf("### cmd/%s/main.go (first 50 lines)\n```go\n%s\n```\n\n", name, strings.Join(lines, "\n")))
		}
	}

	b.WriteString("## Persistence Schema\n\n")
	for _, rel := range []string{"pkg/store/migrations/0001_init.up.sql", "pkg/store/store.go"} {
		full := filepath.Join(repoRoot, rel)
		content, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		sqlLines := extractSQLLines(string(content), 40)
		if len(sqlLines) > 0 {
			b.WriteString(fmt.Sprintf("### SQL in %s\n```sql\n%s\n```\n\n", rel, strings.Join(sqlLines, "\n")))
		}
	}

	if content, err := os.ReadFile(filepath.Join(repoRoot, "pkg", "statemachine", "statemachine.go")); err == nil {
		b.WriteString("## State Machine (statemachine.go)\n```go\n")
		b.Write(content)
		b.WriteString("\n```\n\n")
	}

	return b.String()
}

func extractSQLLines(content string, limit int) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		upper := strings.ToUpper(strings.TrimSpace(line))
		if strings.Contains(upper, "CREATE TABLE") || strings.Contains(upper, "INSERT INTO") ||
			strings.Contains(upper, "SELECT ") || strings.Contains(upper, "PRAGMA") {
			out = append(out, line)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// BuildPrompt loads the generator template (if present) and appends the
// test-infrastructure snapshot.
func BuildPrompt(repoRoot, templateDir string) string {
	var b strings.Builder
	if content, err := os.ReadFile(filepath.Join(templateDir, "qa-spec-generator.md")); err == nil {
		b.Write(content)
		b.WriteString("\n\n---\n\n")
	}
	b.WriteString(ScanTestInfrastructure(repoRoot))
	return b.String()
}

// ParseOutput parses an agent's raw transcript into the file set it wants
// written, using the "<!-- QA_SPEC_FILE: name -->" delimiter convention.
func ParseOutput(raw string) gendoc.Output {
	return gendoc.ParseDelimitedBlocks(raw, marker)
}

// WriteFiles writes output under repoRoot/.othala/qa/specs and records
// headSHA as the freshness marker, except for a file literally named
// "baseline.md", which is written straight into .othala/qa (not the specs
// subdirectory) since it's the shared baseline, not a per-task spec.
func WriteFiles(repoRoot, headSHA string, output gendoc.Output) ([]string, error) {
	var baseline, rest gendoc.Output
	for _, f := range output.Files {
		if f.Filename == "baseline.md" {
			baseline.Files = append(baseline.Files, f)
		} else {
			rest.Files = append(rest.Files, f)
		}
	}

	var written []string
	if len(baseline.Files) > 0 {
		w, err := gendoc.WriteFiles(QADir(repoRoot), baseline)
		if err != nil {
			return nil, fmt.Errorf("qaspecgen: write baseline: %w", err)
		}
		written = append(written, w...)
	}
	if len(rest.Files) > 0 {
		w, err := gendoc.WriteFiles(SpecsDir(repoRoot), rest)
		if err != nil {
			return nil, fmt.Errorf("qaspecgen: write specs: %w", err)
		}
		written = append(written, w...)
	}

	if headSHA != "" {
		if err := gendoc.WriteStoredHash(gitHashPath(repoRoot), headSHA); err != nil {
			return nil, fmt.Errorf("qaspecgen: write git hash: %w", err)
		}
	}
	return written, nil
}
