// Package qa supports the live QA agent, an agent that actually exercises
// the running system (CLI commands, HTTP probes, repo state inspection)
// rather than reading code: it loads QA specs, builds the agent prompt,
// parses the agent's structured result markers, and persists results under
// a repo's .othala/qa directory. It does not spawn the agent process itself.
package qa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Type distinguishes a baseline run (before a task starts, establishing
// what already works) from a validation run (after, checking for
// regressions plus new acceptance criteria).
type Type string

const (
	TypeBaseline   Type = "baseline"
	TypeValidation Type = "validation"
)

// TestCase is one scenario parsed out of a QA spec markdown file.
type TestCase struct {
	Name  string `json:"name"`
	Suite string `json:"suite"`
	Steps string `json:"steps"`
}

// Spec is a parsed QA spec: the raw markdown plus its extracted test cases.
type Spec struct {
	Raw   string     `json:"raw"`
	Tests []TestCase `json:"tests"`
}

// TestResult is one test case's outcome from an agent run.
type TestResult struct {
	Name       string `json:"name"`
	Suite      string `json:"suite"`
	Passed     bool   `json:"passed"`
	Detail     string `json:"detail"`
	DurationMs uint64 `json:"duration_ms"`
}

// Summary totals a Result's test outcomes.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Result is a complete QA run: which branch/commit was tested, when, and
// the per-test outcomes.
type Result struct {
	Branch    string       `json:"branch"`
	Commit    string       `json:"commit"`
	Timestamp time.Time    `json:"timestamp"`
	Tests     []TestResult `json:"tests"`
	Summary   Summary      `json:"summary"`
}

// Dir returns the .othala/qa root for a repo.
func Dir(repoRoot string) string {
	return filepath.Join(repoRoot, ".othala", "qa")
}

// LoadBaseline reads and parses .othala/qa/baseline.md, if present.
func LoadBaseline(repoRoot string) (Spec, bool) {
	content, err := os.ReadFile(filepath.Join(Dir(repoRoot), "baseline.md"))
	if err != nil {
		return Spec{}, false
	}
	return ParseSpec(string(content)), true
}

// LoadTaskSpec reads the task-specific acceptance spec at
// .othala/qa/specs/{taskID}.md, if present.
func LoadTaskSpec(repoRoot, taskID string) (string, bool) {
	content, err := os.ReadFile(filepath.Join(Dir(repoRoot), "specs", taskID+".md"))
	if err != nil {
		return "", false
	}
	return string(content), true
}

// LoadLatestResult finds the most recently timestamped saved result for a
// branch under .othala/qa/results.
func LoadLatestResult(repoRoot, branch string) (Result, bool) {
	sanitized := SanitizeBranchName(branch)
	resultsDir := filepath.Join(Dir(repoRoot), "results")

	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return Result{}, false
	}

	var latest Result
	found := false
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, sanitized) || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(resultsDir, name))
		if err != nil {
			continue
		}
		var r Result
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		if !found || r.Timestamp.After(latest.Timestamp) {
			latest = r
			found = true
		}
	}
	return latest, found
}

// SaveResult writes result to .othala/qa/results/{branch}-{short_commit}.json
// and mirrors it into .othala/qa/history/{timestamp}.json. Returns the
// results-dir path written.
func SaveResult(repoRoot string, result Result) (string, error) {
	resultsDir := filepath.Join(Dir(repoRoot), "results")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return "", fmt.Errorf("qa: create results dir: %w", err)
	}

	sanitized := SanitizeBranchName(result.Branch)
	shortCommit := result.Commit
	if len(shortCommit) > 7 {
		shortCommit = shortCommit[:7]
	}
	filename := fmt.Sprintf("%s-%s.json", sanitized, shortCommit)
	path := filepath.Join(resultsDir, filename)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("qa: marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("qa: write result %s: %w", path, err)
	}

	historyDir := filepath.Join(Dir(repoRoot), "history")
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return "", fmt.Errorf("qa: create history dir: %w", err)
	}
	historyPath := filepath.Join(historyDir, result.Timestamp.UTC().Format("20060102T150405")+".json")
	if err := os.WriteFile(historyPath, data, 0o644); err != nil {
		return "", fmt.Errorf("qa: write history %s: %w", historyPath, err)
	}

	return path, nil
}

// SanitizeBranchName replaces anything that isn't alphanumeric, '-' or '_'
// with '-' so a branch name is always a safe filename component.
func SanitizeBranchName(branch string) string {
	var b strings.Builder
	b.Grow(len(branch))
	for _, r := range branch {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}

// ParseSpec parses a QA spec markdown document: each "## Heading" starts a
// new suite, and each "- item" line under it becomes a test case whose name
// is a normalized, truncated slug of the item's text up to the first comma.
func ParseSpec(content string) Spec {
	var tests []TestCase
	suite := "general"

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if heading, ok := strings.CutPrefix(trimmed, "## "); ok {
			suite = normalizeSlug(heading)
			continue
		}
		if item, ok := strings.CutPrefix(trimmed, "- "); ok {
			namePart := item
			if idx := strings.Index(item, ","); idx >= 0 {
				namePart = item[:idx]
			}
			name := normalizeSlug(namePart)
			if len(name) > 60 {
				name = name[:60]
			}
			tests = append(tests, TestCase{Name: name, Suite: suite, Steps: item})
		}
	}

	return Spec{Raw: content, Tests: tests}
}

func normalizeSlug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// ParseOutput extracts a Result from an agent's raw transcript text by
// scanning for `<!-- QA_META: branch | commit -->` and
// `<!-- QA_RESULT: [suite.]name | PASS/FAIL | detail -->` marker comments.
func ParseOutput(raw string, at time.Time) Result {
	branch := "unknown"
	commit := "unknown"
	var tests []TestResult

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)

		if rest, ok := strings.CutPrefix(trimmed, "<!-- QA_META:"); ok {
			if content, ok := strings.CutSuffix(rest, "-->"); ok {
				parts := splitTrim(content, "|")
				if len(parts) >= 2 {
					branch = parts[0]
					commit = parts[1]
				}
			}
			continue
		}

		if rest, ok := strings.CutPrefix(trimmed, "<!-- QA_RESULT:"); ok {
			if content, ok := strings.CutSuffix(rest, "-->"); ok {
				parts := splitTrim(content, "|")
				if len(parts) >= 2 {
					name := parts[0]
					passed := strings.EqualFold(parts[1], "PASS")
					detail := ""
					if len(parts) >= 3 {
						detail = parts[2]
					}
					suite, testName := "general", name
					if idx := strings.Index(name, "."); idx >= 0 {
						suite, testName = name[:idx], name[idx+1:]
					}
					tests = append(tests, TestResult{Name: testName, Suite: suite, Passed: passed, Detail: detail})
				}
			}
		}
	}

	summary := Summary{Total: len(tests)}
	for _, t := range tests {
		if t.Passed {
			summary.Passed++
		}
	}
	summary.Failed = summary.Total - summary.Passed

	return Result{Branch: branch, Commit: commit, Timestamp: at, Tests: tests, Summary: summary}
}

func splitTrim(s, sep string) []string {
	raw := strings.Split(s, sep)
	out := make([]string, len(raw))
	for i, p := range raw {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// BuildPrompt assembles the full agent prompt from a template, the baseline
// spec, an optional task-specific spec, and the previous run's result (so a
// validation run knows what it's diffing against).
func BuildPrompt(templateDir, templateName string, baseline Spec, taskSpec string, previous *Result) string {
	var sections []string

	if data, err := os.ReadFile(filepath.Join(templateDir, templateName)); err == nil {
		content := strings.TrimSpace(string(data))
		if strings.Count(content, "\n") > 0 {
			sections = append(sections, content)
		}
	}

	sections = append(sections, fmt.Sprintf(
		"# QA Baseline Spec\n\nExecute each test scenario below. For each one, report a result line.\n\n%s\n",
		baseline.Raw,
	))

	if taskSpec != "" {
		sections = append(sections, fmt.Sprintf(
			"# Task-Specific Acceptance Tests\n\nIn addition to the baseline tests above, verify these task-specific scenarios:\n\n%s\n",
			taskSpec,
		))
	}

	if previous != nil {
		sections = append(sections, fmt.Sprintf(
			"# Previous Result\n\n%d/%d tests passed as of %s on commit %s.\n",
			previous.Summary.Passed, previous.Summary.Total,
			previous.Timestamp.Format(time.RFC3339), shortCommit(previous.Commit),
		))
	}

	sections = append(sections, resultFormatInstructions())

	return strings.Join(sections, "\n\n")
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

func resultFormatInstructions() string {
	return "# Reporting Results\n\n" +
		"Emit one `<!-- QA_META: <branch> | <commit> -->` line once at the start.\n" +
		"Emit one `<!-- QA_RESULT: <suite>.<name> | PASS|FAIL | <detail> -->` line per test case."
}

// SortResultsByTimestamp sorts a result slice oldest-first, used when
// presenting a branch's QA history.
func SortResultsByTimestamp(results []Result) {
	sort.Slice(results, func(i, j int) bool { return results[i].Timestamp.Before(results[j].Timestamp) })
}
