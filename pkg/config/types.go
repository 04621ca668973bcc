package config

import (
	"time"

	"github.com/othala-run/othala/pkg/reviewgate"
	"github.com/othala-run/othala/pkg/scheduler"
	"github.com/othala-run/othala/pkg/task"
)

// OrgConfig is the org-wide YAML file (othala.yaml): defaults every repo
// inherits unless it overrides them in its own RepoConfig.
type OrgConfig struct {
	Review    ReviewPolicyConfig    `yaml:"review"`
	Scheduler SchedulerLimitsConfig `yaml:"scheduler"`
	Verify    VerifyConfig          `yaml:"verify"`
	StackTool StackToolConfig       `yaml:"stack_tool"`
	QA        QAConfig              `yaml:"qa"`
	Notify    NotifyConfig          `yaml:"notify"`
	Repos     map[string]RepoConfig `yaml:"repos"`
}

// ReviewPolicyConfig mirrors reviewgate.Config in YAML-friendly form.
type ReviewPolicyConfig struct {
	EnabledModels []task.ModelKind `yaml:"enabled_models"`
	Policy        string           `yaml:"policy"` // "strict" | "adaptive"
	MinApprovals  int              `yaml:"min_approvals"`
}

// ToReviewgateConfig converts the YAML shape into reviewgate.Config.
func (r ReviewPolicyConfig) ToReviewgateConfig() reviewgate.Config {
	policy := reviewgate.Strict
	if r.Policy == string(reviewgate.Adaptive) {
		policy = reviewgate.Adaptive
	}
	return reviewgate.Config{
		EnabledModels: r.EnabledModels,
		Policy:        policy,
		MinApprovals:  r.MinApprovals,
	}
}

// SchedulerLimitsConfig mirrors scheduler.Limits.
type SchedulerLimitsConfig struct {
	MaxGlobalConcurrent int            `yaml:"max_global_concurrent"`
	MaxPerRepo          int            `yaml:"max_per_repo"`
	MaxPerModel         map[string]int `yaml:"max_per_model"`
}

func (s SchedulerLimitsConfig) ToSchedulerLimits() scheduler.Limits {
	perModel := make(map[task.ModelKind]int, len(s.MaxPerModel))
	for k, v := range s.MaxPerModel {
		perModel[task.ModelKind(k)] = v
	}
	return scheduler.Limits{
		MaxGlobalConcurrent: s.MaxGlobalConcurrent,
		MaxPerRepo:          s.MaxPerRepo,
		MaxPerModel:         perModel,
	}
}

// VerifyConfig describes, per verify tier, the shell commands to run.
type VerifyConfig struct {
	Quick []string `yaml:"quick"`
	Full  []string `yaml:"full"`
	// Timeout bounds a single verify command's wall-clock runtime.
	Timeout time.Duration `yaml:"timeout"`
}

// StackToolConfig mirrors vcs.StackToolConfig in YAML-friendly form, plus
// the graphite-specific behavior flags runtime.rs reads off repo config.
type StackToolConfig struct {
	Binary       string        `yaml:"binary"`
	Timeout      time.Duration `yaml:"timeout"`
	DraftOnStart bool          `yaml:"draft_on_start"`
}

// QAConfig configures the QA-suite runner.
type QAConfig struct {
	Enabled bool           `yaml:"enabled"`
	Model   task.ModelKind `yaml:"model"`
	Timeout time.Duration  `yaml:"timeout"`
}

// NotifyConfig selects and configures notification sinks.
type NotifyConfig struct {
	Slack SlackNotifyConfig `yaml:"slack"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// Graphite holds the repo-specific stacked-branch behavior flags runtime.rs
// reads as `repo_config.graphite.draft_on_start`.
type Graphite struct {
	DraftOnStart bool `yaml:"draft_on_start"`
}

// Nix holds the dev-shell context verify commands run inside, mirroring
// runtime.rs's `repo_config.nix.dev_shell`.
type Nix struct {
	DevShell string `yaml:"dev_shell,omitempty"`
}

// RepoConfig is a single repo's entry under OrgConfig.Repos; any zero-value
// field falls back to the org-wide default of the same concern.
type RepoConfig struct {
	RepoID       string       `yaml:"-"`
	RepoPath     string       `yaml:"repo_path"`
	TrunkBranch  string       `yaml:"trunk_branch"`
	Graphite     Graphite     `yaml:"graphite"`
	Nix          Nix          `yaml:"nix"`
	Review       *ReviewPolicyConfig `yaml:"review,omitempty"`
	Verify       *VerifyConfig       `yaml:"verify,omitempty"`
	StackTool    *StackToolConfig    `yaml:"stack_tool,omitempty"`
	AutoSubmit   bool                `yaml:"auto_submit"`
	SubmitMode   task.SubmitMode     `yaml:"submit_mode,omitempty"`
}

// Config is the fully loaded, merged, and validated configuration tree.
type Config struct {
	configDir string
	Org       OrgConfig
	Repos     map[string]RepoConfig
}

// Repo looks up a repo's merged configuration by id.
func (c *Config) Repo(repoID string) (RepoConfig, bool) {
	rc, ok := c.Repos[repoID]
	return rc, ok
}

// ReviewPolicyFor resolves the effective review policy for a repo, falling
// back to the org default when the repo doesn't override it.
func (c *Config) ReviewPolicyFor(repoID string) ReviewPolicyConfig {
	if rc, ok := c.Repos[repoID]; ok && rc.Review != nil {
		return *rc.Review
	}
	return c.Org.Review
}

// VerifyConfigFor resolves the effective verify command set for a repo.
func (c *Config) VerifyConfigFor(repoID string) VerifyConfig {
	if rc, ok := c.Repos[repoID]; ok && rc.Verify != nil {
		return *rc.Verify
	}
	return c.Org.Verify
}

// StackToolConfigFor resolves the effective stack-tool config for a repo.
func (c *Config) StackToolConfigFor(repoID string) StackToolConfig {
	if rc, ok := c.Repos[repoID]; ok && rc.StackTool != nil {
		return *rc.StackTool
	}
	return c.Org.StackTool
}
