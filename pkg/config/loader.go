package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/othala-run/othala/pkg/task"
)

// Load reads othala.yaml from configDir, expands environment variables,
// merges each repo entry onto the org defaults, and validates the result.
func Load(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	path := filepath.Join(configDir, "othala.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var org OrgConfig
	org.Repos = make(map[string]RepoConfig)
	if err := yaml.Unmarshal(data, &org); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	applyOrgDefaults(&org)

	repos := make(map[string]RepoConfig, len(org.Repos))
	for id, rc := range org.Repos {
		rc.RepoID = id
		if err := mergo.Merge(&rc, defaultRepoConfig(org)); err != nil {
			return nil, fmt.Errorf("failed to merge repo %q config: %w", id, err)
		}
		repos[id] = rc
	}

	cfg := &Config{configDir: configDir, Org: org, Repos: repos}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration loaded", "repos", len(cfg.Repos))
	return cfg, nil
}

// defaultRepoConfig returns the defaults mergo fills into a repo entry's
// empty fields (currently only a "main" trunk branch); review, verify and
// stack-tool fallback is resolved lazily by Config.ReviewPolicyFor et al.
func defaultRepoConfig(org OrgConfig) RepoConfig {
	return RepoConfig{
		TrunkBranch: "main",
	}
}

func applyOrgDefaults(org *OrgConfig) {
	if org.Review.Policy == "" {
		org.Review.Policy = "strict"
	}
	if org.Review.MinApprovals == 0 {
		org.Review.MinApprovals = 1
	}
	if org.Scheduler.MaxGlobalConcurrent == 0 {
		org.Scheduler.MaxGlobalConcurrent = 8
	}
	if org.Scheduler.MaxPerRepo == 0 {
		org.Scheduler.MaxPerRepo = 4
	}
	if org.Verify.Timeout == 0 {
		org.Verify.Timeout = 10 * time.Minute
	}
	if org.StackTool.Binary == "" {
		org.StackTool.Binary = "gt"
	}
	if org.StackTool.Timeout == 0 {
		org.StackTool.Timeout = 2 * time.Minute
	}
	if org.Notify.Slack.TokenEnv == "" {
		org.Notify.Slack.TokenEnv = "SLACK_BOT_TOKEN"
	}
	if org.QA.Model == "" {
		org.QA.Model = task.ModelClaude
	}
	if org.QA.Timeout == 0 {
		org.QA.Timeout = 10 * time.Minute
	}
}
