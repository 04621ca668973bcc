package config

import "fmt"

// Validate checks structural invariants Load cannot express in the YAML
// schema itself: the org must enable at least one review model, the org
// review policy must be a recognized value, the global scheduler limit must
// be positive, and every repo must name a filesystem path and trunk branch.
func Validate(cfg *Config) error {
	if len(cfg.Org.Review.EnabledModels) == 0 {
		return NewValidationError("org", "review", "enabled_models", ErrMissingRequiredField)
	}
	switch cfg.Org.Review.Policy {
	case "strict", "adaptive":
	default:
		return NewValidationError("org", "review", "policy", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Org.Review.Policy))
	}
	if cfg.Org.Scheduler.MaxGlobalConcurrent <= 0 {
		return NewValidationError("org", "scheduler", "max_global_concurrent", ErrInvalidValue)
	}

	for id, rc := range cfg.Repos {
		if rc.RepoPath == "" {
			return NewValidationError("repo", id, "repo_path", ErrMissingRequiredField)
		}
		if rc.TrunkBranch == "" {
			return NewValidationError("repo", id, "trunk_branch", ErrMissingRequiredField)
		}
	}
	return nil
}
