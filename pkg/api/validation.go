package api

import (
	"errors"
	"fmt"
)

// ValidateConfig checks an orchestration config for structural problems.
// All problems are reported together, each prefixed with its field path.
//
// A config without a default step is valid: the engine tolerates it and
// resolves to "no active step" when nothing else matches. More than one
// default step is rejected because resolution would depend on order.
// Condition types the engine does not know are accepted; they never
// match at evaluation time.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var errs []error
	seen := make(map[string]bool, len(cfg.Steps))
	defaults := 0

	for i := range cfg.Steps {
		step := &cfg.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if step.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", path))
		} else if seen[step.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is not unique", path, step.Name))
		}
		seen[step.Name] = true

		if step.IsDefault {
			defaults++
		}

		for j, cond := range step.Conditions {
			cpath := fmt.Sprintf("%s.conditions[%d]", path, j)
			switch cond.Type {
			case ConditionToolUsed:
				if cond.Value == "" {
					errs = append(errs, fmt.Errorf("%s.value is required for %q", cpath, cond.Type))
				}
			case ConditionSequenceMatch:
				if !step.HasSequence() {
					errs = append(errs, fmt.Errorf("%s requires %s.sequence to be non-empty", cpath, path))
				}
			}
		}

		for j, tool := range step.Sequence {
			if tool == "" {
				errs = append(errs, fmt.Errorf("%s.sequence[%d] must not be empty", path, j))
			}
		}
	}

	if defaults > 1 {
		errs = append(errs, fmt.Errorf("steps: %d steps are marked is_default, at most one is allowed", defaults))
	}

	return errors.Join(errs...)
}
