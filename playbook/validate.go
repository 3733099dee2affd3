// Package playbook parses and validates runbook YAML documents.
// Validation never panics: every failure is returned as an error, and
// success yields a typed model.Runbook.
package playbook

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/detectforge/runbookcore/model"
)

var techniqueRE = regexp.MustCompile(`^T\d{4}(\.\d{3})?$`)

// ValidationErrors collects every schema/invariant violation found
// during validation, so callers see the full list rather than the
// first failure.
type ValidationErrors struct {
	Errors []string
}

func (e *ValidationErrors) Error() string {
	return fmt.Sprintf("playbook validation failed: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationErrors) add(format string, args ...interface{}) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Validate runs schema checks followed by the four structural
// invariants: unique step ids, depends_on referential
// integrity, acyclicity (DFS with a recursion-stack set), and the
// L2-requires-approval rule. It returns a *ValidationErrors (never a
// bare error) when anything fails.
func Validate(r *model.Runbook) error {
	ve := &ValidationErrors{}

	validateSchema(r, ve)
	validateStepIDsUnique(r, ve)
	validateDependsOnExist(r, ve)
	validateAcyclic(r, ve)
	validateL2RequiresApproval(r, ve)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateSchema(r *model.Runbook, ve *ValidationErrors) {
	if u, err := uuid.Parse(r.ID); err != nil {
		ve.add("id must be a UUIDv4: %v", err)
	} else if u.Version() != 4 {
		ve.add("id must be a UUIDv4, got version %d", u.Version())
	}
	if r.Version == "" {
		ve.add("version is required")
	}

	name := r.Metadata.Name
	if len(name) < 3 || len(name) > 100 {
		ve.add("metadata.name must be 3-100 characters")
	}
	if name != strings.TrimSpace(name) {
		ve.add("metadata.name must not have leading/trailing whitespace")
	}
	if len(r.Metadata.Tags) < 1 || len(r.Metadata.Tags) > 20 {
		ve.add("metadata.tags must have 1-20 entries")
	}
	for _, tag := range r.Metadata.Tags {
		if len(tag) < 2 || len(tag) > 50 {
			ve.add("metadata.tags entry %q must be 2-50 characters", tag)
		}
	}

	if len(r.Triggers.DetectionSources) < 1 {
		ve.add("triggers.detection_sources requires at least one entry")
	}
	if len(r.Triggers.Techniques) < 1 {
		ve.add("triggers.techniques requires at least one entry")
	}
	for _, t := range r.Triggers.Techniques {
		if !techniqueRE.MatchString(t) {
			ve.add("triggers.techniques entry %q does not match T####(.###)?", t)
		}
	}
	if len(r.Triggers.Platforms) < 1 {
		ve.add("triggers.platforms requires at least one entry")
	}

	switch r.Config.AutomationLevel {
	case model.LevelL0, model.LevelL1, model.LevelL2:
	default:
		ve.add("config.automation_level must be L0, L1, or L2")
	}
	if r.Config.MaxExecutionTime < 60 || r.Config.MaxExecutionTime > 3600 {
		ve.add("config.max_execution_time must be 60-3600 seconds")
	}
	if r.Config.ApprovalTimeout != 0 && (r.Config.ApprovalTimeout < 300 || r.Config.ApprovalTimeout > 7200) {
		ve.add("config.approval_timeout must be 300-7200 seconds")
	}

	if len(r.Steps) < 1 || len(r.Steps) > 50 {
		ve.add("steps must contain 1-50 entries")
	}
	for _, s := range r.Steps {
		validateStep(s, ve)
	}
}

func validateStep(s model.Step, ve *ValidationErrors) {
	if s.ID == "" {
		ve.add("step has empty id")
	}
	if s.Name == "" {
		ve.add("step %q requires a name", s.ID)
	}
	if !model.IsValidAction(s.Action) {
		ve.add("step %q has unknown action %q", s.ID, s.Action)
	}
	if s.Executor == "" {
		ve.add("step %q requires an executor", s.ID)
	}
	switch s.OnError {
	case model.OnErrorHalt, model.OnErrorContinue, model.OnErrorSkip:
	default:
		ve.add("step %q has invalid on_error %q", s.ID, s.OnError)
	}
	if s.TimeoutSeconds < 5 || s.TimeoutSeconds > 600 {
		ve.add("step %q timeout must be 5-600 seconds", s.ID)
	}
	if s.Rollback != nil {
		if s.Rollback.TimeoutSeconds < 5 || s.Rollback.TimeoutSeconds > 600 {
			ve.add("step %q rollback timeout must be 5-600 seconds", s.ID)
		}
		if !model.IsValidAction(s.Rollback.Action) {
			ve.add("step %q rollback has unknown action %q", s.ID, s.Rollback.Action)
		}
	}
}

func validateStepIDsUnique(r *model.Runbook, ve *ValidationErrors) {
	seen := make(map[string]bool, len(r.Steps))
	for _, s := range r.Steps {
		if seen[s.ID] {
			ve.add("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
	}
}

func validateDependsOnExist(r *model.Runbook, ve *ValidationErrors) {
	ids := make(map[string]bool, len(r.Steps))
	for _, s := range r.Steps {
		ids[s.ID] = true
	}
	for _, s := range r.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				ve.add("step %q depends_on unknown step %q", s.ID, dep)
			}
		}
	}
}

// validateAcyclic runs DFS with a recursion-stack set over the
// depends_on graph.
func validateAcyclic(r *model.Runbook, ve *ValidationErrors) {
	deps := make(map[string][]string, len(r.Steps))
	for _, s := range r.Steps {
		deps[s.ID] = s.DependsOn
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, dep := range deps[id] {
			if onStack[dep] {
				return true
			}
			if !visited[dep] {
				if visit(dep) {
					return true
				}
			}
		}
		onStack[id] = false
		return false
	}

	for _, s := range r.Steps {
		if !visited[s.ID] {
			if visit(s.ID) {
				ve.add("Circular dependency detected involving step %q", s.ID)
				return
			}
		}
	}
}

func validateL2RequiresApproval(r *model.Runbook, ve *ValidationErrors) {
	if r.Config.AutomationLevel == model.LevelL2 && !r.Config.RequiresApproval {
		ve.add("config.automation_level=L2 requires config.requires_approval=true")
	}
}
