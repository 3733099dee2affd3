// Package policy implements the per-action rule lookup described in
// minimum level, approval requirement, allowed modes,
// risk cap, and admin override.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/detectforge/runbookcore/model"
)

// LoadFile parses an operator-authored policy document (a plain
// model.AutomationPolicy, same shape Check/CheckBatch consume) from a
// YAML file.
func LoadFile(path string) (*model.AutomationPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %q: %w", path, err)
	}
	var p model.AutomationPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("policy: parse %q: %w", path, err)
	}
	return &p, nil
}

// Severity of a single rule violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is one rule failure, carrying a stable code for
// programmatic matching plus a human message.
type Violation struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Rule violation codes.
const (
	CodeNoMatchingRule         = "no_matching_rule"
	CodeInsufficientLevel      = "insufficient_level"
	CodeModeNotAllowed         = "mode_not_allowed"
	CodeRiskScoreExceeded      = "risk_score_exceeded"
	CodeL2ProductionWriteBlocked = "l2_production_write_blocked"
	CodeL2FlagRequired         = "l2_flag_required"
)

// CheckInput is the request passed to Check.
type CheckInput struct {
	Action          model.Action
	RequestedLevel  model.AutomationLevel
	Mode            model.Mode
	RiskScore       *int // 1-10, optional
	IsAdmin         bool
}

// CheckResult is the outcome of evaluating one action against a policy.
type CheckResult struct {
	Allowed          bool
	Action           model.Action
	RequestedLevel   model.AutomationLevel
	Mode             model.Mode
	RequiresApproval bool
	Violations       []Violation
}

// Check evaluates input against policy in the order mandated by
// rule lookup, level sufficiency, mode, risk cap, the L2
// production-write guard, then the admin-override downgrade.
func Check(input CheckInput, p *model.AutomationPolicy) CheckResult {
	result := CheckResult{
		Action:         input.Action,
		RequestedLevel: input.RequestedLevel,
		Mode:           input.Mode,
	}

	rule := p.Lookup(input.Action)
	if rule == nil {
		result.Violations = append(result.Violations, Violation{
			Code: CodeNoMatchingRule, Message: "no policy rule matches this action", Severity: SeverityError,
		})
		return result
	}
	result.RequiresApproval = rule.RequiresApproval

	if input.RequestedLevel.Rank() < rule.MinLevel.Rank() {
		result.Violations = append(result.Violations, Violation{
			Code:     CodeInsufficientLevel,
			Message:  "requested automation level is below the rule's minimum",
			Severity: SeverityError,
		})
	}

	if !input.Mode.allowedIn(rule.AllowedModes) {
		result.Violations = append(result.Violations, Violation{
			Code:     CodeModeNotAllowed,
			Message:  "execution mode is not permitted for this action",
			Severity: SeverityError,
		})
	}

	if rule.MaxRiskScore != nil && input.RiskScore != nil && *input.RiskScore > *rule.MaxRiskScore {
		result.Violations = append(result.Violations, Violation{
			Code:     CodeRiskScoreExceeded,
			Message:  "risk score exceeds the rule's cap",
			Severity: SeverityError,
		})
	}

	if input.RequestedLevel == model.LevelL2 && input.Mode == model.ModeProduction && model.IsWriteAction(input.Action) {
		result.Violations = append(result.Violations, Violation{
			Code:     CodeL2ProductionWriteBlocked,
			Message:  "L2 must never dispatch a write action in production mode",
			Severity: SeverityError,
		})
	}

	if len(result.Violations) > 0 && input.IsAdmin && rule.AdminOverride {
		for i := range result.Violations {
			result.Violations[i].Severity = SeverityWarning
		}
		result.Allowed = true
		return result
	}

	result.Allowed = len(result.Violations) == 0
	return result
}

// ValidateL2Enabled gates the opt-in L2 flag: a requested level of L2
// without the flag set produces the l2_flag_required violation.
func ValidateL2Enabled(enabled bool, level model.AutomationLevel) *Violation {
	if level == model.LevelL2 && !enabled {
		return &Violation{
			Code:     CodeL2FlagRequired,
			Message:  "L2 automation requires the engine's L2 opt-in flag",
			Severity: SeverityError,
		}
	}
	return nil
}

// BatchResult is one step's outcome from CheckBatch.
type BatchResult struct {
	StepID string
	Result CheckResult
}

// BatchCheckInput is one step's policy check request within CheckBatch.
type BatchCheckInput struct {
	StepID         string
	Action         model.Action
	RequestedLevel model.AutomationLevel
	Mode           model.Mode
	RiskScore      *int
	IsAdmin        bool
}

// CheckBatch validates every step in order. A step that requests L2
// while the opt-in flag is unset short-circuits with the
// l2_flag_required violation; every other step goes through Check.
func CheckBatch(steps []BatchCheckInput, p *model.AutomationPolicy, l2Enabled bool) []BatchResult {
	out := make([]BatchResult, 0, len(steps))
	for _, s := range steps {
		if v := ValidateL2Enabled(l2Enabled, s.RequestedLevel); v != nil {
			out = append(out, BatchResult{StepID: s.StepID, Result: CheckResult{
				Allowed: false, Action: s.Action, RequestedLevel: s.RequestedLevel, Mode: s.Mode,
				Violations: []Violation{*v},
			}})
			continue
		}
		out = append(out, BatchResult{StepID: s.StepID, Result: Check(CheckInput{
			Action: s.Action, RequestedLevel: s.RequestedLevel, Mode: s.Mode, RiskScore: s.RiskScore, IsAdmin: s.IsAdmin,
		}, p)})
	}
	return out
}
