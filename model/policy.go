package model

// PolicyRule binds one action (or the "*" catch-all) to its minimum
// automation level, approval requirement, allowed modes, optional risk
// cap, and admin-override eligibility.
type PolicyRule struct {
	Action           string   `json:"action" yaml:"action"` // Action value, or "*"
	MinLevel         AutomationLevel `json:"min_level" yaml:"min_level"`
	RequiresApproval bool     `json:"requires_approval" yaml:"requires_approval"`
	AllowedModes     []Mode   `json:"allowed_modes" yaml:"allowed_modes"`
	MaxRiskScore     *int     `json:"max_risk_score,omitempty" yaml:"max_risk_score,omitempty"` // 1-10
	AdminOverride    bool     `json:"admin_override,omitempty" yaml:"admin_override,omitempty"`
}

// AutomationPolicy is an ordered set of rules; lookup is first-exact-
// match then "*" fallback.
type AutomationPolicy struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Rules       []PolicyRule `json:"rules" yaml:"rules"`
}

// Lookup finds the rule governing action: first exact match, then the
// "*" catch-all. Returns nil if neither exists.
func (p *AutomationPolicy) Lookup(action Action) *PolicyRule {
	var wildcard *PolicyRule
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.Action == string(action) {
			return r
		}
		if r.Action == "*" {
			wildcard = r
		}
	}
	return wildcard
}

func (m Mode) allowedIn(modes []Mode) bool {
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}
