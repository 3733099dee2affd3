// Package model holds the wire and persistence types shared by every
// other package: the alert event, the runbook/step schema, execution
// and audit records, and the automation policy shape.
package model

import "encoding/json"

// AlertEvent is the normalized input the orchestrator receives.
// Minimum validity (enforced by Validate): Timestamp is non-empty and
// Event is present.
type AlertEvent struct {
	Timestamp   string          `json:"@timestamp"`
	Event       EventBlock      `json:"event"`
	Host        json.RawMessage `json:"host,omitempty"`
	Source      json.RawMessage `json:"source,omitempty"`
	Destination json.RawMessage `json:"destination,omitempty"`
	Process     json.RawMessage `json:"process,omitempty"`
	File        json.RawMessage `json:"file,omitempty"`
	User        json.RawMessage `json:"user,omitempty"`
	Threat      *ThreatBlock    `json:"threat,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Detection   *DetectionMeta  `json:"x-detectforge,omitempty"`

	// eventPresent records whether the decoded payload carried an
	// `event` key at all, distinguishing a missing block from an
	// explicit `"event": {}`. Only UnmarshalJSON sets this; a struct
	// literal built directly in Go code is assumed to mean what its
	// Event field says.
	eventPresent bool
}

// UnmarshalJSON decodes a standard AlertEvent payload and separately
// records whether the `event` key was present, so Validate can reject
// its outright absence instead of treating it the same as `event: {}`.
func (a *AlertEvent) UnmarshalJSON(data []byte) error {
	type alias AlertEvent
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	_, tmp.eventPresent = probe["event"]
	*a = AlertEvent(tmp)
	return nil
}

// EventBlock carries the core alert classification.
type EventBlock struct {
	Kind       string   `json:"kind,omitempty"` // alert | event | metric
	Category   []string `json:"category,omitempty"`
	Type       []string `json:"type,omitempty"`
	Severity   *float64 `json:"severity,omitempty"` // 0-100
	Outcome    string   `json:"outcome,omitempty"`
	RiskScore  *float64 `json:"risk_score,omitempty"`
}

// ThreatBlock carries MITRE ATT&CK attribution.
type ThreatBlock struct {
	Framework string      `json:"framework,omitempty"` // "MITRE ATT&CK"
	Technique []MitreRef  `json:"technique,omitempty"`
	Tactic    []MitreRef  `json:"tactic,omitempty"`
	Indicator interface{} `json:"indicator,omitempty"`
}

// MitreRef is an id+name pair used for both technique and tactic.
type MitreRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DetectionMeta is the optional detection-pipeline metadata block.
type DetectionMeta struct {
	RuleID          string `json:"rule_id,omitempty"`
	RuleName        string `json:"rule_name,omitempty"`
	RuleVersion     string `json:"rule_version,omitempty"`
	GeneratedAt     string `json:"generated_at,omitempty"`
	Confidence      string `json:"confidence,omitempty"` // low|medium|high
	SuggestedRunbook string `json:"suggested_runbook,omitempty"`
}

// Validate enforces the minimum validity an ingested alert must have: a
// non-empty timestamp and a present event block. Every other field is
// optional and ignored when absent. A payload decoded through
// UnmarshalJSON that omitted the `event` key outright is rejected even
// though it is indistinguishable from `event: {}` once unmarshaled into
// a zero-value EventBlock; an AlertEvent built directly as a struct
// literal is taken at face value instead.
func (a *AlertEvent) Validate() error {
	if a.Timestamp == "" {
		return errValidation("@timestamp is required")
	}
	if !a.eventPresent && isZeroEventBlock(a.Event) {
		return errValidation("event is required")
	}
	return nil
}

func isZeroEventBlock(e EventBlock) bool {
	return e.Kind == "" && len(e.Category) == 0 && len(e.Type) == 0 &&
		e.Severity == nil && e.Outcome == "" && e.RiskScore == nil
}

// Techniques returns the MITRE technique ids attached to the alert, if any.
func (a *AlertEvent) Techniques() []string {
	if a.Threat == nil {
		return nil
	}
	ids := make([]string, 0, len(a.Threat.Technique))
	for _, t := range a.Threat.Technique {
		ids = append(ids, t.ID)
	}
	return ids
}

func errValidation(msg string) error { return &ValidationError{Message: msg} }

// ValidationError is returned by Validate functions across this package.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
