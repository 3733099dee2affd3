package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
)

// Advisor suggests a runbook for an alert that matched no MITRE
// technique, by describing the alert and the candidate runbooks to an
// AIClient and asking it to name one by id. It implements
// orchestrator.Advisor structurally, without importing it.
type Advisor struct {
	client core.AIClient
	model  string
	logger core.Logger
}

// NewAdvisor returns an Advisor backed by client. A nil client makes
// every Suggest call a no-op, so callers can wire this up
// unconditionally and let Configured() (or a nil client) gate it.
func NewAdvisor(client core.AIClient, logger core.Logger) *Advisor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Advisor{client: client, model: "gpt-4o-mini", logger: logger}
}

// Suggest asks the model to pick one candidate runbook id for alert.
// Any error, an empty response, or a response naming an id absent from
// candidates yields (nil, nil): advisory failure is never fatal.
func (a *Advisor) Suggest(ctx context.Context, alert *model.AlertEvent, candidates []*model.Runbook) (*model.Runbook, error) {
	if a == nil || a.client == nil || len(candidates) == 0 {
		return nil, nil
	}

	prompt := buildSuggestionPrompt(alert, candidates)
	resp, err := a.client.GenerateResponse(ctx, prompt, &core.AIOptions{
		Model:        a.model,
		SystemPrompt: "You are a security operations assistant. Respond with a single JSON object only.",
		Temperature:  0,
		MaxTokens:    200,
	})
	if err != nil {
		a.logger.Warn("runbook suggestion failed", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}

	id := extractRunbookID(resp.Content)
	if id == "" {
		return nil, nil
	}
	for _, rb := range candidates {
		if rb.ID == id {
			return rb, nil
		}
	}
	return nil, nil
}

func buildSuggestionPrompt(alert *model.AlertEvent, candidates []*model.Runbook) string {
	var b strings.Builder
	b.WriteString("An alert did not match any runbook by MITRE technique. ")
	b.WriteString("Pick the single best-fitting runbook id from the candidates below, ")
	b.WriteString("or respond with {\"runbook_id\": \"\"} if none fit.\n\n")

	b.WriteString("Alert:\n")
	b.WriteString("  timestamp: " + alert.Timestamp + "\n")
	b.WriteString("  event.kind: " + alert.Event.Kind + "\n")
	if len(alert.Event.Category) > 0 {
		b.WriteString("  event.category: " + strings.Join(alert.Event.Category, ", ") + "\n")
	}
	if len(alert.Tags) > 0 {
		b.WriteString("  tags: " + strings.Join(alert.Tags, ", ") + "\n")
	}

	b.WriteString("\nCandidates:\n")
	for _, rb := range candidates {
		b.WriteString("  - id: " + rb.ID + "\n")
		b.WriteString("    name: " + rb.Metadata.Name + "\n")
		if len(rb.Metadata.Tags) > 0 {
			b.WriteString("    tags: " + strings.Join(rb.Metadata.Tags, ", ") + "\n")
		}
		if len(rb.Triggers.Techniques) > 0 {
			b.WriteString("    techniques: " + strings.Join(rb.Triggers.Techniques, ", ") + "\n")
		}
	}

	b.WriteString("\nRespond with exactly: {\"runbook_id\": \"<id>\"}")
	return b.String()
}

var jsonObjectPattern = regexp.MustCompile(`\{[^{}]*\}`)

// extractRunbookID pulls the runbook_id field out of the model's
// response, tolerating surrounding prose the model adds despite being
// asked not to.
func extractRunbookID(content string) string {
	match := jsonObjectPattern.FindString(content)
	if match == "" {
		return ""
	}
	var parsed struct {
		RunbookID string `json:"runbook_id"`
	}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return ""
	}
	return parsed.RunbookID
}
