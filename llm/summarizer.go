package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
)

// Summarizer turns a completed execution into a short, human-readable
// narrative for analyst review. Like Advisor, a failure here never
// propagates: callers fall back to FallbackSummary.
type Summarizer struct {
	client core.AIClient
	model  string
	logger core.Logger
}

// NewSummarizer returns a Summarizer backed by client.
func NewSummarizer(client core.AIClient, logger core.Logger) *Summarizer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Summarizer{client: client, model: "gpt-4o-mini", logger: logger}
}

// Summarize describes exec in a few sentences. On any failure, or when
// no client is configured, it returns FallbackSummary(exec) instead of
// an error.
func (s *Summarizer) Summarize(ctx context.Context, exec *model.Execution) string {
	if s == nil || s.client == nil {
		return FallbackSummary(exec)
	}

	resp, err := s.client.GenerateResponse(ctx, buildSummaryPrompt(exec), &core.AIOptions{
		Model:        s.model,
		SystemPrompt: "You are a security operations assistant. Summarize the runbook execution in 2-4 plain sentences for an analyst.",
		Temperature:  0.2,
		MaxTokens:    300,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			s.logger.Warn("execution summary failed", map[string]interface{}{"error": err.Error()})
		}
		return FallbackSummary(exec)
	}
	return strings.TrimSpace(resp.Content)
}

func buildSummaryPrompt(exec *model.Execution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Runbook %q (%s) reached state %q.\n", exec.RunbookName, exec.RunbookID, exec.State)
	if exec.Error != "" {
		fmt.Fprintf(&b, "Failure reason: %s\n", exec.Error)
	}
	b.WriteString("Steps:\n")
	for _, r := range exec.StepResults {
		status := "succeeded"
		switch {
		case r.Skipped:
			status = "skipped"
		case !r.Success:
			status = "failed"
		}
		fmt.Fprintf(&b, "  - %s (%s) via %s: %s\n", r.StepID, r.Action, r.Executor, status)
		if r.Error != nil {
			fmt.Fprintf(&b, "    error: %s\n", r.Error.Message)
		}
	}
	return b.String()
}

// FallbackSummary builds a deterministic, templated summary with no
// model call, used whenever no AIClient is configured or the call
// fails.
func FallbackSummary(exec *model.Execution) string {
	if exec == nil {
		return "no execution to summarize"
	}
	succeeded, failed, skipped := 0, 0, 0
	for _, r := range exec.StepResults {
		switch {
		case r.Skipped:
			skipped++
		case r.Success:
			succeeded++
		default:
			failed++
		}
	}
	summary := fmt.Sprintf("Runbook %q ended in state %q: %d succeeded, %d failed, %d skipped.",
		exec.RunbookName, exec.State, succeeded, failed, skipped)
	if exec.Error != "" {
		summary += " Reason: " + exec.Error + "."
	}
	return summary
}
