package orchestrator

import (
	"context"
	"errors"

	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
)

// ErrRunbookNotFound is returned when neither an explicit id, a
// technique match, nor an advisory suggestion resolves to a runbook.
var ErrRunbookNotFound = errors.New("orchestrator: no matching runbook")

// ErrConfirmationRequired is returned when a selection needs human
// confirmation (more than one technique match, or an advisor
// suggestion) and no confirm callback was supplied.
var ErrConfirmationRequired = errors.New("orchestrator: runbook selection requires human confirmation")

// Index looks runbooks up by id or by MITRE technique.
type Index struct {
	byID map[string]*model.Runbook
	all  []*model.Runbook
}

// NewIndex builds a lookup index over a fixed set of runbooks.
func NewIndex(runbooks []*model.Runbook) *Index {
	idx := &Index{byID: make(map[string]*model.Runbook, len(runbooks)), all: runbooks}
	for _, rb := range runbooks {
		idx.byID[rb.ID] = rb
	}
	return idx
}

// ByID returns the runbook registered under id.
func (idx *Index) ByID(id string) (*model.Runbook, bool) {
	rb, ok := idx.byID[id]
	return rb, ok
}

// MatchTechniques returns every runbook whose triggers.techniques
// intersects techniqueIDs.
func (idx *Index) MatchTechniques(techniqueIDs []string) []*model.Runbook {
	if len(techniqueIDs) == 0 {
		return nil
	}
	want := make(map[string]bool, len(techniqueIDs))
	for _, t := range techniqueIDs {
		want[t] = true
	}
	var out []*model.Runbook
	for _, rb := range idx.all {
		for _, t := range rb.Triggers.Techniques {
			if want[t] {
				out = append(out, rb)
				break
			}
		}
	}
	return out
}

// Advisor is the advisory runbook-suggestion hook the llm package
// implements. A failure or empty suggestion here never blocks
// resolution; it only means no suggestion was available.
type Advisor interface {
	Suggest(ctx context.Context, alert *model.AlertEvent, candidates []*model.Runbook) (*model.Runbook, error)
}

// ConfirmFunc asks a human to pick one runbook out of candidates, or
// reject the selection entirely.
type ConfirmFunc func(ctx context.Context, candidates []*model.Runbook) (*model.Runbook, error)

// ResolveRunbook implements §4.9 step 1: an explicit id always wins;
// otherwise a unique MITRE-technique match is used without
// confirmation; any other case (multiple technique matches, or an
// LLM suggestion) requires a human confirmation callback.
func ResolveRunbook(ctx context.Context, idx *Index, alert *model.AlertEvent, explicitID string, advisor Advisor, confirm ConfirmFunc) (*model.Runbook, error) {
	if explicitID != "" {
		rb, ok := idx.ByID(explicitID)
		if !ok {
			return nil, core.NewEngineError("orchestrator.ResolveRunbook", core.ComponentEngine, ErrRunbookNotFound).WithEntity(explicitID)
		}
		return rb, nil
	}

	matches := idx.MatchTechniques(alert.Techniques())
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return confirmSelection(ctx, matches, confirm)
	}

	if advisor != nil {
		suggestion, err := advisor.Suggest(ctx, alert, idx.all)
		if err == nil && suggestion != nil {
			return confirmSelection(ctx, []*model.Runbook{suggestion}, confirm)
		}
	}

	return nil, core.NewEngineError("orchestrator.ResolveRunbook", core.ComponentEngine, ErrRunbookNotFound)
}

func confirmSelection(ctx context.Context, candidates []*model.Runbook, confirm ConfirmFunc) (*model.Runbook, error) {
	if confirm == nil {
		return nil, ErrConfirmationRequired
	}
	return confirm(ctx, candidates)
}
