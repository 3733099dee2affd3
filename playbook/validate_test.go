package playbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectforge/runbookcore/model"
)

func validRunbookYAML(extra string) string {
	return `
runbook:
  id: "3b1f6f2e-4d0a-4b0a-8c2e-7a2f6c2b1a11"
  version: "1.0.0"
  metadata:
    name: "Isolate and Investigate"
    author: "secops"
    created: "2026-01-01T00:00:00Z"
    updated: "2026-01-01T00:00:00Z"
    tags: ["containment", "edr"]
  triggers:
    detection_sources: ["edr"]
    techniques: ["T1059", "T1059.001"]
    platforms: ["windows"]
  config:
    automation_level: "L0"
    max_execution_time: 600
    requires_approval: false
` + extra + `
  steps:
    - id: "step-01"
      name: "Collect logs"
      action: "collect_logs"
      executor: "siem"
      on_error: "halt"
      timeout: 30
`
}

func TestLoadStringValid(t *testing.T) {
	rb, err := LoadString(validRunbookYAML(""))
	require.NoError(t, err)
	assert.Equal(t, "Isolate and Investigate", rb.Metadata.Name)
	assert.Len(t, rb.Steps, 1)
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	rb := baseRunbook()
	rb.Steps = []model.Step{
		{ID: "a", Name: "A", Action: model.ActionCollectLogs, Executor: "siem", OnError: model.OnErrorHalt, TimeoutSeconds: 30},
		{ID: "a", Name: "A2", Action: model.ActionCollectLogs, Executor: "siem", OnError: model.OnErrorHalt, TimeoutSeconds: 30},
	}
	err := Validate(rb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestValidateRejectsUnknownDependsOn(t *testing.T) {
	rb := baseRunbook()
	rb.Steps = []model.Step{
		{ID: "a", Name: "A", Action: model.ActionCollectLogs, Executor: "siem", OnError: model.OnErrorHalt, TimeoutSeconds: 30, DependsOn: []string{"missing"}},
	}
	err := Validate(rb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestValidateRejectsCircularDependency(t *testing.T) {
	rb := baseRunbook()
	rb.Steps = []model.Step{
		{ID: "a", Name: "A", Action: model.ActionCollectLogs, Executor: "siem", OnError: model.OnErrorHalt, TimeoutSeconds: 30, DependsOn: []string{"b"}},
		{ID: "b", Name: "B", Action: model.ActionCollectLogs, Executor: "siem", OnError: model.OnErrorHalt, TimeoutSeconds: 30, DependsOn: []string{"a"}},
	}
	err := Validate(rb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Circular")
}

func TestValidateRejectsL2WithoutApproval(t *testing.T) {
	rb := baseRunbook()
	rb.Config.AutomationLevel = model.LevelL2
	rb.Config.RequiresApproval = false
	rb.Steps = []model.Step{
		{ID: "a", Name: "A", Action: model.ActionBlockIP, Executor: "firewall", OnError: model.OnErrorHalt, TimeoutSeconds: 30},
	}
	err := Validate(rb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "L2")
}

func baseRunbook() *model.Runbook {
	return &model.Runbook{
		ID:      "3b1f6f2e-4d0a-4b0a-8c2e-7a2f6c2b1a11",
		Version: "1.0.0",
		Metadata: model.RunbookMeta{
			Name: "Valid Runbook Name",
			Tags: []string{"tag1"},
		},
		Triggers: model.Triggers{
			DetectionSources: []string{"edr"},
			Techniques:       []string{"T1059"},
			Platforms:        []string{"windows"},
		},
		Config: model.RunbookConfig{
			AutomationLevel:  model.LevelL0,
			MaxExecutionTime: 600,
		},
	}
}
