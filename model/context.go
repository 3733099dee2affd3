package model

import "encoding/json"

// Context is the layered, copy-on-write execution context described in
// execution context. Each layer is addressed by templating as
// `alert.*`, `steps.<id>.output.*`, `context.*`, and `env.*`.
//
// Mutation never happens in place: WithStepOutput and WithVariable both
// return a new *Context that shares unmodified layers with the
// receiver, so a previously persisted snapshot stays intact even after
// the orchestrator advances to the next step.
type Context struct {
	Alert   interface{}            `json:"alert"`
	Steps   map[string]StepOutput  `json:"steps"`
	Vars    map[string]interface{} `json:"context"`
	Env     map[string]string      `json:"env,omitempty"`
}

// StepOutput is what `steps.<id>.output` resolves to.
type StepOutput struct {
	Output interface{} `json:"output"`
}

// NewContext builds the initial snapshot for an execution: the alert
// under `alert`, caller-supplied variables under `context`, and no
// step outputs yet. Env is left nil; templating falls back to the
// process environment when a path isn't found here.
func NewContext(alert interface{}, vars map[string]interface{}) *Context {
	v := make(map[string]interface{}, len(vars))
	for k, val := range vars {
		v[k] = val
	}
	return &Context{
		Alert: alert,
		Steps: make(map[string]StepOutput),
		Vars:  v,
	}
}

// WithStepOutput returns a new Context with stepID's output published,
// leaving the receiver untouched.
func (c *Context) WithStepOutput(stepID string, output interface{}) *Context {
	next := c.shallowCopy()
	next.Steps[stepID] = StepOutput{Output: output}
	return next
}

// WithVariable returns a new Context with one runbook-local variable set.
func (c *Context) WithVariable(key string, value interface{}) *Context {
	next := c.shallowCopy()
	next.Vars[key] = value
	return next
}

func (c *Context) shallowCopy() *Context {
	steps := make(map[string]StepOutput, len(c.Steps)+1)
	for k, v := range c.Steps {
		steps[k] = v
	}
	vars := make(map[string]interface{}, len(c.Vars)+1)
	for k, v := range c.Vars {
		vars[k] = v
	}
	var env map[string]string
	if c.Env != nil {
		env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			env[k] = v
		}
	}
	return &Context{Alert: c.Alert, Steps: steps, Vars: vars, Env: env}
}

// AsLayers renders the four layers for template resolution, in the
// shape templating.Resolve expects: a nested map keyed by layer name.
func (c *Context) AsLayers() map[string]interface{} {
	steps := make(map[string]interface{}, len(c.Steps))
	for id, out := range c.Steps {
		steps[id] = map[string]interface{}{"output": out.Output}
	}
	layers := map[string]interface{}{
		"alert":   alertLayer(c.Alert),
		"steps":   steps,
		"context": toInterfaceMap(c.Vars),
	}
	if c.Env != nil {
		layers["env"] = toInterfaceMap(stringMapToAny(c.Env))
	}
	return layers
}

// alertLayer converts alert into the generic, nested-map shape
// templating.index walks. Production callers pass a *AlertEvent, whose
// struct blocks (Event, Threat) and json.RawMessage fields (Host,
// Source, ...) only expand into nested maps after a round trip through
// encoding/json; a raw struct value
// left in the layer would make every `alert.event.*`/`alert.threat.*`
// path unresolvable.
func alertLayer(alert interface{}) interface{} {
	if alert == nil {
		return map[string]interface{}{}
	}
	if m, ok := alert.(map[string]interface{}); ok {
		return m
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func stringMapToAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
