package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/assistant0/assistant0/runtime/agent/model"
	"github.com/assistant0/assistant0/runtime/agent/telemetry"
)

// Registry holds the tools offered to the model. Misconfigured tools are
// disabled and logged instead of failing startup.
type Registry struct {
	mu       sync.RWMutex
	tools    map[Ident]*entry
	disabled map[Ident]error
	tel      telemetry.Set
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
	input  map[string]any
}

// NewRegistry returns an empty registry.
func NewRegistry(tel telemetry.Set) *Registry {
	return &Registry{
		tools:    make(map[Ident]*entry),
		disabled: make(map[Ident]error),
		tel:      tel.WithDefaults(),
	}
}

// Register validates and adds t. An invalid tool is recorded as disabled
// and a *ConfigurationError is returned.
func (r *Registry) Register(ctx context.Context, t Tool) error {
	e, err := compile(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		if _, dup := r.tools[t.Name]; dup {
			err = &ConfigurationError{Tool: t.Name, Reason: "registered twice"}
		}
	}
	if err != nil {
		r.disabled[t.Name] = err
		r.tel.Logger.Warn(ctx, "tool disabled", "tool", string(t.Name), "err", err)
		return err
	}
	r.tools[t.Name] = e
	return nil
}

// Disable records a tool that could not be built.
func (r *Registry) Disable(ctx context.Context, err *ConfigurationError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[err.Tool] = err
	r.tel.Logger.Warn(ctx, "tool disabled", "tool", string(err.Tool), "err", err)
}

// Lookup returns the registered tool named name.
func (r *Registry) Lookup(name Ident) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Disabled returns the reasons tools were disabled, by name.
func (r *Registry) Disabled() map[Ident]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Ident]error, len(r.disabled))
	for k, v := range r.disabled {
		out[k] = v
	}
	return out
}

// Validate checks args against the schema of the tool named name.
func (r *Registry) Validate(name Ident, args json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	return e.validate(args)
}

// Definitions lists the registered tools sorted by name.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, model.ToolDefinition{
			Name:        string(e.tool.Name),
			Description: e.tool.Description,
			InputSchema: e.input,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func compile(t Tool) (*entry, error) {
	fail := func(format string, args ...any) error {
		return &ConfigurationError{Tool: t.Name, Reason: fmt.Sprintf(format, args...)}
	}
	if !t.Name.Valid() {
		return nil, fail("invalid name")
	}
	if t.Handler == nil {
		return nil, fail("no handler")
	}
	switch a := t.Access.(type) {
	case Plain:
	case Connected:
		if a.Connection.ID == "" {
			return nil, fail("no connection")
		}
	case Approval:
		if a.Policy.Binding == nil {
			return nil, fail("no binding message template")
		}
	case nil:
		return nil, fail("no access declared")
	default:
		return nil, fail("unsupported access %T", a)
	}
	raw := t.Schema
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fail("schema is not a JSON object: %v", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fail("parse schema: %v", err)
	}
	c := jsonschema.NewCompiler()
	url := string(t.Name) + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fail("add schema: %v", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fail("compile schema: %v", err)
	}
	return &entry{tool: t, schema: schema, input: input}, nil
}

func (e *entry) validate(args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return &ValidationError{Tool: e.tool.Name, Issues: []FieldIssue{{Field: "/", Message: "arguments are not valid JSON"}}, Cause: err}
	}
	if err := e.schema.Validate(v); err != nil {
		return &ValidationError{Tool: e.tool.Name, Issues: issuesFrom(err), Cause: err}
	}
	return nil
}
