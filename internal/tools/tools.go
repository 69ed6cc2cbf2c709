// Package tools defines the task tools the model can invoke.
//
// Every tool result is a JSON document handed back to the model as a
// tool-role message. Failures are never returned as Go errors to the
// orchestration loop: they become {"success": false, "error": ...}
// payloads so the model can read the failure and recover in
// conversation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskpilot/taskpilot/internal/identity"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, id identity.Context, args map[string]any) string `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tool schemas for the LLM, in registration order.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name for the authenticated caller. The user
// scope comes from id, never from args; a model that invents a user_id
// argument is simply ignored. The result is always a JSON document.
func (r *Registry) Execute(ctx context.Context, id identity.Context, name string, args map[string]any) string {
	tool := r.tools[name]
	if tool == nil {
		return failf("Unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, id, args)
}

func failf(format string, args ...any) string {
	return fail(fmt.Sprintf(format, args...))
}

func fail(msg string) string {
	out, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	return string(out)
}

func ok(fields map[string]any) string {
	payload := map[string]any{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	out, _ := json.Marshal(payload)
	return string(out)
}
