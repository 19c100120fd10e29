// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Tool names the model may call.
const (
	NameCreateCanvas = "create_canvas"
	NameUpdateCanvas = "update_canvas"
	NameWebSearch    = "web_search"
	NameFetchPage    = "fetch_page"
	NameGetLocation  = "get_location"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) Result `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry. Callers register the
// tool sets they want (canvas, search, fetch) before handing the
// registry to the agent loop.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tool definitions for the LLM, in stable name order.
func (r *Registry) List() []map[string]any {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []map[string]any
	for _, name := range names {
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

// Execute runs a tool by name. It never returns an error: every
// failure mode — unknown tool, handler panic, handler-reported
// failure — comes back as a Result the model can read, so a bad tool
// call can never abort the turn.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", rec)
			result = Failed(fmt.Sprintf("tool %s failed unexpectedly", name))
		}
	}()

	tool := r.tools[name]
	if tool == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		return NotFound(fmt.Sprintf("no tool named %s", name))
	}

	r.logger.Debug("executing tool", "tool", name, "args", len(args))
	return tool.Handler(ctx, args)
}
