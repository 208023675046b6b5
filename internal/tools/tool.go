// internal/tools/tool.go
package tools

import (
	"context"
	"encoding/json"

	"github.com/user/arcadegent/internal/router"
	"github.com/user/arcadegent/internal/types"
)

// Tool defines the interface for an executable capability. Execute must
// validate its arguments before touching any external service and wrap
// argument problems in types.ErrValidation.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// stageAllowlist declares which tools each stage is permitted to call.
var stageAllowlist = map[types.Stage][]string{
	types.StageIntentRouter: {router.ToolSelectStage},
	types.StageSearch:       {router.ToolArcadeSearch, router.ToolSummarize, router.ToolSelectStage},
	types.StageNavigation: {
		router.ToolArcadeSearch,
		router.ToolGeoResolve,
		router.ToolRoutePlan,
		router.ToolSummarize,
		router.ToolSelectStage,
	},
	types.StageSummary: {router.ToolSummarize},
}

// Registry holds registered tools and the per-stage permission table.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Allowed reports whether the stage may call the named tool.
func (r *Registry) Allowed(stage types.Stage, toolName string) bool {
	for _, name := range stageAllowlist[stage] {
		if name == toolName {
			return true
		}
	}
	return false
}
