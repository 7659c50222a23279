package llm

import (
	"context"
	"encoding/json"
	"sort"
)

// Tool describes a callable external tool.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (string, error)
	// Preview returns a human-readable description of what the tool will do,
	// shown before execution starts (e.g., "Reading main.go"). Returns empty
	// string if no preview is available.
	Preview(args json.RawMessage) string
}

// ToolRegistry stores tools by name for execution.
type ToolRegistry struct {
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.tools[tool.Spec().Name] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *ToolRegistry) Unregister(name string) {
	delete(r.tools, name)
}

// AllSpecs returns the specs for all registered tools in name order so
// provider requests are deterministic.
func (r *ToolRegistry) AllSpecs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
