package tools

import (
	"github.com/kon-agent/kon/internal/llm"
)

// BuildRegistry constructs the tool registry for the enabled tools.
func BuildRegistry(cfg Config) *llm.ToolRegistry {
	limits := cfg.Limits()
	registry := llm.NewToolRegistry()

	register := func(name string, tool llm.Tool) {
		if cfg.IsToolEnabled(name) {
			registry.Register(tool)
		}
	}

	register(ReadFileToolName, NewReadFileTool(limits))
	register(WriteFileToolName, NewWriteFileTool())
	register(EditFileToolName, NewEditFileTool())
	register(ShellToolName, NewShellTool(cfg, limits))
	register(GrepToolName, NewGrepTool(limits))
	register(GlobToolName, NewGlobTool(limits))

	return registry
}
