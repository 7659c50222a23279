package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kon-agent/kon/internal/llm"
)

// GlobTool implements the glob tool.
type GlobTool struct {
	limits OutputLimits
}

func NewGlobTool(limits OutputLimits) *GlobTool {
	return &GlobTool{limits: limits}
}

// GlobArgs are the arguments for glob.
type GlobArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// fileEntry carries the metadata used for sorting glob results.
type fileEntry struct {
	path    string
	isDir   bool
	size    int64
	modTime time.Time
}

func (t *GlobTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GlobToolName,
		Description: "Find files by glob pattern (supports ** for recursive matching). Results are sorted by modification time, newest first.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern supporting ** for recursive matching, e.g., '**/*.go' or 'src/**/*.ts'",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Base directory for the search (defaults to current directory)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GlobTool) Preview(args json.RawMessage) string {
	var a GlobArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return ""
	}
	if a.Path != "" {
		return fmt.Sprintf("%s in %s", a.Pattern, a.Path)
	}
	return a.Pattern
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	warning := WarnUnknownParams(args, []string{"pattern", "path"})

	var a GlobArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Pattern == "" {
		return "", NewToolError(ErrInvalidParams, "pattern is required")
	}
	if !doublestar.ValidatePattern(a.Pattern) {
		return "", NewToolErrorf(ErrInvalidParams, "invalid glob pattern: %s", a.Pattern)
	}

	base := a.Path
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err)
		}
		base = wd
	}

	ping := llm.ProgressFromContext(ctx)
	var entries []fileEntry
	err := doublestar.GlobWalk(os.DirFS(base), a.Pattern, func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ping()
		if shouldSkipPath(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, fileEntry{
			path:    filepath.Join(base, path),
			isDir:   d.IsDir(),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", NewToolErrorf(ErrExecutionFailed, "glob error: %v", err)
	}

	if len(entries) == 0 {
		return warning + "No files matched.", nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})

	truncated := false
	if len(entries) > t.limits.MaxResults {
		entries = entries[:t.limits.MaxResults]
		truncated = true
	}

	var sb strings.Builder
	sb.WriteString(warning)
	for _, e := range entries {
		if e.isDir {
			fmt.Fprintf(&sb, "%s/\n", e.path)
		} else {
			fmt.Fprintf(&sb, "%s (%d bytes)\n", e.path, e.size)
		}
	}
	if truncated {
		fmt.Fprintf(&sb, "\n[Results truncated to %d entries]", t.limits.MaxResults)
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

// shouldSkipPath filters noise directories out of search results.
func shouldSkipPath(path string) bool {
	for _, part := range strings.Split(path, "/") {
		switch part {
		case ".git", "node_modules", ".venv", "__pycache__":
			return true
		}
	}
	return false
}
