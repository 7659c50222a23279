package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kon-agent/kon/internal/llm"
)

// GrepTool implements the grep tool: regexp search over file contents.
type GrepTool struct {
	limits OutputLimits
}

func NewGrepTool(limits OutputLimits) *GrepTool {
	return &GrepTool{limits: limits}
}

// GrepArgs are the arguments for grep.
type GrepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Include string `json:"include,omitempty"`
}

// maxGrepLineLength keeps minified or generated lines from dominating
// output.
const maxGrepLineLength = 500

func (t *GrepTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GrepToolName,
		Description: "Search file contents with a regular expression. Returns matching lines as path:line: text.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Regular expression to search for (Go regexp syntax)",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Base directory for the search (defaults to current directory)",
				},
				"include": map[string]interface{}{
					"type":        "string",
					"description": "Glob filter on file paths, e.g. '**/*.go'",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GrepTool) Preview(args json.RawMessage) string {
	var a GrepArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return ""
	}
	if a.Include != "" {
		return fmt.Sprintf("%s in %s", a.Pattern, a.Include)
	}
	return a.Pattern
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	warning := WarnUnknownParams(args, []string{"pattern", "path", "include"})

	var a GrepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Pattern == "" {
		return "", NewToolError(ErrInvalidParams, "pattern is required")
	}
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "invalid regexp: %v", err)
	}
	if a.Include != "" && !doublestar.ValidatePattern(a.Include) {
		return "", NewToolErrorf(ErrInvalidParams, "invalid include pattern: %s", a.Include)
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
	var sb strings.Builder
	sb.WriteString(warning)
	matches := 0
	truncated := false

	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil {
			rel = path
		}
		if shouldSkipPath(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if a.Include != "" {
			ok, matchErr := doublestar.Match(a.Include, filepath.ToSlash(rel))
			if matchErr != nil || !ok {
				return nil
			}
		}
		ping()

		found, err := grepFile(path, re, &sb, t.limits.MaxResults-matches)
		if err != nil {
			return nil // unreadable or binary files are skipped
		}
		matches += found
		if matches >= t.limits.MaxResults {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}

	if matches == 0 {
		return warning + "No matches found.", nil
	}
	if truncated {
		fmt.Fprintf(&sb, "\n[Results truncated to %d matches]", t.limits.MaxResults)
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

// grepFile appends up to remaining matching lines and reports how many it
// found.
func grepFile(path string, re *regexp.Regexp, sb *strings.Builder, remaining int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	// Sniff for binary content before scanning.
	head := make([]byte, 512)
	n, _ := f.Read(head)
	if isBinaryContent(head[:n]) {
		return 0, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	found := 0
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		if len(line) > maxGrepLineLength {
			line = line[:maxGrepLineLength] + "..."
		}
		fmt.Fprintf(sb, "%s:%d: %s\n", path, lineNum, line)
		found++
		if found >= remaining {
			break
		}
	}
	return found, nil
}
