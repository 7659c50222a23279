package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kon-agent/kon/internal/llm"
)

// EditFileTool implements the edit_file tool: exact find and replace.
type EditFileTool struct{}

func NewEditFileTool() *EditFileTool {
	return &EditFileTool{}
}

// EditFileArgs are the arguments for edit_file.
type EditFileArgs struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (t *EditFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        EditFileToolName,
		Description: "Edit a file by replacing old_string with new_string. old_string must match exactly once unless replace_all is set. Include enough surrounding context to make the match unique.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file to edit",
				},
				"old_string": map[string]interface{}{
					"type":        "string",
					"description": "The exact text to find and replace",
				},
				"new_string": map[string]interface{}{
					"type":        "string",
					"description": "The text to replace old_string with",
				},
				"replace_all": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace every occurrence instead of requiring a unique match",
				},
			},
			"required":             []string{"file_path", "old_string", "new_string"},
			"additionalProperties": false,
		},
	}
}

func (t *EditFileTool) Preview(args json.RawMessage) string {
	var a EditFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return ""
	}
	return a.FilePath
}

func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a EditFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	if a.FilePath == "" {
		return "", NewToolError(ErrInvalidParams, "file_path is required")
	}
	if a.OldString == "" {
		return "", NewToolError(ErrInvalidParams, "old_string is required")
	}
	if a.OldString == a.NewString {
		return "", NewToolError(ErrInvalidParams, "old_string and new_string are identical")
	}

	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewToolError(ErrFileNotFound, a.FilePath)
		}
		return "", NewToolErrorf(ErrExecutionFailed, "read error: %v", err)
	}
	content := string(data)

	count := strings.Count(content, a.OldString)
	switch {
	case count == 0:
		return "", NewToolErrorf(ErrExecutionFailed, "old_string not found in %s", a.FilePath)
	case count > 1 && !a.ReplaceAll:
		return "", NewToolErrorf(ErrExecutionFailed,
			"old_string matches %d times in %s; add surrounding context to make it unique or set replace_all", count, a.FilePath)
	}

	var updated string
	if a.ReplaceAll {
		updated = strings.ReplaceAll(content, a.OldString, a.NewString)
	} else {
		updated = strings.Replace(content, a.OldString, a.NewString, 1)
	}

	info, err := os.Stat(a.FilePath)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "stat error: %v", err)
	}
	if err := os.WriteFile(a.FilePath, []byte(updated), info.Mode()); err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "write error: %v", err)
	}

	if a.ReplaceAll && count > 1 {
		return fmt.Sprintf("Replaced %d occurrences in %s.", count, a.FilePath), nil
	}
	return fmt.Sprintf("Edited %s.", a.FilePath), nil
}
