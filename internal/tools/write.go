package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kon-agent/kon/internal/llm"
)

// WriteFileTool implements the write_file tool.
type WriteFileTool struct{}

func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

// WriteFileArgs are the arguments for write_file.
type WriteFileArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (t *WriteFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WriteFileToolName,
		Description: "Create or overwrite a file with the specified content. Creates parent directories if needed.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file to write",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full file content to write",
				},
			},
			"required":             []string{"file_path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) Preview(args json.RawMessage) string {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return ""
	}
	return a.FilePath
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	if a.FilePath == "" {
		return "", NewToolError(ErrInvalidParams, "file_path is required")
	}

	absPath, err := filepath.Abs(a.FilePath)
	if err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "cannot resolve path: %v", err)
	}

	existingContent := ""
	isNew := true
	var existingMode os.FileMode
	if info, err := os.Stat(absPath); err == nil {
		existingMode = info.Mode()
		if data, err := os.ReadFile(absPath); err == nil {
			existingContent = string(data)
			isNew = false
		}
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "failed to create directory: %v", err)
	}

	// Atomic write: unique temp file in the target directory, then rename.
	base := filepath.Base(absPath)
	tf, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "failed to create temp file: %v", err)
	}
	tempPath := tf.Name()

	if _, err := tf.Write([]byte(a.Content)); err != nil {
		tf.Close()
		os.Remove(tempPath)
		return "", NewToolErrorf(ErrExecutionFailed, "failed to write temp file: %v", err)
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		os.Remove(tempPath)
		return "", NewToolErrorf(ErrExecutionFailed, "failed to sync temp file: %v", err)
	}
	if err := tf.Close(); err != nil {
		os.Remove(tempPath)
		return "", NewToolErrorf(ErrExecutionFailed, "failed to close temp file: %v", err)
	}

	// CreateTemp uses 0600; keep the original mode, or 0644 for new files.
	mode := existingMode
	if isNew {
		mode = 0644
	}
	if err := os.Chmod(tempPath, mode); err != nil {
		os.Remove(tempPath)
		return "", NewToolErrorf(ErrExecutionFailed, "failed to set file permissions: %v", err)
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		os.Remove(tempPath)
		return "", NewToolErrorf(ErrExecutionFailed, "failed to rename temp file: %v", err)
	}

	if isNew {
		return fmt.Sprintf("Created new file: %s (%d lines).", absPath, countLines(a.Content)), nil
	}
	return fmt.Sprintf("Updated %s: %d lines -> %d lines.", absPath, countLines(existingContent), countLines(a.Content)), nil
}

// countLines counts the number of lines in a string.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	count := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		count++
	}
	return count
}
