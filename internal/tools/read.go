package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/kon-agent/kon/internal/llm"
)

// ReadFileTool implements the read_file tool.
type ReadFileTool struct {
	limits OutputLimits
}

func NewReadFileTool(limits OutputLimits) *ReadFileTool {
	return &ReadFileTool{limits: limits}
}

// ReadFileArgs are the arguments for read_file.
type ReadFileArgs struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (t *ReadFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ReadFileToolName,
		Description: "Read file contents. Returns line-numbered output. Use start_line/end_line for pagination.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute or relative path to the file to read",
				},
				"start_line": map[string]interface{}{
					"type":        "integer",
					"description": "1-indexed start line (default: 1)",
				},
				"end_line": map[string]interface{}{
					"type":        "integer",
					"description": "1-indexed end line (default: EOF)",
				},
			},
			"required":             []string{"file_path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFileTool) Preview(args json.RawMessage) string {
	var a ReadFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return ""
	}
	if a.StartLine > 0 && a.EndLine > 0 {
		return fmt.Sprintf("%s:%d-%d", a.FilePath, a.StartLine, a.EndLine)
	}
	return a.FilePath
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a ReadFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	if a.FilePath == "" {
		return "", NewToolError(ErrInvalidParams, "file_path is required")
	}

	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewToolError(ErrFileNotFound, a.FilePath)
		}
		return "", NewToolErrorf(ErrExecutionFailed, "read error: %v", err)
	}

	if isBinaryContent(data) {
		return "", NewToolErrorf(ErrBinaryFile, "%s appears to be a binary file", a.FilePath)
	}

	lines := strings.Split(string(data), "\n")
	totalLines := len(lines)

	start := 0
	if a.StartLine > 0 {
		start = a.StartLine - 1
	}
	if start >= totalLines {
		return "", NewToolErrorf(ErrInvalidParams, "start_line %d exceeds file length %d", a.StartLine, totalLines)
	}
	end := totalLines
	if a.EndLine > 0 && a.EndLine < totalLines {
		end = a.EndLine
	}
	if start >= end {
		return "No content in requested range.", nil
	}

	selected := lines[start:end]
	truncated := false
	if len(selected) > t.limits.MaxLines {
		selected = selected[:t.limits.MaxLines]
		truncated = true
	}

	var sb strings.Builder
	for i, line := range selected {
		fmt.Fprintf(&sb, "%d: %s\n", start+i+1, line)
	}
	output := strings.TrimSuffix(sb.String(), "\n")

	if int64(len(output)) > t.limits.MaxBytes {
		output = output[:t.limits.MaxBytes]
		truncated = true
	}
	if truncated {
		output += fmt.Sprintf("\n\n[Output truncated. Total lines: %d. Use start_line/end_line for pagination.]", totalLines)
	}
	return output, nil
}

// isBinaryContent detects binary data by sniffing the content type of the
// first 512 bytes.
func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	contentType := http.DetectContentType(sample)
	if strings.HasPrefix(contentType, "text/") {
		return false
	}
	if strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") {
		return false
	}
	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
