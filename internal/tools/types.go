// Package tools implements the local tool set the agent can call: file
// read/write/edit, shell execution, and search.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolErrorType provides structured error codes the model can react to.
type ToolErrorType string

const (
	ErrFileNotFound    ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams   ToolErrorType = "INVALID_PARAMS"
	ErrExecutionFailed ToolErrorType = "EXECUTION_FAILED"
	ErrCommandDenied   ToolErrorType = "COMMAND_DENIED"
	ErrBinaryFile      ToolErrorType = "BINARY_FILE"
	ErrFileTooLarge    ToolErrorType = "FILE_TOO_LARGE"
	ErrTimeout         ToolErrorType = "TIMEOUT"
)

// ToolError carries a code plus message so failed calls read uniformly in
// model context.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with a formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Tool spec names
const (
	ReadFileToolName  = "read_file"
	WriteFileToolName = "write_file"
	EditFileToolName  = "edit_file"
	ShellToolName     = "shell"
	GrepToolName      = "grep"
	GlobToolName      = "glob"
)

// AllToolNames returns every valid tool spec name.
func AllToolNames() []string {
	return []string{
		ReadFileToolName,
		WriteFileToolName,
		EditFileToolName,
		ShellToolName,
		GrepToolName,
		GlobToolName,
	}
}

var validToolNames = map[string]bool{
	ReadFileToolName:  true,
	WriteFileToolName: true,
	EditFileToolName:  true,
	ShellToolName:     true,
	GrepToolName:      true,
	GlobToolName:      true,
}

// ValidToolName checks if a name is a valid tool spec name.
func ValidToolName(name string) bool {
	return validToolNames[name]
}

// OutputLimits bounds tool output so one call cannot flood model context.
type OutputLimits struct {
	MaxLines   int   // max lines for read_file
	MaxBytes   int64 // max bytes per tool output
	MaxResults int   // max results for grep/glob
}

// DefaultOutputLimits returns the default output limits.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxLines:   2000,
		MaxBytes:   50 * 1024,
		MaxResults: 200,
	}
}

// WarnUnknownParams returns a warning block for argument keys the tool does
// not know, to prepend to the output. Models occasionally hallucinate
// parameters; surfacing them beats silently ignoring them.
func WarnUnknownParams(args json.RawMessage, knownKeys []string) string {
	var m map[string]interface{}
	if err := json.Unmarshal(args, &m); err != nil {
		return ""
	}
	known := make(map[string]bool, len(knownKeys))
	for _, k := range knownKeys {
		known[k] = true
	}
	var unknown []string
	for k := range m {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return ""
	}
	sort.Strings(unknown)
	var sb strings.Builder
	for _, k := range unknown {
		fmt.Fprintf(&sb, "Unknown parameter '%s' was ignored\n", k)
	}
	return sb.String()
}
