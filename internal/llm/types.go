package llm

import (
	"context"
	"encoding/json"
)

// contextKey is a private type for context keys to prevent collisions.
type contextKey string

const toolCallIDKey contextKey = "tool_call_id"
const progressKey contextKey = "tool_progress"

// ContextWithCallID returns a new context with the tool call ID set.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, callID)
}

// CallIDFromContext extracts the tool call ID from context, or returns empty string.
func CallIDFromContext(ctx context.Context) string {
	if v := ctx.Value(toolCallIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// ContextWithProgress attaches a progress signal to the context. Long-running
// tools call the function to report liveness; the dispatcher uses it to reset
// the idle-timeout watchdog for that call.
func ContextWithProgress(ctx context.Context, ping func()) context.Context {
	return context.WithValue(ctx, progressKey, ping)
}

// ProgressFromContext returns the progress signal for the current tool call.
// Always returns a callable function; a no-op when no watchdog is attached.
func ProgressFromContext(ctx context.Context) func() {
	if v := ctx.Value(progressKey); v != nil {
		if ping, ok := v.(func()); ok {
			return ping
		}
	}
	return func() {}
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentType identifies a message content block.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentThinking   ContentType = "thinking"
	ContentToolCall   ContentType = "tool_call"
	ContentToolResult ContentType = "tool_result"
)

// Message holds a role with structured content blocks.
type Message struct {
	Role    Role      `json:"role"`
	Content []Content `json:"content"`
}

// Content represents a single content block of a message.
type Content struct {
	Type       ContentType `json:"type"`
	Text       string      `json:"text,omitempty"`
	Thinking   string      `json:"thinking,omitempty"`
	Signature  string      `json:"signature,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCallStatus tracks the lifecycle of a requested tool invocation.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallSucceeded ToolCallStatus = "succeeded"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallCancelled ToolCallStatus = "cancelled"
)

// ToolCall is a model-requested tool invocation. Arguments are assembled
// incrementally from stream deltas and are complete only once the provider
// signals the call boundary.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    ToolCallStatus  `json:"status,omitempty"`
}

// FailureKind classifies a failed tool execution.
type FailureKind string

const (
	FailureUnknownTool FailureKind = "unknown_tool"
	FailureExecution   FailureKind = "execution_error"
	FailureTimeout     FailureKind = "timeout"
	FailureCancelled   FailureKind = "cancelled"
)

// ToolResult is the outcome of executing a tool call. Exactly one exists per
// dispatched ToolCall; immutable once produced.
type ToolResult struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Content string      `json:"content"`
	IsError bool        `json:"is_error,omitempty"`
	Kind    FailureKind `json:"kind,omitempty"`
}

// Request represents a single model generation call.
type Request struct {
	Model           string
	System          string
	Messages        []Message
	Tools           []ToolSpec
	MaxOutputTokens int
	Temperature     *float64 // nil leaves the provider default
}

// Usage captures token usage if reported by the provider.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
}

// Add accumulates usage from another report.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedInputTokens += other.CachedInputTokens
}

// Total returns the combined input and output token count. Cache reads
// are reported alongside input tokens, not on top of them, so they do
// not add to the total.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

func SystemText(text string) Message {
	return Message{Role: RoleSystem, Content: []Content{{Type: ContentText, Text: text}}}
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []Content{{Type: ContentText, Text: text}}}
}

func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []Content{{Type: ContentText, Text: text}}}
}

// ToolResultMessage wraps a tool result in a message for the provider context.
func ToolResultMessage(result ToolResult) Message {
	r := result
	return Message{Role: RoleTool, Content: []Content{{Type: ContentToolResult, ToolResult: &r}}}
}

// TextContent collects the text blocks of a message.
func (m Message) TextContent() string {
	var out string
	for _, c := range m.Content {
		if c.Type == ContentText {
			out += c.Text
		}
	}
	return out
}

// ToolCalls returns the tool call blocks of a message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, c := range m.Content {
		if c.Type == ContentToolCall && c.ToolCall != nil {
			calls = append(calls, *c.ToolCall)
		}
	}
	return calls
}
