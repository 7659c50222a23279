// Package agent drives the conversational control loop: it turns provider
// part streams into turns, dispatches tool calls, compacts history to fit
// the context window, and arbitrates between an in-flight cycle and newly
// queued prompts.
package agent

import (
	"time"

	"github.com/kon-agent/kon/internal/llm"
)

// EventType describes events published on the bus during a cycle.
type EventType string

const (
	// Streaming projection of provider parts. Start/End pairs are balanced
	// per turn; deltas only occur between a matching start and end.
	EventThinkingStart EventType = "thinking_start"
	EventThinkingDelta EventType = "thinking_delta"
	EventThinkingEnd   EventType = "thinking_end"
	EventTextStart     EventType = "text_start"
	EventTextDelta     EventType = "text_delta"
	EventTextEnd       EventType = "text_end"
	EventToolStart     EventType = "tool_start"
	EventToolDelta     EventType = "tool_delta"
	EventToolEnd       EventType = "tool_end"

	// Tool execution progress.
	EventToolExecStart EventType = "tool_exec_start"
	EventToolResult    EventType = "tool_result"

	// Lifecycle.
	EventAgentStart EventType = "agent_start"
	EventAgentEnd   EventType = "agent_end"
	EventTurnStart  EventType = "turn_start"
	EventTurnEnd    EventType = "turn_end"

	EventCompactionStart EventType = "compaction_start"
	EventCompactionEnd   EventType = "compaction_end"

	EventRetry   EventType = "retry"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
)

// Event is a flat union of everything the loop publishes. Consumers switch
// on Type and read the fields that type populates.
type Event struct {
	Type EventType `json:"type"`
	Seq  uint64    `json:"seq"` // monotonic per loop, assigned at emit time

	Text      string `json:"text,omitempty"`      // thinking/text deltas, warnings, errors
	Signature string `json:"signature,omitempty"` // thinking signature deltas

	// Tool fields for the tool_* and tool_exec_* types.
	ToolCallID  string `json:"tool_call_id,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	ToolArgs    string `json:"tool_args,omitempty"` // argument fragment for tool_delta
	ToolPreview string `json:"tool_preview,omitempty"`
	ToolOutput  string `json:"tool_output,omitempty"`
	ToolSuccess bool   `json:"tool_success,omitempty"`
	ToolFailure string `json:"tool_failure,omitempty"` // failure kind for failed results

	// Turn fields for turn_end.
	TurnReason CompletionReason `json:"turn_reason,omitempty"`
	Usage      *llm.Usage       `json:"usage,omitempty"`

	// Compaction fields.
	TokensBefore      int  `json:"tokens_before,omitempty"`
	TokensAfter       int  `json:"tokens_after,omitempty"`
	CompactionAborted bool `json:"compaction_aborted,omitempty"`

	// Retry fields.
	RetryAttempt     int     `json:"retry_attempt,omitempty"`
	RetryMaxAttempts int     `json:"retry_max_attempts,omitempty"`
	RetryWaitSecs    float64 `json:"retry_wait_secs,omitempty"`

	Err error `json:"-"`

	Time time.Time `json:"time"`
}

// CompletionReason explains how a turn sealed.
type CompletionReason string

const (
	ReasonStop             CompletionReason = "stop"
	ReasonToolCallsPending CompletionReason = "tool_calls_pending"
	ReasonError            CompletionReason = "error"
	ReasonCancelled        CompletionReason = "cancelled"
)

// EmitFunc receives every event a component produces. The loop wires this
// to the bus; tests substitute a recording func.
type EmitFunc func(Event)

func discardEvents(Event) {}
