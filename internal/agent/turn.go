package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kon-agent/kon/internal/llm"
)

// TurnState tracks where a turn is in its lifecycle.
type TurnState string

const (
	TurnIdle         TurnState = "idle"
	TurnThinking     TurnState = "thinking"
	TurnGenerating   TurnState = "generating"
	TurnAccumulating TurnState = "tool_call_accumulating"
	TurnSealed       TurnState = "sealed"
)

// ErrMalformedStream marks boundary violations in the provider stream, such
// as StreamDone arriving while a tool call is still accumulating arguments.
var ErrMalformedStream = errors.New("malformed provider stream")

// Turn is one model-generation round, sealed with a completion reason.
type Turn struct {
	State     TurnState
	Reason    CompletionReason
	Message   llm.Message    // assistant message assembled from the stream
	ToolCalls []llm.ToolCall // completed calls, in tool_call_end order
	Usage     *llm.Usage
	Err       error
}

// TurnEngine aggregates a part stream into a Turn, emitting balanced
// start/delta/end events in part arrival order.
type TurnEngine struct {
	emit EmitFunc
}

func NewTurnEngine(emit EmitFunc) *TurnEngine {
	if emit == nil {
		emit = discardEvents
	}
	return &TurnEngine{emit: emit}
}

// pendingCall accumulates one tool call's argument fragments between its
// start and end parts.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// Run consumes the stream until it seals the turn. The stream is closed
// before returning.
func (e *TurnEngine) Run(ctx context.Context, stream llm.PartStream) *Turn {
	defer stream.Close()

	turn := &Turn{State: TurnIdle}

	var (
		thinking    strings.Builder
		signature   strings.Builder
		text        strings.Builder
		open        = map[string]*pendingCall{} // call ID -> accumulator
		openOrder   []string
		thinkingOpn bool
		textOpen    bool
	)

	closeThinking := func() {
		if !thinkingOpn {
			return
		}
		thinkingOpn = false
		turn.Message.Content = append(turn.Message.Content, llm.Content{
			Type:      llm.ContentThinking,
			Thinking:  thinking.String(),
			Signature: signature.String(),
		})
		e.emit(Event{Type: EventThinkingEnd})
	}
	closeText := func() {
		if !textOpen {
			return
		}
		textOpen = false
		turn.Message.Content = append(turn.Message.Content, llm.Content{
			Type: llm.ContentText,
			Text: text.String(),
		})
		e.emit(Event{Type: EventTextEnd})
	}
	// closeOpenCalls balances tool_end events for calls that never saw
	// their end part. Their partial arguments are discarded.
	closeOpenCalls := func() {
		for _, id := range openOrder {
			if call, ok := open[id]; ok {
				delete(open, id)
				e.emit(Event{Type: EventToolEnd, ToolCallID: call.id, ToolName: call.name})
			}
		}
		openOrder = openOrder[:0]
	}

	seal := func(reason CompletionReason, err error) *Turn {
		closeThinking()
		closeText()
		closeOpenCalls()
		turn.State = TurnSealed
		turn.Reason = reason
		turn.Err = err
		turn.Message.Role = llm.RoleAssistant
		ev := Event{Type: EventTurnEnd, TurnReason: reason, Usage: turn.Usage, Err: err, Time: time.Now()}
		if err != nil {
			ev.Text = err.Error()
		}
		e.emit(ev)
		return turn
	}

	for {
		part, err := stream.Recv()
		if err == io.EOF {
			// Adapters always send stream_done first; a bare EOF means
			// the transport broke without a terminal part.
			return seal(ReasonError, fmt.Errorf("%w: stream ended without stream_done", ErrMalformedStream))
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return seal(ReasonCancelled, context.Canceled)
			}
			return seal(ReasonError, err)
		}

		switch part.Kind {
		case llm.PartThinkingDelta:
			if !thinkingOpn {
				closeText()
				thinkingOpn = true
				turn.State = TurnThinking
				e.emit(Event{Type: EventThinkingStart})
			}
			thinking.WriteString(part.Delta)
			signature.WriteString(part.Signature)
			if part.Delta != "" || part.Signature != "" {
				e.emit(Event{Type: EventThinkingDelta, Text: part.Delta, Signature: part.Signature})
			}

		case llm.PartTextDelta:
			if !textOpen {
				closeThinking()
				textOpen = true
				turn.State = TurnGenerating
				e.emit(Event{Type: EventTextStart})
			}
			text.WriteString(part.Delta)
			e.emit(Event{Type: EventTextDelta, Text: part.Delta})

		case llm.PartToolCallStart:
			closeThinking()
			closeText()
			turn.State = TurnAccumulating
			if _, dup := open[part.CallID]; dup {
				return seal(ReasonError, fmt.Errorf("%w: duplicate tool_call_start for %s", ErrMalformedStream, part.CallID))
			}
			open[part.CallID] = &pendingCall{id: part.CallID, name: part.ToolName}
			openOrder = append(openOrder, part.CallID)
			e.emit(Event{Type: EventToolStart, ToolCallID: part.CallID, ToolName: part.ToolName})

		case llm.PartToolCallArgDelta:
			call, ok := open[part.CallID]
			if !ok {
				return seal(ReasonError, fmt.Errorf("%w: argument delta for unknown call %s", ErrMalformedStream, part.CallID))
			}
			call.args.WriteString(part.Delta)
			e.emit(Event{Type: EventToolDelta, ToolCallID: part.CallID, ToolName: call.name, ToolArgs: part.Delta})

		case llm.PartToolCallEnd:
			call, ok := open[part.CallID]
			if !ok {
				return seal(ReasonError, fmt.Errorf("%w: tool_call_end for unknown call %s", ErrMalformedStream, part.CallID))
			}
			delete(open, part.CallID)
			openOrder = removeID(openOrder, part.CallID)
			args := call.args.String()
			if args == "" {
				args = "{}"
			}
			tc := llm.ToolCall{
				ID:        call.id,
				Name:      call.name,
				Arguments: json.RawMessage(args),
				Status:    llm.ToolCallPending,
			}
			turn.ToolCalls = append(turn.ToolCalls, tc)
			turn.Message.Content = append(turn.Message.Content, llm.Content{
				Type:     llm.ContentToolCall,
				ToolCall: &tc,
			})
			e.emit(Event{Type: EventToolEnd, ToolCallID: call.id, ToolName: call.name, ToolArgs: args})

		case llm.PartStreamDone:
			turn.Usage = part.Usage
			if len(open) > 0 {
				// Unterminated accumulation is a malformed turn. The
				// partial calls are discarded, never dispatched.
				discardPartialCalls(turn)
				return seal(ReasonError, fmt.Errorf("%w: stream_done with %d unterminated tool calls", ErrMalformedStream, len(open)))
			}
			if len(turn.ToolCalls) > 0 {
				return seal(ReasonToolCallsPending, nil)
			}
			return seal(ReasonStop, nil)

		case llm.PartStreamError:
			if ctx.Err() != nil || errors.Is(part.Err, context.Canceled) {
				return seal(ReasonCancelled, context.Canceled)
			}
			return seal(ReasonError, part.Err)
		}
	}
}

// discardPartialCalls clears a malformed turn's dispatchable calls so a
// careless caller cannot dispatch output of a turn sealed with reason Error.
func discardPartialCalls(turn *Turn) {
	turn.ToolCalls = nil
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
