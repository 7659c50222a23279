package llm

import (
	"context"
	"io"
	"sync"
)

// PartKind describes an atomic unit of provider stream output.
type PartKind string

const (
	PartThinkingDelta    PartKind = "thinking_delta"
	PartTextDelta        PartKind = "text_delta"
	PartToolCallStart    PartKind = "tool_call_start"
	PartToolCallArgDelta PartKind = "tool_call_arg_delta"
	PartToolCallEnd      PartKind = "tool_call_end"
	PartStreamDone       PartKind = "stream_done"
	PartStreamError      PartKind = "stream_error"
)

// Part is one normalized chunk of provider output. Immutable once produced;
// ordered within its stream.
type Part struct {
	Kind      PartKind
	Delta     string // thinking, text, or argument fragment
	Signature string // thinking signature, when the provider sends one
	CallID    string // tool call ID for the tool_call_* kinds
	ToolName  string // tool name for tool_call_start
	Usage     *Usage // attached to stream_done when the provider reports it
	Err       error  // set for stream_error
}

// PartStream yields Parts until io.EOF. A stream is finite and not
// restartable; a fresh provider call produces a fresh stream.
type PartStream interface {
	Recv() (Part, error)
	Close() error
}

// Provider opens streaming generation calls against a model backend.
// Concrete wire formats are adapter-internal; every adapter speaks the same
// Part vocabulary.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (PartStream, error)
}

// Summarizer produces a compaction summary for a message history.
// Providers double as summarizers in production; tests substitute fakes.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// partStream bridges a goroutine producer to the PartStream interface.
type partStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	parts   chan Part
	done    chan struct{}
	err     error
	errOnce sync.Once
	closed  bool
	mu      sync.Mutex
}

// newPartStream runs fn in a goroutine; Parts sent on the channel are
// delivered in order through Recv. A returned error surfaces as a single
// stream_error Part followed by io.EOF, after any parts the producer
// already sent.
func newPartStream(ctx context.Context, fn func(ctx context.Context, parts chan<- Part) error) PartStream {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &partStream{
		ctx:    streamCtx,
		cancel: cancel,
		parts:  make(chan Part, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.parts)
		if err := fn(streamCtx, s.parts); err != nil {
			s.errOnce.Do(func() { s.err = err })
		}
	}()

	return s
}

func (s *partStream) Recv() (Part, error) {
	select {
	case part, ok := <-s.parts:
		if !ok {
			if s.err != nil {
				err := s.err
				s.err = nil
				return Part{Kind: PartStreamError, Err: err}, nil
			}
			return Part{}, io.EOF
		}
		return part, nil
	case <-s.ctx.Done():
		// Drain anything the producer managed to send before cancellation.
		select {
		case part, ok := <-s.parts:
			if ok {
				return part, nil
			}
		default:
		}
		return Part{}, s.ctx.Err()
	}
}

func (s *partStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	<-s.done
	return nil
}
