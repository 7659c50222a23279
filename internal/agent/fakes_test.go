package agent

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/kon-agent/kon/internal/llm"
)

// partSliceStream replays a fixed part sequence.
type partSliceStream struct {
	parts []llm.Part
	pos   int
	err   error // returned after parts are exhausted instead of io.EOF
}

func (s *partSliceStream) Recv() (llm.Part, error) {
	if s.pos >= len(s.parts) {
		if s.err != nil {
			return llm.Part{}, s.err
		}
		return llm.Part{}, io.EOF
	}
	part := s.parts[s.pos]
	s.pos++
	return part, nil
}

func (s *partSliceStream) Close() error { return nil }

// fakeProvider replays one scripted part sequence per Stream call and
// records the requests it saw.
type fakeProvider struct {
	mu      sync.Mutex
	scripts [][]llm.Part
	reqs    []llm.Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Stream(ctx context.Context, req llm.Request) (llm.PartStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if len(p.scripts) == 0 {
		return &partSliceStream{parts: []llm.Part{{Kind: llm.PartStreamDone}}}, nil
	}
	script := p.scripts[0]
	p.scripts = p.scripts[1:]
	return &partSliceStream{parts: script}, nil
}

func (p *fakeProvider) requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Request, len(p.reqs))
	copy(out, p.reqs)
	return out
}

// blockingProvider emits one text delta then blocks until cancellation.
type blockingProvider struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{started: make(chan struct{})}
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Stream(ctx context.Context, req llm.Request) (llm.PartStream, error) {
	return &blockingStream{ctx: ctx, provider: p}, nil
}

type blockingStream struct {
	ctx      context.Context
	provider *blockingProvider
	sent     bool
}

func (s *blockingStream) Recv() (llm.Part, error) {
	if !s.sent {
		s.sent = true
		s.provider.once.Do(func() { close(s.provider.started) })
		return llm.Part{Kind: llm.PartTextDelta, Delta: "partial"}, nil
	}
	<-s.ctx.Done()
	return llm.Part{}, s.ctx.Err()
}

func (s *blockingStream) Close() error { return nil }

// fakeTool delegates execution to a closure.
type fakeTool struct {
	name string
	run  func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t *fakeTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.name, Schema: map[string]interface{}{"type": "object"}}
}

func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.run(ctx, args)
}

func (t *fakeTool) Preview(args json.RawMessage) string { return "" }

// fakeSummarizer returns a canned summary and records what it saw.
type fakeSummarizer struct {
	summary string
	err     error
	calls   [][]llm.Message
}

func (s *fakeSummarizer) Summarize(ctx context.Context, messages []llm.Message) (string, error) {
	s.calls = append(s.calls, messages)
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

// recorder collects emitted events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// fixedEstimator reports a scripted sequence of estimates, repeating the
// last one once exhausted.
type fixedEstimator struct {
	values []int
	pos    int
}

func (e *fixedEstimator) Estimate(messages []llm.Message) int {
	if e.pos < len(e.values) {
		v := e.values[e.pos]
		e.pos++
		return v
	}
	if len(e.values) > 0 {
		return e.values[len(e.values)-1]
	}
	return 0
}
