package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func collectParts(t *testing.T, s PartStream) []Part {
	t.Helper()
	var out []Part
	for {
		part, err := s.Recv()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Recv returned unexpected error: %v", err)
		}
		out = append(out, part)
	}
}

func TestPartStreamDeliversInOrder(t *testing.T) {
	s := newPartStream(context.Background(), func(ctx context.Context, parts chan<- Part) error {
		parts <- Part{Kind: PartTextDelta, Delta: "hello"}
		parts <- Part{Kind: PartTextDelta, Delta: " world"}
		parts <- Part{Kind: PartStreamDone}
		return nil
	})
	defer s.Close()

	parts := collectParts(t, s)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if parts[0].Delta != "hello" || parts[1].Delta != " world" {
		t.Errorf("deltas out of order: %q %q", parts[0].Delta, parts[1].Delta)
	}
	if parts[2].Kind != PartStreamDone {
		t.Errorf("expected final part to be stream_done, got %s", parts[2].Kind)
	}
}

func TestPartStreamProducerErrorSurfacesAsErrorPart(t *testing.T) {
	boom := errors.New("connection reset")
	s := newPartStream(context.Background(), func(ctx context.Context, parts chan<- Part) error {
		parts <- Part{Kind: PartTextDelta, Delta: "partial"}
		return boom
	})
	defer s.Close()

	parts := collectParts(t, s)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	last := parts[len(parts)-1]
	if last.Kind != PartStreamError {
		t.Fatalf("expected stream_error part, got %s", last.Kind)
	}
	if !errors.Is(last.Err, boom) {
		t.Errorf("expected wrapped producer error, got %v", last.Err)
	}
}

func TestPartStreamCloseUnblocksProducer(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	s := newPartStream(context.Background(), func(ctx context.Context, parts chan<- Part) error {
		defer close(finished)
		close(started)
		for i := 0; ; i++ {
			select {
			case parts <- Part{Kind: PartTextDelta, Delta: "x"}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	<-started
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not exit after Close")
	}
}

func TestPartStreamContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newPartStream(ctx, func(ctx context.Context, parts chan<- Part) error {
		<-ctx.Done()
		return ctx.Err()
	})
	defer s.Close()

	cancel()

	for {
		part, err := s.Recv()
		if err == io.EOF || errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if part.Kind == PartStreamError && errors.Is(part.Err, context.Canceled) {
			return
		}
	}
}

func TestUsageAccumulation(t *testing.T) {
	var total Usage
	total.Add(Usage{InputTokens: 100, OutputTokens: 20})
	total.Add(Usage{InputTokens: 150, OutputTokens: 30, CachedInputTokens: 50})

	if total.InputTokens != 250 {
		t.Errorf("InputTokens = %d, want 250", total.InputTokens)
	}
	if total.OutputTokens != 50 {
		t.Errorf("OutputTokens = %d, want 50", total.OutputTokens)
	}
	if total.CachedInputTokens != 50 {
		t.Errorf("CachedInputTokens = %d, want 50", total.CachedInputTokens)
	}
	if got := total.Total(); got != 300 {
		t.Errorf("Total() = %d, want 300", got)
	}
}

func TestCallIDRoundTrip(t *testing.T) {
	ctx := ContextWithCallID(context.Background(), "call_123")
	if got := CallIDFromContext(ctx); got != "call_123" {
		t.Errorf("CallIDFromContext = %q, want call_123", got)
	}
	if got := CallIDFromContext(context.Background()); got != "" {
		t.Errorf("CallIDFromContext on empty context = %q, want empty", got)
	}
}

func TestProgressFromContextAlwaysCallable(t *testing.T) {
	ProgressFromContext(context.Background())() // must not panic

	called := false
	ctx := ContextWithProgress(context.Background(), func() { called = true })
	ProgressFromContext(ctx)()
	if !called {
		t.Error("progress func was not invoked")
	}
}
