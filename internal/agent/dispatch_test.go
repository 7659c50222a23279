package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kon-agent/kon/internal/llm"
)

func newTestRegistry(tools ...llm.Tool) *llm.ToolRegistry {
	registry := llm.NewToolRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	return registry
}

func TestDispatchUnknownToolFailsWithoutAbortingSiblings(t *testing.T) {
	registry := newTestRegistry(&fakeTool{
		name: "read",
		run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "file contents", nil
		},
	})
	d := NewDispatcher(registry, 2, 0, nil)

	results := d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "teleport", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "read", Arguments: json.RawMessage(`{}`)},
	})

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if !results[0].IsError || results[0].Kind != llm.FailureUnknownTool {
		t.Errorf("result[0] = %+v, want unknown_tool failure", results[0])
	}
	if results[1].IsError || results[1].Content != "file contents" {
		t.Errorf("result[1] = %+v, want success", results[1])
	}
}

func TestDispatchIdleTimeoutDoesNotAbortSiblings(t *testing.T) {
	stuck := &fakeTool{
		name: "stuck",
		run: func(ctx context.Context, args json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	slowButAlive := &fakeTool{
		name: "alive",
		run: func(ctx context.Context, args json.RawMessage) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "done", nil
		},
	}
	d := NewDispatcher(newTestRegistry(stuck, slowButAlive), 2, 50*time.Millisecond, nil)

	results := d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "stuck", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "alive", Arguments: json.RawMessage(`{}`)},
	})

	if results[0].Kind != llm.FailureTimeout {
		t.Errorf("result[0] kind = %s, want timeout", results[0].Kind)
	}
	if results[1].IsError || results[1].Content != "done" {
		t.Errorf("result[1] = %+v, want success", results[1])
	}
	// Order follows call order, not completion order.
	if results[0].ID != "1" || results[1].ID != "2" {
		t.Errorf("result order %s, %s; want 1, 2", results[0].ID, results[1].ID)
	}
}

func TestDispatchProgressResetsWatchdog(t *testing.T) {
	tool := &fakeTool{
		name: "chatty",
		run: func(ctx context.Context, args json.RawMessage) (string, error) {
			ping := llm.ProgressFromContext(ctx)
			for i := 0; i < 6; i++ {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(25 * time.Millisecond):
					ping()
				}
			}
			return "finished", nil
		},
	}
	d := NewDispatcher(newTestRegistry(tool), 1, 60*time.Millisecond, nil)

	results := d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "chatty", Arguments: json.RawMessage(`{}`)},
	})

	if results[0].IsError {
		t.Fatalf("tool reporting progress must not time out: %+v", results[0])
	}
	if results[0].Content != "finished" {
		t.Errorf("content = %q, want finished", results[0].Content)
	}
}

func TestDispatchExecutionErrorScopedToOneCall(t *testing.T) {
	d := NewDispatcher(newTestRegistry(
		&fakeTool{name: "bad", run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("permission denied")
		}},
		&fakeTool{name: "good", run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "ok", nil
		}},
	), 2, 0, nil)

	results := d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "bad", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "good", Arguments: json.RawMessage(`{}`)},
	})

	if results[0].Kind != llm.FailureExecution || results[0].Content != "permission denied" {
		t.Errorf("result[0] = %+v, want execution failure", results[0])
	}
	if results[1].IsError {
		t.Errorf("result[1] = %+v, want success", results[1])
	}
}

func TestDispatchBoundedConcurrency(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0

	tool := &fakeTool{
		name: "count",
		run: func(ctx context.Context, args json.RawMessage) (string, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return "", nil
		},
	}
	d := NewDispatcher(newTestRegistry(tool), 2, 0, nil)

	calls := make([]llm.ToolCall, 6)
	for i := range calls {
		calls[i] = llm.ToolCall{ID: string(rune('a' + i)), Name: "count", Arguments: json.RawMessage(`{}`)}
	}
	d.Dispatch(context.Background(), calls)

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestDispatchParentCancellationMarksCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tool := &fakeTool{
		name: "wait",
		run: func(ctx context.Context, args json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	d := NewDispatcher(newTestRegistry(tool), 1, 0, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	results := d.Dispatch(ctx, []llm.ToolCall{
		{ID: "1", Name: "wait", Arguments: json.RawMessage(`{}`)},
	})

	if results[0].Kind != llm.FailureCancelled {
		t.Errorf("kind = %s, want cancelled", results[0].Kind)
	}
}

func TestDispatchEmitsExecAndResultEvents(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(newTestRegistry(
		&fakeTool{name: "echo", run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "hi", nil
		}},
	), 1, 0, rec.emit)

	d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "echo", Arguments: json.RawMessage(`{}`)},
	})

	types := rec.types()
	if len(types) != 2 || types[0] != EventToolExecStart || types[1] != EventToolResult {
		t.Errorf("events = %v, want [tool_exec_start tool_result]", types)
	}
}
