package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kon-agent/kon/internal/llm"
)

const (
	DefaultMaxConcurrency = 4
	DefaultIdleTimeout    = 60 * time.Second
)

// Dispatcher executes the tool calls of a sealed turn. Calls run with
// bounded concurrency; each call has an idle watchdog that fires when the
// tool reports no progress for the configured window. One call failing,
// timing out, or naming an unknown tool never aborts its siblings.
type Dispatcher struct {
	registry       *llm.ToolRegistry
	maxConcurrency int
	idleTimeout    time.Duration
	emit           EmitFunc
}

func NewDispatcher(registry *llm.ToolRegistry, maxConcurrency int, idleTimeout time.Duration, emit EmitFunc) *Dispatcher {
	if registry == nil {
		registry = llm.NewToolRegistry()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if emit == nil {
		emit = discardEvents
	}
	return &Dispatcher{
		registry:       registry,
		maxConcurrency: maxConcurrency,
		idleTimeout:    idleTimeout,
		emit:           emit,
	}
}

// Dispatch runs every call and returns one result per call, indexed to
// match the input order regardless of completion order.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))

	g := new(errgroup.Group)
	g.SetLimit(d.maxConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.executeOne(ctx, call)
			return nil
		})
	}
	g.Wait()
	return results
}

func (d *Dispatcher) executeOne(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		result := llm.ToolResult{
			ID:      call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("unknown tool: %s", call.Name),
			IsError: true,
			Kind:    llm.FailureUnknownTool,
		}
		d.emitResult(result)
		return result
	}

	d.emit(Event{
		Type:        EventToolExecStart,
		ToolCallID:  call.ID,
		ToolName:    call.Name,
		ToolPreview: tool.Preview(call.Arguments),
	})

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	progress := func() {}
	if d.idleTimeout > 0 {
		pings := make(chan struct{}, 1)
		progress = func() {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
		go func() {
			timer := time.NewTimer(d.idleTimeout)
			defer timer.Stop()
			for {
				select {
				case <-timer.C:
					timedOut.Store(true)
					cancel()
					return
				case <-pings:
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(d.idleTimeout)
				case <-callCtx.Done():
					return
				}
			}
		}()
	}

	execCtx := llm.ContextWithCallID(llm.ContextWithProgress(callCtx, progress), call.ID)
	output, err := tool.Execute(execCtx, call.Arguments)

	result := llm.ToolResult{ID: call.ID, Name: call.Name, Content: output}
	switch {
	case timedOut.Load():
		result.Content = fmt.Sprintf("tool %s timed out after %s of no progress", call.Name, d.idleTimeout)
		result.IsError = true
		result.Kind = llm.FailureTimeout
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		result.Content = "cancelled"
		result.IsError = true
		result.Kind = llm.FailureCancelled
	case err != nil:
		result.Content = err.Error()
		result.IsError = true
		result.Kind = llm.FailureExecution
	}
	d.emitResult(result)
	return result
}

func (d *Dispatcher) emitResult(result llm.ToolResult) {
	d.emit(Event{
		Type:        EventToolResult,
		ToolCallID:  result.ID,
		ToolName:    result.Name,
		ToolOutput:  result.Content,
		ToolSuccess: !result.IsError,
		ToolFailure: string(result.Kind),
	})
}
