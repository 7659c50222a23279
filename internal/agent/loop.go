package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kon-agent/kon/internal/llm"
)

// DefaultQueueCapacity bounds prompts buffered while a cycle is running.
const DefaultQueueCapacity = 5

// ErrQueueFull is returned by Submit when the prompt queue is at capacity.
var ErrQueueFull = errors.New("prompt queue full")

// LoopConfig carries the collaborators and tuning knobs for a Loop.
type LoopConfig struct {
	Provider        llm.Provider
	Registry        *llm.ToolRegistry
	Compactor       *Compactor
	SystemPrompt    func() string // assembled fresh per provider call; may be nil
	Model           string        // override passed through to the provider; may be empty
	MaxOutputTokens int
	MaxTurns        int // tool rounds per cycle before bailing out; <=0 means unlimited
	MaxConcurrency  int
	IdleTimeout     time.Duration
	QueueCapacity   int
	Emit            EmitFunc
	Logger          zerolog.Logger
}

// Loop owns the conversation and the prompt queue. It runs one cycle at a
// time: dequeue a prompt, compact, stream a turn, dispatch tools, repeat
// until the model stops. Prompts submitted mid-cycle queue up FIFO.
type Loop struct {
	provider   llm.Provider
	dispatcher *Dispatcher
	compactor  *Compactor
	engine     *TurnEngine
	emit       EmitFunc
	log        zerolog.Logger

	systemPrompt    func() string
	model           string
	maxOutputTokens int
	maxTurns        int

	conv  *Conversation
	queue chan string

	seq uint64

	mu          sync.Mutex
	cycleCancel context.CancelFunc
	totalUsage  llm.Usage
}

func NewLoop(cfg LoopConfig) *Loop {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	emit := cfg.Emit
	if emit == nil {
		emit = discardEvents
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == nil {
		systemPrompt = func() string { return "" }
	}

	l := &Loop{
		provider:        cfg.Provider,
		compactor:       cfg.Compactor,
		log:             cfg.Logger,
		systemPrompt:    systemPrompt,
		model:           cfg.Model,
		maxOutputTokens: cfg.MaxOutputTokens,
		maxTurns:        cfg.MaxTurns,
		conv:            NewConversation(),
		queue:           make(chan string, capacity),
	}
	l.emit = l.stamped(emit)
	l.engine = NewTurnEngine(l.emit)
	l.dispatcher = NewDispatcher(cfg.Registry, cfg.MaxConcurrency, cfg.IdleTimeout, l.emit)
	return l
}

// stamped assigns each event a monotonic sequence number and timestamp
// before it reaches the bus.
func (l *Loop) stamped(emit EmitFunc) EmitFunc {
	return func(ev Event) {
		ev.Seq = atomic.AddUint64(&l.seq, 1)
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		emit(ev)
	}
}

// Submit queues a prompt without blocking. The queue is strict FIFO;
// submissions past capacity fail with ErrQueueFull and leave the queued
// prompts untouched.
func (l *Loop) Submit(prompt string) error {
	select {
	case l.queue <- prompt:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLen reports how many prompts are waiting.
func (l *Loop) QueueLen() int {
	return len(l.queue)
}

// Cancel aborts the in-flight cycle, if any. The provider stream and all
// running tools observe the cancellation; queued prompts are unaffected.
func (l *Loop) Cancel() {
	l.mu.Lock()
	cancel := l.cycleCancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// TotalUsage reports cumulative token usage across all cycles.
func (l *Loop) TotalUsage() llm.Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalUsage
}

// Messages returns a snapshot of the conversation. Call between cycles;
// mid-cycle snapshots reflect the last committed point.
func (l *Loop) Messages() []llm.Message {
	return l.conv.Messages()
}

// Run blocks processing prompts until ctx is cancelled. Cycle errors are
// published as events and logged; they never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case prompt := <-l.queue:
			if err := l.RunCycle(ctx, prompt); err != nil && !errors.Is(err, context.Canceled) {
				l.log.Error().Err(err).Msg("cycle failed")
			}
		}
	}
}

// RunCycle drives one full prompt cycle: append the prompt, then loop
// provider turns and tool rounds until the model stops, errors, or is
// cancelled.
func (l *Loop) RunCycle(ctx context.Context, prompt string) error {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.cycleCancel = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.cycleCancel = nil
		l.mu.Unlock()
	}()

	baseLen := l.conv.Len()
	l.conv.Append(llm.UserText(prompt))
	l.emit(Event{Type: EventAgentStart, Text: prompt})

	var cycleUsage llm.Usage
	finish := func(err error) error {
		l.emit(Event{Type: EventAgentEnd, Usage: &cycleUsage, Err: err})
		return err
	}
	// rewind restores the last consistent point: the history as it was
	// before the cycle, plus the prompt that triggered it.
	rewind := func() {
		l.conv.Truncate(baseLen + 1)
	}

	turns := 0
	for {
		turns++
		if l.maxTurns > 0 && turns > l.maxTurns {
			l.emit(Event{
				Type: EventWarning,
				Text: fmt.Sprintf("stopping after %d tool rounds without completion", l.maxTurns),
			})
			return finish(nil)
		}

		system := l.systemPrompt()
		if l.compactor != nil {
			if err := l.compactor.EnsureFits(cycleCtx, l.conv, system); err != nil {
				if cycleCtx.Err() != nil {
					rewind()
					return finish(context.Canceled)
				}
				l.emit(Event{Type: EventError, Text: err.Error(), Err: err})
				return finish(err)
			}
		}

		l.emit(Event{Type: EventTurnStart})
		stream, err := l.provider.Stream(cycleCtx, llm.Request{
			Model:           l.model,
			System:          system,
			Messages:        l.conv.Messages(),
			Tools:           l.dispatcher.registry.AllSpecs(),
			MaxOutputTokens: l.maxOutputTokens,
		})
		if err != nil {
			if cycleCtx.Err() != nil {
				rewind()
				return finish(context.Canceled)
			}
			err = fmt.Errorf("provider call: %w", err)
			l.emit(Event{Type: EventError, Text: err.Error(), Err: err})
			return finish(err)
		}

		turn := l.engine.Run(cycleCtx, stream)
		if turn.Usage != nil {
			cycleUsage.Add(*turn.Usage)
			l.mu.Lock()
			l.totalUsage.Add(*turn.Usage)
			l.mu.Unlock()
		}

		switch turn.Reason {
		case ReasonStop:
			l.conv.Append(turn.Message)
			return finish(nil)

		case ReasonCancelled:
			rewind()
			return finish(context.Canceled)

		case ReasonError:
			// The sealed turn's partial output is discarded; history up
			// to the last committed round stays intact.
			l.emit(Event{Type: EventError, Text: turn.Err.Error(), Err: turn.Err})
			return finish(turn.Err)

		case ReasonToolCallsPending:
			results := l.dispatcher.Dispatch(cycleCtx, turn.ToolCalls)
			if cycleCtx.Err() != nil {
				rewind()
				return finish(context.Canceled)
			}
			// Commit the round only once every result is in, assistant
			// message first, results in original call order.
			l.conv.Append(turn.Message)
			l.conv.Append(toolResultsMessage(results))

		default:
			err := fmt.Errorf("turn sealed with unexpected reason %q", turn.Reason)
			l.emit(Event{Type: EventError, Text: err.Error(), Err: err})
			return finish(err)
		}
	}
}

// toolResultsMessage packs a round's ordered results into one tool-role
// message so request/response pairing survives provider round-trips.
func toolResultsMessage(results []llm.ToolResult) llm.Message {
	content := make([]llm.Content, 0, len(results))
	for i := range results {
		content = append(content, llm.Content{
			Type:       llm.ContentToolResult,
			ToolResult: &results[i],
		})
	}
	return llm.Message{Role: llm.RoleTool, Content: content}
}
