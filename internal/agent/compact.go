package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/kon-agent/kon/internal/llm"
)

// OverflowPolicy selects what happens when the history exceeds budget.
type OverflowPolicy string

const (
	// OverflowContinue summarizes the oldest messages and keeps going.
	OverflowContinue OverflowPolicy = "continue"
	// OverflowStop halts before the provider call and surfaces the
	// overflow instead of truncating.
	OverflowStop OverflowPolicy = "stop"
)

// ErrOverflow reports that the history exceeds the context budget and
// compaction cannot (or is configured not to) reduce it. The loop halts
// rather than silently truncating model context.
var ErrOverflow = errors.New("conversation exceeds context budget")

// summaryHeader prefixes the synthesized message that replaces a compacted
// prefix, so the model knows it is reading a summary rather than verbatim
// history.
const summaryHeader = "Summary of the conversation so far (earlier messages were compacted):"

// Compactor keeps a conversation inside the model's context window by
// replacing the oldest run of messages with a synthesized summary.
type Compactor struct {
	estimator     TokenEstimator
	summarizer    llm.Summarizer
	policy        OverflowPolicy
	contextWindow int
	bufferTokens  int
	keepRecent    int // user-message boundaries preserved at the tail
	emit          EmitFunc
}

func NewCompactor(estimator TokenEstimator, summarizer llm.Summarizer, policy OverflowPolicy, contextWindow, bufferTokens, keepRecent int, emit EmitFunc) *Compactor {
	if keepRecent < 1 {
		keepRecent = 1
	}
	if emit == nil {
		emit = discardEvents
	}
	return &Compactor{
		estimator:     estimator,
		summarizer:    summarizer,
		policy:        policy,
		contextWindow: contextWindow,
		bufferTokens:  bufferTokens,
		keepRecent:    keepRecent,
		emit:          emit,
	}
}

func (c *Compactor) budget() int {
	return c.contextWindow - c.bufferTokens
}

// EnsureFits runs before each provider call. Under budget it is a no-op
// and the conversation is untouched. Over budget it either compacts
// (policy continue) or returns ErrOverflow (policy stop). Each prefix
// replacement is atomic; a summarizer failure leaves the conversation
// exactly as it was.
func (c *Compactor) EnsureFits(ctx context.Context, conv *Conversation, systemPrompt string) error {
	estimate := c.estimateWithSystem(conv, systemPrompt)
	if estimate <= c.budget() {
		return nil
	}

	if c.policy == OverflowStop {
		return fmt.Errorf("%w: %d tokens estimated, budget %d (policy stop)", ErrOverflow, estimate, c.budget())
	}

	before := estimate
	c.emit(Event{Type: EventCompactionStart, TokensBefore: before})

	keep := c.keepRecent
	for estimate > c.budget() {
		cut := compactionCut(conv.Messages(), keep)
		if cut < 1 {
			if keep > 1 {
				// Nothing left to fold at this retention level; shrink
				// the protected tail and try again.
				keep--
				continue
			}
			c.emit(Event{Type: EventCompactionEnd, TokensBefore: before, TokensAfter: estimate, CompactionAborted: true})
			return fmt.Errorf("%w: no compactable prefix remains at %d tokens", ErrOverflow, estimate)
		}

		prefix := conv.Messages()[:cut]
		summary, err := c.summarizer.Summarize(ctx, prefix)
		if err != nil {
			c.emit(Event{Type: EventCompactionEnd, TokensBefore: before, TokensAfter: estimate, CompactionAborted: true})
			return fmt.Errorf("compaction summarizer: %w", err)
		}

		replacement := llm.UserText(summaryHeader + "\n\n" + summary)
		if err := conv.ReplaceRange(0, cut, replacement); err != nil {
			c.emit(Event{Type: EventCompactionEnd, TokensBefore: before, TokensAfter: estimate, CompactionAborted: true})
			return fmt.Errorf("compaction commit: %w", err)
		}

		next := c.estimateWithSystem(conv, systemPrompt)
		if next >= estimate {
			// The summary did not shrink anything; another round would
			// loop forever.
			c.emit(Event{Type: EventCompactionEnd, TokensBefore: before, TokensAfter: next, CompactionAborted: true})
			return fmt.Errorf("%w: summary did not reduce history below budget", ErrOverflow)
		}
		estimate = next
	}

	c.emit(Event{Type: EventCompactionEnd, TokensBefore: before, TokensAfter: estimate})
	return nil
}

func (c *Compactor) estimateWithSystem(conv *Conversation, systemPrompt string) int {
	messages := conv.Messages()
	if systemPrompt != "" {
		messages = append([]llm.Message{llm.SystemText(systemPrompt)}, messages...)
	}
	return c.estimator.Estimate(messages)
}

// compactionCut returns the index before which messages may be folded into
// a summary. The cut always lands on a user message, keeping the most
// recent keepTurns user-message boundaries verbatim; cutting at a user
// message also guarantees no assistant tool call is split from its
// results.
func compactionCut(messages []llm.Message, keepTurns int) int {
	seen := 0
	cut := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			seen++
			if seen >= keepTurns {
				cut = i
				break
			}
		}
	}
	if cut >= len(messages) {
		return 0
	}
	return cut
}
