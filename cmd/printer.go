package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kon-agent/kon/internal/agent"
)

const (
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// eventPrinter renders the agent's event stream as terminal output. It owns
// stdout for the lifetime of the run; nothing else may write between an
// agent_start and its agent_end.
type eventPrinter struct {
	out          io.Writer
	showThinking bool
	showStats    bool

	inThinking bool
	cycle      cycleOutcome
}

// run consumes events until the channel closes, reporting each completed
// cycle on done.
func (p *eventPrinter) run(events <-chan agent.Event, done chan<- cycleOutcome) {
	for ev := range events {
		p.handle(ev, done)
	}
}

func (p *eventPrinter) handle(ev agent.Event, done chan<- cycleOutcome) {
	switch ev.Type {
	case agent.EventAgentStart:
		p.cycle = cycleOutcome{}

	case agent.EventAgentEnd:
		if ev.Usage != nil {
			p.cycle.usage = *ev.Usage
		}
		// The bus folds Err into Text during transport.
		p.cycle.err = ev.Err
		if p.cycle.err == nil && ev.Text != "" {
			p.cycle.err = errors.New(ev.Text)
		}
		if p.showStats {
			fmt.Fprintf(p.out, "%s[%d in / %d out tokens, %d tool calls]%s\n",
				ansiDim, p.cycle.usage.InputTokens, p.cycle.usage.OutputTokens, p.cycle.toolCalls, ansiReset)
		}
		done <- p.cycle

	case agent.EventTurnStart:
		p.cycle.llmTurns++

	case agent.EventThinkingStart:
		if p.showThinking {
			fmt.Fprintf(p.out, "%s", ansiDim)
			p.inThinking = true
		}

	case agent.EventThinkingDelta:
		if p.showThinking {
			fmt.Fprint(p.out, ev.Text)
		}

	case agent.EventThinkingEnd:
		if p.inThinking {
			fmt.Fprintf(p.out, "%s\n", ansiReset)
			p.inThinking = false
		}

	case agent.EventTextDelta:
		fmt.Fprint(p.out, ev.Text)

	case agent.EventTextEnd:
		fmt.Fprintln(p.out)

	case agent.EventToolExecStart:
		if ev.ToolPreview != "" {
			fmt.Fprintf(p.out, "%s→ %s %s%s\n", ansiDim, ev.ToolName, ev.ToolPreview, ansiReset)
		} else {
			fmt.Fprintf(p.out, "%s→ %s%s\n", ansiDim, ev.ToolName, ansiReset)
		}

	case agent.EventToolResult:
		p.cycle.toolCalls++
		if ev.ToolSuccess {
			fmt.Fprintf(p.out, "%s✓ %s%s\n", ansiDim, ev.ToolName, ansiReset)
		} else {
			fmt.Fprintf(p.out, "✗ %s (%s): %s\n", ev.ToolName, ev.ToolFailure, firstLine(ev.ToolOutput))
		}

	case agent.EventCompactionEnd:
		if ev.CompactionAborted {
			fmt.Fprintf(p.out, "%scompaction aborted%s\n", ansiDim, ansiReset)
		} else {
			fmt.Fprintf(p.out, "%scompacted history: %d → %d tokens%s\n",
				ansiDim, ev.TokensBefore, ev.TokensAfter, ansiReset)
		}

	case agent.EventRetry:
		fmt.Fprintf(p.out, "%sretrying (%d/%d) in %.0fs%s\n",
			ansiDim, ev.RetryAttempt, ev.RetryMaxAttempts, ev.RetryWaitSecs, ansiReset)

	case agent.EventWarning:
		fmt.Fprintf(p.out, "warning: %s\n", ev.Text)

	case agent.EventError:
		fmt.Fprintf(p.out, "error: %s\n", ev.Text)
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
