package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
)

const summarizeSystem = `You condense conversation history for a coding agent.
Write a dense summary of the conversation below. Preserve: the user's goals,
decisions made, files touched and how, commands run and their outcomes, and
any unresolved problems. Omit pleasantries. Output only the summary.`

// ProviderSummarizer produces compaction summaries by running a plain
// generation call against a Provider. Tool use is disabled for the call;
// the summary is the concatenated text output.
type ProviderSummarizer struct {
	provider Provider
	model    string
}

func NewProviderSummarizer(provider Provider, model string) *ProviderSummarizer {
	return &ProviderSummarizer{provider: provider, model: model}
}

// Summarize renders the history as a transcript and asks the model to
// condense it.
func (s *ProviderSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	req := Request{
		Model:  s.model,
		System: summarizeSystem,
		Messages: []Message{
			UserText(renderTranscript(messages)),
		},
		MaxOutputTokens: 2048,
	}

	stream, err := s.provider.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("open summary stream: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		part, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("summary stream: %w", err)
		}
		switch part.Kind {
		case PartTextDelta:
			sb.WriteString(part.Delta)
		case PartStreamError:
			return "", fmt.Errorf("summary stream: %w", part.Err)
		}
	}

	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return "", fmt.Errorf("summarizer returned no text")
	}
	return summary, nil
}

// renderTranscript flattens a message history into readable text for the
// summarization call. Tool payloads are elided to their names so the
// transcript stays small.
func renderTranscript(messages []Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		for _, c := range msg.Content {
			switch c.Type {
			case ContentText:
				fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, c.Text)
			case ContentToolCall:
				if c.ToolCall != nil {
					fmt.Fprintf(&sb, "[%s] called tool %s(%s)\n", msg.Role, c.ToolCall.Name, c.ToolCall.Arguments)
				}
			case ContentToolResult:
				if c.ToolResult != nil {
					out := c.ToolResult.Content
					if len(out) > 400 {
						out = out[:400] + "..."
					}
					fmt.Fprintf(&sb, "[tool %s] %s\n", c.ToolResult.Name, out)
				}
			}
		}
	}
	return sb.String()
}
