package agent

import (
	"github.com/tiktoken-go/tokenizer"

	"github.com/kon-agent/kon/internal/llm"
)

// TokenEstimator reports an approximate token count for a message history.
// Estimates feed compaction decisions, not billing, so being close is
// enough.
type TokenEstimator interface {
	Estimate(messages []llm.Message) int
}

// messageOverheadTokens covers per-message wire framing (role markers,
// content block separators).
const messageOverheadTokens = 4

// TiktokenEstimator counts tokens with a real BPE codec.
type TiktokenEstimator struct {
	codec tokenizer.Codec
}

// NewTokenEstimator returns a tiktoken-backed estimator for the given
// model, falling back to the cl100k_base encoding when the model is
// unknown to the tokenizer tables (Anthropic models, local models).
func NewTokenEstimator(model string) (*TiktokenEstimator, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenEstimator{codec: codec}, nil
}

func (e *TiktokenEstimator) Estimate(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverheadTokens
		for _, text := range contentTexts(msg) {
			ids, _, err := e.codec.Encode(text)
			if err != nil {
				total += heuristicTokens(text)
				continue
			}
			total += len(ids)
		}
	}
	return total
}

// HeuristicEstimator approximates four bytes per token. Used when no
// tokenizer tables are available at all.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverheadTokens
		for _, text := range contentTexts(msg) {
			total += heuristicTokens(text)
		}
	}
	return total
}

func heuristicTokens(text string) int {
	return (len(text) + 3) / 4
}

// contentTexts flattens every token-bearing payload of a message: text,
// thinking, tool-call arguments, and tool-result output.
func contentTexts(msg llm.Message) []string {
	out := make([]string, 0, len(msg.Content))
	for _, c := range msg.Content {
		switch c.Type {
		case llm.ContentText:
			out = append(out, c.Text)
		case llm.ContentThinking:
			out = append(out, c.Thinking)
		case llm.ContentToolCall:
			if c.ToolCall != nil {
				out = append(out, c.ToolCall.Name, string(c.ToolCall.Arguments))
			}
		case llm.ContentToolResult:
			if c.ToolResult != nil {
				out = append(out, c.ToolResult.Content)
			}
		}
	}
	return out
}
