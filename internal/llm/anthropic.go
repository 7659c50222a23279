package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicProvider adapts the Anthropic streaming API to the Part vocabulary.
type AnthropicProvider struct {
	client         *anthropic.Client
	model          string
	thinkingBudget int64 // 0 = disabled, >0 = enabled with budget
}

// parseModelThinking extracts the -thinking suffix from a model name.
// "claude-sonnet-4-5-thinking" -> ("claude-sonnet-4-5", 10000)
func parseModelThinking(model string) (string, int64) {
	if strings.HasSuffix(model, "-thinking") {
		return strings.TrimSuffix(model, "-thinking"), 10000
	}
	return model, 0
}

// NewAnthropicProvider creates an Anthropic provider. An empty apiKey falls
// back to the ANTHROPIC_API_KEY environment variable.
func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured: set ANTHROPIC_API_KEY or provider config api_key")
	}
	actualModel, thinkingBudget := parseModelThinking(model)
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		client:         &client,
		model:          actualModel,
		thinkingBudget: thinkingBudget,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	if p.thinkingBudget > 0 {
		return fmt.Sprintf("Anthropic (%s, thinking=%dk)", p.model, p.thinkingBudget/1000)
	}
	return fmt.Sprintf("Anthropic (%s)", p.model)
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (PartStream, error) {
	return newPartStream(ctx, func(ctx context.Context, parts chan<- Part) error {
		system, messages := buildAnthropicMessages(req)

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(chooseModel(req.Model, p.model)),
			MaxTokens: maxTokens(req.MaxOutputTokens, 4096),
			Messages:  messages,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if len(req.Tools) > 0 {
			params.Tools = buildAnthropicTools(req.Tools)
		}
		if p.thinkingBudget > 0 {
			params.MaxTokens = maxTokens(req.MaxOutputTokens, 16000)
			params.Thinking = anthropic.ThinkingConfigParamUnion{
				OfEnabled: &anthropic.ThinkingConfigEnabledParam{
					BudgetTokens: p.thinkingBudget,
				},
			}
		}

		// Track which stream index carries which tool call so argument
		// fragments and stop events attach to the right call.
		openCalls := make(map[int64]string)
		var usage *Usage

		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				switch block := variant.ContentBlock.AsAny().(type) {
				case anthropic.ThinkingBlock:
					if block.Thinking != "" || block.Signature != "" {
						parts <- Part{Kind: PartThinkingDelta, Delta: block.Thinking, Signature: block.Signature}
					}
				case anthropic.ToolUseBlock:
					openCalls[variant.Index] = block.ID
					parts <- Part{Kind: PartToolCallStart, CallID: block.ID, ToolName: block.Name}
					if raw := toolInputToRaw(block.Input); len(raw) > 0 && string(raw) != "{}" {
						parts <- Part{Kind: PartToolCallArgDelta, CallID: block.ID, Delta: string(raw)}
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						parts <- Part{Kind: PartTextDelta, Delta: delta.Text}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						parts <- Part{Kind: PartThinkingDelta, Delta: delta.Thinking}
					}
				case anthropic.SignatureDelta:
					if delta.Signature != "" {
						parts <- Part{Kind: PartThinkingDelta, Signature: delta.Signature}
					}
				case anthropic.InputJSONDelta:
					if id, ok := openCalls[variant.Index]; ok && delta.PartialJSON != "" {
						parts <- Part{Kind: PartToolCallArgDelta, CallID: id, Delta: delta.PartialJSON}
					}
				}
			case anthropic.ContentBlockStopEvent:
				if id, ok := openCalls[variant.Index]; ok {
					delete(openCalls, variant.Index)
					parts <- Part{Kind: PartToolCallEnd, CallID: id}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Usage.OutputTokens > 0 {
					usage = &Usage{
						InputTokens:  int(variant.Usage.InputTokens),
						OutputTokens: int(variant.Usage.OutputTokens),
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic streaming error: %w", err)
		}
		parts <- Part{Kind: PartStreamDone, Usage: usage}
		return nil
	}), nil
}

func buildAnthropicMessages(req Request) (string, []anthropic.MessageParam) {
	systemParts := []string{}
	if req.System != "" {
		systemParts = append(systemParts, req.System)
	}
	var out []anthropic.MessageParam

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.TextContent())
		case RoleUser:
			blocks := buildAnthropicBlocks(msg.Content, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			blocks := buildAnthropicBlocks(msg.Content, true)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			blocks := buildAnthropicBlocks(msg.Content, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

func buildAnthropicBlocks(content []Content, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(content))
	for _, c := range content {
		switch c.Type {
		case ContentThinking:
			if allowToolUse && c.Signature != "" {
				blocks = append(blocks, anthropic.NewThinkingBlock(c.Signature, c.Thinking))
			}
		case ContentText:
			if c.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			}
		case ContentToolCall:
			if allowToolUse && c.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolCall.ID, c.ToolCall.Arguments, c.ToolCall.Name))
			}
		case ContentToolResult:
			if c.ToolResult != nil {
				blocks = append(blocks, toolResultBlock(c.ToolResult))
			}
		}
	}
	return blocks
}

func toolResultBlock(result *ToolResult) anthropic.ContentBlockParamUnion {
	text := result.Content
	if text == "" {
		text = "(no output)"
	}
	block := anthropic.ToolResultBlockParam{
		ToolUseID: result.ID,
		IsError:   anthropic.Bool(result.IsError),
		Content: []anthropic.ToolResultBlockParamContentUnion{
			{OfText: &anthropic.TextBlockParam{Text: text}},
		},
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func schemaRequired(schema map[string]interface{}) []string {
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	}
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func maxTokens(requested, fallback int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return int64(fallback)
}
