package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider adapts the OpenAI chat completions streaming API to the
// Part vocabulary. A custom baseURL makes it work against any
// OpenAI-compatible server (Ollama, LM Studio, vLLM).
type OpenAIProvider struct {
	client *openai.Client
	model  string
	label  string
}

// NewOpenAIProvider creates an OpenAI provider. An empty apiKey falls back
// to the OPENAI_API_KEY environment variable. An empty baseURL uses the
// official endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	label := "OpenAI"
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		label = "OpenAI-compatible"
	} else if apiKey == "" {
		return nil, fmt.Errorf("openai API key not configured: set OPENAI_API_KEY or provider config api_key")
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model, label: label}, nil
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.label, p.model)
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (PartStream, error) {
	return newPartStream(ctx, func(ctx context.Context, parts chan<- Part) error {
		params := buildChatParams(req, p.model)

		// Chat completions interleave tool calls by chunk index. Track
		// the call ID per index and close a call when a new index opens
		// or the stream finishes.
		openCalls := make(map[int64]string)
		var currentIndex int64 = -1
		var usage *Usage

		closeCall := func(index int64) {
			if id, ok := openCalls[index]; ok {
				delete(openCalls, index)
				parts <- Part{Kind: PartToolCallEnd, CallID: id}
			}
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				parts <- Part{Kind: PartTextDelta, Delta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				if tc.ID != "" {
					// A fresh ID marks the start of a new call.
					if currentIndex >= 0 && tc.Index != currentIndex {
						closeCall(currentIndex)
					}
					currentIndex = tc.Index
					openCalls[tc.Index] = tc.ID
					parts <- Part{Kind: PartToolCallStart, CallID: tc.ID, ToolName: tc.Function.Name}
				}
				if tc.Function.Arguments != "" {
					if id, ok := openCalls[tc.Index]; ok {
						parts <- Part{Kind: PartToolCallArgDelta, CallID: id, Delta: tc.Function.Arguments}
					}
				}
			}
			if choice.FinishReason != "" {
				for index := range openCalls {
					closeCall(index)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai streaming error: %w", err)
		}
		parts <- Part{Kind: PartStreamDone, Usage: usage}
		return nil
	}), nil
}

func buildOpenAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if txt := msg.TextContent(); txt != "" {
				out = append(out, openai.SystemMessage(txt))
			}
		case RoleUser:
			if txt := msg.TextContent(); txt != "" {
				out = append(out, openai.UserMessage(txt))
			}
		case RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				if txt := msg.TextContent(); txt != "" {
					out = append(out, openai.AssistantMessage(txt))
				}
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
			for _, call := range calls {
				args := string(call.Arguments)
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if txt := msg.TextContent(); txt != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(txt),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			for _, c := range msg.Content {
				if c.Type == ContentToolResult && c.ToolResult != nil {
					content := c.ToolResult.Content
					if content == "" {
						content = "(no output)"
					}
					out = append(out, openai.ToolMessage(content, c.ToolResult.ID))
				}
			}
		}
	}
	return out
}

func buildChatParams(req Request, defaultModel string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(chooseModel(req.Model, defaultModel)),
		Messages: buildOpenAIMessages(req),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildOpenAITools(req.Tools)
	}
	return params
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := shared.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: shared.FunctionParameters(spec.Schema),
		}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}
