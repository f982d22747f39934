package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
)

// anthropicAdapter speaks the Anthropic Messages API.
type anthropicAdapter struct {
	client anthropic.Client
	model  string
	log    *slog.Logger
}

func newAnthropicAdapter(cfg *config.LLMProviderConfig) (*anthropicAdapter, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("environment variable %s is not set", cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicAdapter{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		log:    slog.Default().With("component", "llm", "provider", "anthropic"),
	}, nil
}

func (a *anthropicAdapter) Name() string { return "anthropic" }

func (a *anthropicAdapter) Infer(ctx context.Context, req *Request) (*Response, error) {
	model := req.Params.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.Params.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Params.Temperature),
		Messages:    a.convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Params.ReasoningTokens > 0 {
		budget := int64(req.Params.ReasoningTokens)
		if budget < 1024 {
			budget = 1024
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	if len(req.Tools) > 0 {
		tools, err := a.convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("message creation failed: %w", err)
	}

	out := models.ConversationMessage{Role: models.RoleAssistant}
	var rawCalls []json.RawMessage
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			tu := block.AsToolUse()
			rawCalls = append(rawCalls, toolUseJSON(tu.ID, tu.Name, tu.Input))
		}
	}
	if len(rawCalls) > 0 {
		// Route through the shared canonicalizer: non-object inputs
		// degrade to {} with a warning instead of failing the inference.
		raw, err := json.Marshal(rawCalls)
		if err == nil {
			out.ToolCalls = canonicalToolCalls(raw, a.log)
		}
	}

	promptTokens := int(msg.Usage.InputTokens)
	completionTokens := int(msg.Usage.OutputTokens)
	return &Response{
		Message: out,
		Usage: models.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		StopReason: string(msg.StopReason),
	}, nil
}

// toolUseJSON rebuilds one tool_use block as canonicalizer input. An
// input that is not valid JSON is omitted so the marshal cannot fail;
// the canonicalizer then substitutes the empty object.
func toolUseJSON(id, name string, input json.RawMessage) json.RawMessage {
	if len(input) > 0 && !json.Valid(input) {
		input = nil
	}
	b, _ := json.Marshal(struct {
		Type  string          `json:"type"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input,omitempty"`
	}{Type: "tool_use", ID: id, Name: name, Input: input})
	return b
}

// convertMessages maps the conversation to Anthropic's block format. Tool
// results become tool_result blocks on user messages; assistant tool calls
// become tool_use blocks.
func (a *anthropicAdapter) convertMessages(msgs []models.ConversationMessage) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range msgs {
		// Anthropic only accepts system content at the top of the request.
		// Mid-conversation system messages (compaction summaries) are
		// re-rolled as user text.
		if m.Role == models.RoleSystem {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if m.IsToolResult() {
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
			continue
		}
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
		}
		if len(blocks) == 0 {
			continue
		}

		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func (a *anthropicAdapter) convertTools(tools []models.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if t.InputSchema != "" {
			if err := json.Unmarshal([]byte(t.InputSchema), &schema); err != nil {
				return nil, fmt.Errorf("tool %s has an invalid input schema: %w", t.Name, err)
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, param)
	}
	return out, nil
}
