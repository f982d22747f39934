package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
)

// openAIAdapter speaks the OpenAI chat completions API, including
// OpenAI-compatible gateways via a base URL override.
type openAIAdapter struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

func newOpenAIAdapter(cfg *config.LLMProviderConfig) (*openAIAdapter, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("environment variable %s is not set", cfg.APIKeyEnv)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &openAIAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		log:    slog.Default().With("component", "llm", "provider", "openai"),
	}, nil
}

func (a *openAIAdapter) Name() string { return "openai" }

func (a *openAIAdapter) Infer(ctx context.Context, req *Request) (*Response, error) {
	model := req.Params.Model
	if model == "" {
		model = a.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    a.convertMessages(req.System, req.Messages),
		Temperature: float32(req.Params.Temperature),
		MaxTokens:   req.Params.MaxOutputTokens,
	}
	if len(req.Tools) > 0 {
		tools, err := a.convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		chatReq.Tools = tools
	}

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	msg := models.ConversationMessage{
		Role:    models.RoleAssistant,
		Content: choice.Message.Content,
	}
	if len(choice.Message.ToolCalls) > 0 {
		// The SDK's tool calls marshal to the canonicalizer's function
		// shape; malformed argument strings degrade to {} there.
		raw, err := json.Marshal(choice.Message.ToolCalls)
		if err == nil {
			msg.ToolCalls = canonicalToolCalls(raw, a.log)
		}
	}

	return &Response{
		Message: msg,
		Usage: models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		StopReason: string(choice.FinishReason),
	}, nil
}

func (a *openAIAdapter) convertMessages(system string, msgs []models.ConversationMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		if m.IsToolResult() {
			cm.Role = openai.ChatMessageRoleTool
			cm.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func (a *openAIAdapter) convertTools(tools []models.ToolDescriptor) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params json.RawMessage
		if t.InputSchema != "" {
			if !json.Valid([]byte(t.InputSchema)) {
				return nil, fmt.Errorf("tool %s has an invalid input schema", t.Name)
			}
			params = json.RawMessage(t.InputSchema)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}
