// Package llm defines the inference adapter contract and wraps concrete
// provider adapters with retry and a per-endpoint circuit breaker. The
// runtime never inspects provider identity except for logging.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/tools"
)

// Request is one inference call: full conversation, available tools, and
// resolved parameters.
type Request struct {
	System   string
	Messages []models.ConversationMessage
	Tools    []models.ToolDescriptor
	Params   models.InferenceParams
}

// Response is the provider-neutral inference result.
type Response struct {
	Message    models.ConversationMessage
	Usage      models.TokenUsage
	StopReason string
}

// Adapter is the capability contract every provider implements.
type Adapter interface {
	Name() string
	Infer(ctx context.Context, req *Request) (*Response, error)
}

// NewAdapter builds a provider adapter from configuration.
func NewAdapter(cfg *config.LLMProviderConfig) (Adapter, error) {
	switch cfg.Type {
	case config.LLMProviderTypeOpenAI:
		return newOpenAIAdapter(cfg)
	case config.LLMProviderTypeAnthropic:
		return newAnthropicAdapter(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type %q", cfg.Type)
	}
}

// canonicalToolCalls normalizes a provider's tool-call payload through the
// shared conversion layer. Malformed argument JSON degrades to an empty
// object with a warning; one bad argument string must never fail the
// whole inference.
func canonicalToolCalls(raw json.RawMessage, log *slog.Logger) []models.ToolCall {
	calls, err := tools.CanonicalizeToolCalls(raw, tools.WarnFunc(log))
	if err != nil {
		log.Warn("Unrecognized tool call payload dropped", "error", err)
		return nil
	}
	return calls
}
