package config

import (
	"fmt"
	"sync"
)

// LLMProviderConfig defines one LLM endpoint agents may use.
type LLMProviderConfig struct {
	Type LLMProviderType `yaml:"type"`

	// Model is the default model for this provider.
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible gateways).
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// MaxOutputTokens default for inferences through this provider.
	MaxOutputTokens int `yaml:"max_output_tokens,omitempty"`

	// RequestTimeout as a Go duration string; resolved at load time.
	RequestTimeoutRaw string `yaml:"request_timeout,omitempty"`
}

// LLMProviderRegistry stores LLM provider configurations with thread-safe access
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a new LLM provider registry
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	if providers == nil {
		providers = make(map[string]*LLMProviderConfig)
	}
	return &LLMProviderRegistry{providers: providers}
}

// Get retrieves an LLM provider configuration by name (thread-safe)
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns all LLM provider configurations (thread-safe, returns copy)
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks if a provider exists in the registry (thread-safe)
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Models returns every model named by a registered provider.
func (r *LLMProviderRegistry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []string
	for _, p := range r.providers {
		if p.Model != "" {
			models = append(models, p.Model)
		}
	}
	return models
}
