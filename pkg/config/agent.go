package config

import (
	"fmt"
	"sync"
)

// AgentConfig defines a server-managed agent bound to one channel.
type AgentConfig struct {
	// Channel the agent belongs to (required)
	Channel string `yaml:"channel"`

	DisplayName  string   `yaml:"display_name,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty"`

	// AllowedTools, when set, restricts the agent to this tool set. The
	// effective set is always the intersection with registry and channel
	// restrictions.
	AllowedTools []string `yaml:"allowed_tools,omitempty"`

	// CircuitBreakerExemptTools never trip the loop breaker.
	CircuitBreakerExemptTools []string `yaml:"circuit_breaker_exempt_tools,omitempty"`

	// LLMProvider names an entry in llm-providers.yaml (required)
	LLMProvider string `yaml:"llm_provider"`

	// MaxIterations caps inferences per turn. 0 means the default (10).
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// CircuitBreakerThreshold is repeats of the same (tool, args) that trip
	// the breaker. 0 means the default (5).
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold,omitempty"`

	// InterpretationFallback enables recovering tool calls from natural
	// language output. Off by default.
	InterpretationFallback bool `yaml:"interpretation_fallback,omitempty"`

	// Planning adds an explicit planning inference at the start of a turn.
	Planning bool `yaml:"planning,omitempty"`

	// Reflection adds a reflection inference at the end of a turn, writing
	// the outcome to agent memory.
	Reflection bool `yaml:"reflection,omitempty"`

	// SharedMemoryWriter grants write access to shared-scope memory.
	SharedMemoryWriter bool `yaml:"shared_memory_writer,omitempty"`
}

// AgentRegistry stores agent configurations in memory with thread-safe access
type AgentRegistry struct {
	agents map[string]*AgentConfig
	mu     sync.RWMutex
}

// NewAgentRegistry creates a new agent registry
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	if agents == nil {
		agents = make(map[string]*AgentConfig)
	}
	return &AgentRegistry{agents: agents}
}

// Get retrieves an agent configuration by ID (thread-safe)
func (r *AgentRegistry) Get(agentID string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[agentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return agent, nil
}

// GetAll returns all agent configurations (thread-safe, returns copy)
func (r *AgentRegistry) GetAll() map[string]*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentConfig, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// Has checks if an agent exists in the registry (thread-safe)
func (r *AgentRegistry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[agentID]
	return exists
}

// InChannel returns the ids of agents bound to the given channel.
// Order is not stable; callers needing determinism sort the result.
func (r *AgentRegistry) InChannel(channelID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, a := range r.agents {
		if a.Channel == channelID {
			ids = append(ids, id)
		}
	}
	return ids
}
