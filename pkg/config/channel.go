package config

import (
	"fmt"
	"sync"
)

// ChannelConfig defines a channel agents operate in.
type ChannelConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Members lists agent ids allowed in the channel.
	Members []string `yaml:"members,omitempty"`

	// AllowedTools, when set, restricts every agent in the channel to this
	// tool set.
	AllowedTools []string `yaml:"allowed_tools,omitempty"`

	// SystemLLMEnabled lets the channel use the system LLM for auxiliary
	// calls (compaction summaries, interpretation fallback).
	SystemLLMEnabled bool `yaml:"system_llm_enabled,omitempty"`

	// MCPServers lists channel-scoped MCP server ids.
	MCPServers []string `yaml:"mcp_servers,omitempty"`

	// Admins may cancel tasks they did not create.
	Admins []string `yaml:"admins,omitempty"`
}

// ChannelRegistry stores channel configurations in memory with thread-safe access
type ChannelRegistry struct {
	channels map[string]*ChannelConfig
	mu       sync.RWMutex
}

// NewChannelRegistry creates a new channel registry
func NewChannelRegistry(channels map[string]*ChannelConfig) *ChannelRegistry {
	if channels == nil {
		channels = make(map[string]*ChannelConfig)
	}
	return &ChannelRegistry{channels: channels}
}

// Get retrieves a channel configuration by ID (thread-safe)
func (r *ChannelRegistry) Get(channelID string) (*ChannelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channel, exists := r.channels[channelID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	return channel, nil
}

// GetAll returns all channel configurations (thread-safe, returns copy)
func (r *ChannelRegistry) GetAll() map[string]*ChannelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ChannelConfig, len(r.channels))
	for k, v := range r.channels {
		result[k] = v
	}
	return result
}

// Has checks if a channel exists in the registry (thread-safe)
func (r *ChannelRegistry) Has(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.channels[channelID]
	return exists
}

// IsMember checks whether an agent is a member of the channel.
func (r *ChannelRegistry) IsMember(channelID, agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channel, exists := r.channels[channelID]
	if !exists {
		return false
	}
	for _, m := range channel.Members {
		if m == agentID {
			return true
		}
	}
	return false
}

// IsAdmin checks whether a principal is a channel admin.
func (r *ChannelRegistry) IsAdmin(channelID, principal string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channel, exists := r.channels[channelID]
	if !exists {
		return false
	}
	for _, a := range channel.Admins {
		if a == principal {
			return true
		}
	}
	return false
}
