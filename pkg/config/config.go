// Package config loads and validates the MXF YAML configuration and exposes
// in-memory registries for channels, agents, MCP servers, and LLM providers.
package config

// Config is the fully loaded and validated configuration.
type Config struct {
	configDir string

	System       *SystemConfig
	Bus          *BusConfig
	Conversation *ConversationConfig
	Sandbox      *SandboxConfig
	Tasks        *TasksConfig
	Inference    *InferenceConfig

	ChannelRegistry     *ChannelRegistry
	AgentRegistry       *AgentRegistry
	MCPServerRegistry   *MCPServerRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Channels     int
	Agents       int
	MCPServers   int
	LLMProviders int
}

// Stats returns counts of loaded configuration objects.
func (c *Config) Stats() Stats {
	return Stats{
		Channels:     len(c.ChannelRegistry.GetAll()),
		Agents:       len(c.AgentRegistry.GetAll()),
		MCPServers:   len(c.MCPServerRegistry.GetAll()),
		LLMProviders: len(c.LLMProviderRegistry.GetAll()),
	}
}
