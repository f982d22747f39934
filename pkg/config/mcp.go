package config

import (
	"fmt"
	"sync"
	"time"
)

// MCPServerConfig defines an external MCP server.
type MCPServerConfig struct {
	Name string `yaml:"name,omitempty"`

	// Transport configuration (required)
	Transport TransportConfig `yaml:"transport"`

	// Scope: empty for global, or a channel id for channel-scoped servers.
	Channel string `yaml:"channel,omitempty"`

	AutoStart          bool `yaml:"auto_start,omitempty"`
	RestartOnCrash     bool `yaml:"restart_on_crash,omitempty"`
	MaxRestartAttempts int  `yaml:"max_restart_attempts,omitempty"`

	// Durations as Go duration strings; resolved at load time.
	HealthCheckIntervalRaw string `yaml:"health_check_interval,omitempty"`
	StartupTimeoutRaw      string `yaml:"startup_timeout,omitempty"`

	HealthCheckInterval time.Duration `yaml:"-"`
	StartupTimeout      time.Duration `yaml:"-"`

	// KeepAliveMinutes stops a channel-scoped server after this many minutes
	// of zero agent activity. 0 disables the inactivity timer.
	KeepAliveMinutes int `yaml:"keep_alive_minutes,omitempty"`
}

// TransportConfig selects how to reach the MCP server process.
type TransportConfig struct {
	Type    TransportType     `yaml:"type"`
	Command string            `yaml:"command,omitempty"` // stdio
	Args    []string          `yaml:"args,omitempty"`    // stdio
	URL     string            `yaml:"url,omitempty"`     // http
	Env     map[string]string `yaml:"env,omitempty"`
}

// MCPServerRegistry stores MCP server configurations in memory with thread-safe access
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new MCP server registry
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	if servers == nil {
		servers = make(map[string]*MCPServerConfig)
	}
	return &MCPServerRegistry{servers: servers}
}

// Get retrieves an MCP server configuration by ID (thread-safe)
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns all MCP server configurations (thread-safe, returns copy)
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if an MCP server exists in the registry (thread-safe)
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}

// Register adds or replaces a server config at runtime. Channel-scoped
// servers deregistered by the inactivity timer re-enter through here.
func (r *MCPServerRegistry) Register(serverID string, cfg *MCPServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[serverID] = cfg
}

// Unregister removes a server config. Idempotent.
func (r *MCPServerRegistry) Unregister(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, serverID)
}
