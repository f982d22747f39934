package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// MXFYAMLConfig represents the complete mxf.yaml file structure
type MXFYAMLConfig struct {
	System       *SystemYAMLConfig           `yaml:"system"`
	Bus          *BusConfig                  `yaml:"bus"`
	Conversation *ConversationConfig         `yaml:"conversation"`
	Sandbox      *SandboxConfig              `yaml:"sandbox"`
	Tasks        *TasksConfig                `yaml:"tasks"`
	Inference    *InferenceConfig            `yaml:"inference"`
	Channels     map[string]*ChannelConfig   `yaml:"channels"`
	Agents       map[string]*AgentConfig     `yaml:"agents"`
	MCPServers   map[string]*MCPServerConfig `yaml:"mcp_servers"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]*LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Resolve duration strings and apply defaults
//  5. Build in-memory registries
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"channels", stats.Channels,
		"agents", stats.Agents,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	mxfConfig, err := loader.loadMXFYAML()
	if err != nil {
		return nil, NewLoadError("mxf.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// Resolve section configs (merge user YAML onto built-in defaults so
	// unset fields keep their defaults).
	busCfg := DefaultBusConfig()
	if mxfConfig.Bus != nil {
		if err := mergo.Merge(busCfg, mxfConfig.Bus, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge bus config: %w", err)
		}
	}
	busCfg.EmitTimeout = resolveDuration(busCfg.EmitTimeoutRaw, busCfg.EmitTimeout, "bus.emit_timeout")

	convCfg := DefaultConversationConfig()
	if mxfConfig.Conversation != nil {
		if err := mergo.Merge(convCfg, mxfConfig.Conversation, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge conversation config: %w", err)
		}
	}

	sandboxCfg := DefaultSandboxConfig()
	if mxfConfig.Sandbox != nil {
		if err := mergo.Merge(sandboxCfg, mxfConfig.Sandbox, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge sandbox config: %w", err)
		}
	}

	tasksCfg := DefaultTasksConfig()
	if mxfConfig.Tasks != nil && mxfConfig.Tasks.Assignment != "" {
		tasksCfg.Assignment = mxfConfig.Tasks.Assignment
	}

	inferenceCfg := DefaultInferenceConfig()
	if mxfConfig.Inference != nil {
		if err := mergo.Merge(inferenceCfg, mxfConfig.Inference, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge inference config: %w", err)
		}
	}

	// Resolve per-server durations and restart defaults
	for id, server := range mxfConfig.MCPServers {
		server.StartupTimeout = resolveDuration(server.StartupTimeoutRaw, DefaultMCPStartupTimeout,
			fmt.Sprintf("mcp_servers.%s.startup_timeout", id))
		server.HealthCheckInterval = resolveDuration(server.HealthCheckIntervalRaw, DefaultMCPHealthCheckInterval,
			fmt.Sprintf("mcp_servers.%s.health_check_interval", id))
		if server.MaxRestartAttempts == 0 {
			server.MaxRestartAttempts = DefaultMCPMaxRestartAttempts
		}
	}

	return &Config{
		configDir:           configDir,
		System:              resolveSystemConfig(mxfConfig.System),
		Bus:                 busCfg,
		Conversation:        convCfg,
		Sandbox:             sandboxCfg,
		Tasks:               tasksCfg,
		Inference:           inferenceCfg,
		ChannelRegistry:     NewChannelRegistry(mxfConfig.Channels),
		AgentRegistry:       NewAgentRegistry(mxfConfig.Agents),
		MCPServerRegistry:   NewMCPServerRegistry(mxfConfig.MCPServers),
		LLMProviderRegistry: NewLLMProviderRegistry(llmProviders),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadMXFYAML() (*MXFYAMLConfig, error) {
	var config MXFYAMLConfig

	// Initialize maps to avoid nil maps
	config.Channels = make(map[string]*ChannelConfig)
	config.Agents = make(map[string]*AgentConfig)
	config.MCPServers = make(map[string]*MCPServerConfig)

	if err := l.loadYAML("mxf.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]*LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	config.LLMProviders = make(map[string]*LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}

// resolveSystemConfig resolves system configuration from YAML, applying defaults.
func resolveSystemConfig(sys *SystemYAMLConfig) *SystemConfig {
	cfg := &SystemConfig{
		ListenAddr:     DefaultListenAddr,
		DomainKeyEnv:   DefaultDomainKeyEnv,
		DatabaseURLEnv: DefaultDatabaseEnv,
		Retention:      DefaultRetentionConfig(),
	}

	if sys == nil {
		return cfg
	}

	if sys.ListenAddr != "" {
		cfg.ListenAddr = sys.ListenAddr
	}
	if sys.DomainKeyEnv != "" {
		cfg.DomainKeyEnv = sys.DomainKeyEnv
	}
	if sys.DatabaseURLEnv != "" {
		cfg.DatabaseURLEnv = sys.DatabaseURLEnv
	}
	cfg.AllowedWSOrigins = sys.AllowedWSOrigins

	if sys.Retention != nil {
		r := sys.Retention
		cfg.Retention.EventTTL = resolveDuration(r.EventTTL, cfg.Retention.EventTTL, "system.retention.event_ttl")
		cfg.Retention.CleanupInterval = resolveDuration(r.CleanupInterval, cfg.Retention.CleanupInterval, "system.retention.cleanup_interval")
		cfg.Retention.MemorySweepInterval = resolveDuration(r.MemorySweepInterval, cfg.Retention.MemorySweepInterval, "system.retention.memory_sweep_interval")
	}

	return cfg
}

// resolveDuration parses a duration string, falling back to def on empty or
// invalid values.
func resolveDuration(raw string, def time.Duration, field string) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field,
			"value", raw,
			"default", def,
			"error", err)
		return def
	}
	return d
}
