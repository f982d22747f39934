package config

import "time"

// SystemConfig groups system-wide infrastructure settings.
type SystemConfig struct {
	ListenAddr       string
	DomainKeyEnv     string
	DatabaseURLEnv   string
	AllowedWSOrigins []string
	Retention        *RetentionConfig
}

// SystemYAMLConfig is the raw YAML shape of the system section.
type SystemYAMLConfig struct {
	ListenAddr       string               `yaml:"listen_addr,omitempty"`
	DomainKeyEnv     string               `yaml:"domain_key_env,omitempty"`
	DatabaseURLEnv   string               `yaml:"database_url_env,omitempty"`
	AllowedWSOrigins []string             `yaml:"allowed_ws_origins,omitempty"`
	Retention        *RetentionYAMLConfig `yaml:"retention,omitempty"`
}

// RetentionConfig controls periodic cleanup of transient data.
type RetentionConfig struct {
	EventTTL            time.Duration
	CleanupInterval     time.Duration
	MemorySweepInterval time.Duration
}

// RetentionYAMLConfig is the raw YAML shape of retention settings.
// Durations are Go duration strings ("24h", "5m").
type RetentionYAMLConfig struct {
	EventTTL            string `yaml:"event_ttl,omitempty"`
	CleanupInterval     string `yaml:"cleanup_interval,omitempty"`
	MemorySweepInterval string `yaml:"memory_sweep_interval,omitempty"`
}

// DefaultRetentionConfig returns retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		EventTTL:            24 * time.Hour,
		CleanupInterval:     1 * time.Hour,
		MemorySweepInterval: 5 * time.Minute,
	}
}

// BusConfig tunes event bus delivery.
type BusConfig struct {
	// InboxSize bounds each subscriber's pending deliveries.
	InboxSize int `yaml:"inbox_size,omitempty"`
	// EmitTimeout bounds blocking emits for task.* and message.* topics.
	EmitTimeout time.Duration `yaml:"-"`
	// EmitTimeoutRaw is the YAML duration string for EmitTimeout.
	EmitTimeoutRaw string `yaml:"emit_timeout,omitempty"`
}

// DefaultBusConfig returns bus defaults.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		InboxSize:   256,
		EmitTimeout: 5 * time.Second,
	}
}

// ConversationConfig tunes history handling per agent runtime.
type ConversationConfig struct {
	// DedupWindow is the similarity window N for duplicate detection.
	DedupWindow int `yaml:"dedup_window,omitempty"`
	// PairingPolicy selects synthesize vs abort on missing tool results.
	PairingPolicy PairingPolicy `yaml:"pairing_policy,omitempty"`
	// CompactionKeep is the number of trailing messages kept uncompressed.
	CompactionKeep int `yaml:"compaction_keep,omitempty"`
	// CompactionThreshold is the history length that triggers compaction.
	CompactionThreshold int `yaml:"compaction_threshold,omitempty"`
}

// DefaultConversationConfig returns conversation defaults.
func DefaultConversationConfig() *ConversationConfig {
	return &ConversationConfig{
		DedupWindow:         1,
		PairingPolicy:       PairingPolicySynthesize,
		CompactionKeep:      5,
		CompactionThreshold: 50,
	}
}

// SandboxConfig tunes the code-execution container pool.
type SandboxConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Image            string `yaml:"image,omitempty"`
	MaxConcurrent    int    `yaml:"max_concurrent,omitempty"`
	MemoryLimitMB    int64  `yaml:"memory_limit_mb,omitempty"`
	CPUShares        int64  `yaml:"cpu_shares,omitempty"`
	DefaultTimeoutMS int    `yaml:"default_timeout_ms,omitempty"`
	MaxTimeoutMS     int    `yaml:"max_timeout_ms,omitempty"`
	QueueTimeoutMS   int    `yaml:"queue_timeout_ms,omitempty"`
}

// DefaultSandboxConfig returns sandbox defaults.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		Enabled:          true,
		Image:            "oven/bun:1-alpine",
		MaxConcurrent:    4,
		MemoryLimitMB:    128,
		CPUShares:        512,
		DefaultTimeoutMS: 5000,
		MaxTimeoutMS:     30000,
		QueueTimeoutMS:   10000,
	}
}

// TasksConfig tunes the task lifecycle service.
type TasksConfig struct {
	Assignment AssignmentMode `yaml:"assignment,omitempty"`
}

// DefaultTasksConfig returns task defaults.
func DefaultTasksConfig() *TasksConfig {
	return &TasksConfig{Assignment: AssignmentModeRoundRobin}
}

// InferenceConfig carries governance ceilings and channel-level parameter
// defaults for the inference parameter service.
type InferenceConfig struct {
	// MaxTemperature is the tier ceiling for temperature overrides.
	MaxTemperature float64 `yaml:"max_temperature,omitempty"`
	// MaxOutputTokens is the tier ceiling for output token overrides.
	MaxOutputTokens int `yaml:"max_output_tokens,omitempty"`
	// MaxReasoningTokens is the tier ceiling for reasoning token overrides.
	MaxReasoningTokens int `yaml:"max_reasoning_tokens,omitempty"`
	// KnownModels lists models overrides may request. Empty means any model
	// registered with an LLM provider.
	KnownModels []string `yaml:"known_models,omitempty"`
	// ChannelDefaults overlays phase defaults per channel id.
	ChannelDefaults map[string]map[string]PhaseParamsYAML `yaml:"channel_defaults,omitempty"`
}

// PhaseParamsYAML is the raw YAML shape of per-phase parameter overrides.
type PhaseParamsYAML struct {
	Model           string   `yaml:"model,omitempty"`
	Temperature     *float64 `yaml:"temperature,omitempty"`
	ReasoningTokens *int     `yaml:"reasoning_tokens,omitempty"`
	MaxOutputTokens *int     `yaml:"max_output_tokens,omitempty"`
}

// DefaultInferenceConfig returns governance defaults.
func DefaultInferenceConfig() *InferenceConfig {
	return &InferenceConfig{
		MaxTemperature:     2.0,
		MaxOutputTokens:    16384,
		MaxReasoningTokens: 8192,
	}
}
