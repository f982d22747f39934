package config

import "time"

// Built-in defaults applied when YAML leaves values unset.
const (
	DefaultListenAddr   = ":8420"
	DefaultDomainKeyEnv = "MXF_DOMAIN_KEY"
	DefaultDatabaseEnv  = "DATABASE_URL"

	DefaultMaxIterations           = 10
	DefaultCircuitBreakerThreshold = 5

	DefaultMCPStartupTimeout      = 30 * time.Second
	DefaultMCPHealthCheckInterval = 30 * time.Second
	DefaultMCPMaxRestartAttempts  = 3

	DefaultLLMRequestTimeout = 120 * time.Second
)
