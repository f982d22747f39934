package config

import (
	"fmt"
	"slices"
)

// Validator checks loaded configuration for cross-references and required
// fields before the server starts.
type Validator struct {
	cfg      *Config
	problems []string
}

// NewValidator creates a validator for the given config
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation pass and returns an aggregated error.
func (v *Validator) ValidateAll() error {
	v.validateChannels()
	v.validateAgents()
	v.validateMCPServers()
	v.validateLLMProviders()
	v.validateSandbox()

	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

func (v *Validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *Validator) validateChannels() {
	for id, channel := range v.cfg.ChannelRegistry.GetAll() {
		if channel.Name == "" {
			v.addProblem("channel %q: name is required", id)
		}
		for _, member := range channel.Members {
			if !v.cfg.AgentRegistry.Has(member) {
				v.addProblem("channel %q: member %q is not a configured agent", id, member)
			}
		}
		for _, serverID := range channel.MCPServers {
			if !v.cfg.MCPServerRegistry.Has(serverID) {
				v.addProblem("channel %q: mcp server %q is not configured", id, serverID)
			}
		}
	}
}

func (v *Validator) validateAgents() {
	for id, agent := range v.cfg.AgentRegistry.GetAll() {
		if agent.Channel == "" {
			v.addProblem("agent %q: channel is required", id)
			continue
		}
		if !v.cfg.ChannelRegistry.Has(agent.Channel) {
			v.addProblem("agent %q: channel %q is not configured", id, agent.Channel)
		}
		if agent.LLMProvider == "" {
			v.addProblem("agent %q: llm_provider is required", id)
		} else if !v.cfg.LLMProviderRegistry.Has(agent.LLMProvider) {
			v.addProblem("agent %q: llm_provider %q is not configured", id, agent.LLMProvider)
		}
		if agent.MaxIterations < 0 {
			v.addProblem("agent %q: max_iterations must be >= 0", id)
		}
		// Exempt tools must be a subset of allowed tools when both are set
		if len(agent.AllowedTools) > 0 {
			for _, t := range agent.CircuitBreakerExemptTools {
				if !slices.Contains(agent.AllowedTools, t) {
					v.addProblem("agent %q: circuit_breaker_exempt_tools entry %q is not in allowed_tools", id, t)
				}
			}
		}
	}
}

func (v *Validator) validateMCPServers() {
	for id, server := range v.cfg.MCPServerRegistry.GetAll() {
		if !server.Transport.Type.IsValid() {
			v.addProblem("mcp server %q: invalid transport type %q", id, server.Transport.Type)
			continue
		}
		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				v.addProblem("mcp server %q: stdio transport requires command", id)
			}
		case TransportTypeHTTP:
			if server.Transport.URL == "" {
				v.addProblem("mcp server %q: http transport requires url", id)
			}
		}
		if server.Channel != "" && !v.cfg.ChannelRegistry.Has(server.Channel) {
			v.addProblem("mcp server %q: channel %q is not configured", id, server.Channel)
		}
		if server.KeepAliveMinutes < 0 {
			v.addProblem("mcp server %q: keep_alive_minutes must be >= 0", id)
		}
	}
}

func (v *Validator) validateLLMProviders() {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			v.addProblem("llm provider %q: invalid type %q", name, provider.Type)
		}
		if provider.Model == "" {
			v.addProblem("llm provider %q: model is required", name)
		}
		if provider.APIKeyEnv == "" {
			v.addProblem("llm provider %q: api_key_env is required", name)
		}
	}
}

func (v *Validator) validateSandbox() {
	sb := v.cfg.Sandbox
	if sb.MaxTimeoutMS < sb.DefaultTimeoutMS {
		v.addProblem("sandbox: max_timeout_ms (%d) must be >= default_timeout_ms (%d)",
			sb.MaxTimeoutMS, sb.DefaultTimeoutMS)
	}
	if sb.MaxConcurrent <= 0 {
		v.addProblem("sandbox: max_concurrent must be > 0")
	}

	if v.cfg.Conversation != nil && !v.cfg.Conversation.PairingPolicy.IsValid() {
		v.addProblem("conversation: invalid pairing_policy %q", v.cfg.Conversation.PairingPolicy)
	}
	if v.cfg.Tasks != nil && !v.cfg.Tasks.Assignment.IsValid() {
		v.addProblem("tasks: invalid assignment mode %q", v.cfg.Tasks.Assignment)
	}
}
