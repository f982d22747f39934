package config

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses streamable HTTP JSON-RPC
	TransportTypeHTTP TransportType = "http"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP
}

// LLMProviderType defines supported LLM providers
type LLMProviderType string

const (
	// LLMProviderTypeOpenAI is the OpenAI API or any OpenAI-compatible endpoint
	LLMProviderTypeOpenAI LLMProviderType = "openai"
	// LLMProviderTypeAnthropic is the Anthropic Claude API
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
)

// IsValid checks if the LLM provider type is valid
func (t LLMProviderType) IsValid() bool {
	return t == LLMProviderTypeOpenAI || t == LLMProviderTypeAnthropic
}

// PairingPolicy selects how the conversation manager reacts when an
// assistant tool call has no matching tool result before the next inference.
type PairingPolicy string

const (
	// PairingPolicySynthesize appends failure tool results for the missing
	// tool call ids and lets inference proceed.
	PairingPolicySynthesize PairingPolicy = "synthesize"
	// PairingPolicyAbort fails the turn with TOOL_PAIRING_VIOLATION.
	PairingPolicyAbort PairingPolicy = "abort"
)

// IsValid checks if the pairing policy is valid
func (p PairingPolicy) IsValid() bool {
	return p == PairingPolicySynthesize || p == PairingPolicyAbort
}

// AssignmentMode selects how unassigned tasks are matched to agents.
type AssignmentMode string

const (
	// AssignmentModeRoundRobin cycles through capability-matching agents.
	AssignmentModeRoundRobin AssignmentMode = "round-robin"
	// AssignmentModeIntelligent defers to the external assignment collaborator,
	// falling back to round-robin when it is unavailable.
	AssignmentModeIntelligent AssignmentMode = "intelligent"
)

// IsValid checks if the assignment mode is valid
func (m AssignmentMode) IsValid() bool {
	return m == AssignmentModeRoundRobin || m == AssignmentModeIntelligent
}
