// Package prompt assembles system prompts from layered fragments and applies
// per-request template replacement. Stateless; all state comes from
// parameters.
package prompt

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/tools"
)

const baseInstructions = `You are {{AGENT_ID}}, an autonomous agent operating in the "{{CHANNEL_NAME}}" channel.

It is {{DAY_OF_WEEK}}, {{DATE_TIME}} ({{TIME_ZONE}}). You run on {{LLM_PROVIDER}}/{{LLM_MODEL}}.

You act through tool calls. Every action you take must be expressed as a structured tool call; plain text is treated as commentary for your peers, not as an action. When you have nothing left to do, call no_further_action.`

const constraintInstructions = `## Constraints

- Call only the tools documented above. Unlisted tools will be rejected.
- Stay inside your channel; you cannot reach agents or data elsewhere.
- Tool results are authoritative. Never fabricate a result you did not receive.
- Current cognitive phase: {{CURRENT_ORPAR_PHASE}}.`

// Builder composes system prompts. Thread-safe: no mutable state.
type Builder struct {
	agents   *config.AgentRegistry
	channels *config.ChannelRegistry
	registry *tools.Registry
	log      *slog.Logger
}

// NewBuilder wires the prompt builder.
func NewBuilder(agents *config.AgentRegistry, channels *config.ChannelRegistry, registry *tools.Registry, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		agents:   agents,
		channels: channels,
		registry: registry,
		log:      logger.With("component", "prompt"),
	}
}

// Request identifies whose prompt to build and under what runtime state.
type Request struct {
	AgentID  string
	Phase    models.Phase
	Provider string
	Model    string
}

// BuildSystemPrompt assembles the layered system prompt: base instructions,
// identity, channel context, tool documentation, constraints. Template
// tokens are replaced last, per request.
func (b *Builder) BuildSystemPrompt(req Request) (string, error) {
	agentCfg, err := b.agents.Get(req.AgentID)
	if err != nil {
		return "", fmt.Errorf("failed to build prompt for %q: %w", req.AgentID, err)
	}
	channelCfg, err := b.channels.Get(agentCfg.Channel)
	if err != nil {
		return "", fmt.Errorf("failed to build prompt for %q: %w", req.AgentID, err)
	}

	sections := []string{
		baseInstructions,
		b.identitySection(req.AgentID, agentCfg),
		b.channelSection(agentCfg.Channel, channelCfg),
		b.toolSection(req.AgentID, agentCfg, channelCfg),
		constraintInstructions,
	}
	text := strings.Join(sections, "\n\n")

	vals := TokenValues{
		AgentID:          req.AgentID,
		ChannelID:        agentCfg.Channel,
		ChannelName:      channelCfg.Name,
		ActiveAgents:     b.roster(agentCfg.Channel),
		Provider:         req.Provider,
		Model:            req.Model,
		SystemLLMEnabled: channelCfg.SystemLLMEnabled,
		Phase:            req.Phase,
	}
	return ReplaceTokens(text, vals, b.log), nil
}

func (b *Builder) identitySection(agentID string, cfg *config.AgentConfig) string {
	var sb strings.Builder
	sb.WriteString("## Identity\n\n")
	fmt.Fprintf(&sb, "Agent id: %s\n", agentID)
	if cfg.DisplayName != "" {
		fmt.Fprintf(&sb, "Display name: %s\n", cfg.DisplayName)
	}
	if len(cfg.Capabilities) > 0 {
		fmt.Fprintf(&sb, "Capabilities: %s\n", strings.Join(cfg.Capabilities, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) channelSection(channelID string, cfg *config.ChannelConfig) string {
	var sb strings.Builder
	sb.WriteString("## Channel\n\n")
	fmt.Fprintf(&sb, "You are in %q ({{CHANNEL_ID}}).", cfg.Name)
	if cfg.Description != "" {
		sb.WriteString(" " + cfg.Description)
	}
	sb.WriteString("\n")
	sb.WriteString("Active agents ({{ACTIVE_AGENTS_COUNT}}): {{ACTIVE_AGENTS_LIST}}.")
	return sb.String()
}

// toolSection documents the tools this agent can actually call: the same
// resolution as dispatch, so nothing undocumented and nothing forbidden.
func (b *Builder) toolSection(agentID string, agentCfg *config.AgentConfig, channelCfg *config.ChannelConfig) string {
	var sb strings.Builder
	sb.WriteString("## Available Tools\n")

	count := 0
	for _, desc := range b.registry.List(agentCfg.Channel, tools.ListFilter{}) {
		if _, err := b.registry.Resolve(desc.Name, agentCfg.Channel, channelCfg.AllowedTools, agentCfg.AllowedTools); err != nil {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n%s\n", desc.Name, desc.Description)
		if desc.InputSchema != "" {
			fmt.Fprintf(&sb, "Input schema: %s\n", desc.InputSchema)
		}
		count++
	}
	if count == 0 {
		sb.WriteString("\nNo tools are currently available.\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) roster(channelID string) []string {
	ids := b.agents.InChannel(channelID)
	sort.Strings(ids)
	return ids
}

// RenderHistory prepares conversation history for a provider request. Peer
// and user messages carry an [agentId]: attribution prefix; each message
// stays its own role-based turn, never a concatenated blob. Assistant and
// tool messages pass through untouched to preserve call/result pairing.
func RenderHistory(messages []models.ConversationMessage) []models.ConversationMessage {
	out := make([]models.ConversationMessage, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if msg.Role != models.RoleUser || msg.Metadata.SenderAgentID == "" {
			continue
		}
		prefix := "[" + msg.Metadata.SenderAgentID + "]: "
		if !strings.HasPrefix(msg.Content, prefix) {
			out[i].Content = prefix + msg.Content
		}
	}
	return out
}
