package models

import "strings"

// ToolSource identifies where a tool is implemented.
// Built-in tools run in-process; external tools live on an MCP server and
// carry the server id after the "external:" prefix.
type ToolSource string

const SourceBuiltin ToolSource = "builtin"

// ExternalSource builds the source value for a tool hosted by an MCP server.
func ExternalSource(serverID string) ToolSource {
	return ToolSource("external:" + serverID)
}

// ServerID extracts the MCP server id from an external source.
// Returns "" for builtin.
func (s ToolSource) ServerID() string {
	if rest, ok := strings.CutPrefix(string(s), "external:"); ok {
		return rest
	}
	return ""
}

// ToolScope identifies the visibility of a tool descriptor.
// Global tools are callable everywhere; channel tools only inside their
// channel and they shadow same-named global tools there.
type ToolScope string

const ScopeGlobal ToolScope = "global"

// ChannelScope builds the scope value for a channel-scoped tool.
func ChannelScope(channelID string) ToolScope {
	return ToolScope("channel:" + channelID)
}

// ChannelID extracts the channel id from a channel scope. Returns "" for global.
func (s ToolScope) ChannelID() string {
	if rest, ok := strings.CutPrefix(string(s), "channel:"); ok {
		return rest
	}
	return ""
}

// ToolDescriptor describes one callable tool. Unique by (Name, Scope).
type ToolDescriptor struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Category     string     `json:"category,omitempty"`
	InputSchema  string     `json:"inputSchema,omitempty"`  // JSON Schema document
	OutputSchema string     `json:"outputSchema,omitempty"` // optional JSON Schema document
	Source       ToolSource `json:"source"`
	Scope        ToolScope  `json:"scope"`
}

// ToolResult is the unified outcome of a tool dispatch. Expected failures
// are data: IsError with a message, never a Go error.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError,omitempty"`
}
