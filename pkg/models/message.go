package models

// Role identifies the author class of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the canonical tool invocation extracted from an assistant
// message. Arguments is always a decoded object; provider-specific shapes
// are normalized before this struct is built.
type ToolCall struct {
	ID        string         `json:"toolCallId"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// MessageMetadata carries flags that influence history handling.
type MessageMetadata struct {
	// IsToolResult marks a message that must never be deduplicated.
	IsToolResult bool `json:"isToolResult,omitempty"`
	// ContextSummary marks a synthetic system message produced by compaction.
	ContextSummary bool `json:"contextSummary,omitempty"`
	// Source records how the message was produced, e.g. "interpreted" for
	// actions recovered from natural-language output.
	Source string `json:"source,omitempty"`
	// SenderAgentID attributes peer messages for prompt rendering.
	SenderAgentID string `json:"senderAgentId,omitempty"`
}

// ConversationMessage is one entry in an agent's conversation history.
// Assistant messages may carry tool calls; tool messages answer exactly one
// tool call, identified by ToolCallID.
type ConversationMessage struct {
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"toolCalls,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Metadata   MessageMetadata `json:"metadata,omitempty"`
}

// IsToolResult reports whether the message answers a tool call, either by
// role or by explicit metadata flag.
func (m ConversationMessage) IsToolResult() bool {
	return m.Role == RoleTool || m.Metadata.IsToolResult
}
