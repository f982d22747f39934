// Package bus implements the in-process event bus: topic subscriptions with
// bounded inboxes, per-topic overflow policies, channel-scoped views, and
// read-only channel monitors. The public-event whitelist gates everything
// that crosses the transport boundary.
package bus

import "strings"

// Message events.
const (
	EventTypeMessageSent      = "message.sent"
	EventTypeMessageBroadcast = "message.broadcast"
	EventTypeMessageDirect    = "message.direct"
)

// Task lifecycle events.
const (
	EventTypeTaskCreated         = "task.created"
	EventTypeTaskAssigned        = "task.assigned"
	EventTypeTaskProgressUpdated = "task.progress_updated"
	EventTypeTaskCompleted       = "task.completed"
	EventTypeTaskFailed          = "task.failed"
	EventTypeTaskCancelled       = "task.cancelled"
)

// Memory operation results.
const (
	EventTypeMemoryCreateResult = "memory.create_result"
	EventTypeMemoryUpdateResult = "memory.update_result"
	EventTypeMemoryGetResult    = "memory.get_result"
	EventTypeMemoryDeleteResult = "memory.delete_result"
)

// Tool dispatch events.
const (
	EventTypeToolCall       = "mcp.tool_call"
	EventTypeToolResult     = "mcp.tool_result"
	EventTypeToolError      = "mcp.tool_error"
	EventTypeToolRegistered = "mcp.tool_registered"
)

// Cognitive loop phase events.
const (
	EventTypeObservation = "controlloop.observation"
	EventTypeReasoning   = "controlloop.reasoning"
	EventTypePlan        = "controlloop.plan"
	EventTypeAction      = "controlloop.action"
	EventTypeReflection  = "controlloop.reflection"
)

// Agent lifecycle events.
const (
	EventTypeAgentConnected    = "agent.connected"
	EventTypeAgentDisconnected = "agent.disconnected"
	EventTypeAgentRegistered   = "agent.registered"
	EventTypeAgentError        = "agent.error"
	EventTypeAgentJoinChannel  = "agent.join_channel"
	EventTypeAgentLeaveChannel = "agent.leave_channel"
)

// Channel lifecycle events.
const (
	EventTypeChannelAgentJoined = "channel.agent_joined"
	EventTypeChannelAgentLeft   = "channel.agent_left"
	EventTypeChannelCreated     = "channel.created"
	EventTypeChannelUpdated     = "channel.updated"
)

// publicPrefixes enumerates event-type families clients may subscribe to.
// Anything outside this set never crosses the transport boundary.
var publicPrefixes = []string{
	"message.",
	"memory.create_result",
	"memory.update_result",
	"memory.get_result",
	"memory.delete_result",
	"mcp.tool_call",
	"mcp.tool_result",
	"mcp.tool_error",
	"mcp.tool_registered",
	"controlloop.observation",
	"controlloop.reasoning",
	"controlloop.plan",
	"controlloop.action",
	"controlloop.reflection",
	"agent.connected",
	"agent.disconnected",
	"agent.registered",
	"agent.error",
	"agent.join_channel",
	"agent.leave_channel",
	"channel.agent_joined",
	"channel.agent_left",
	"channel.created",
	"channel.updated",
}

// PublicEvent reports whether an event type may be delivered to clients.
// task.* is public except the task.internal.* family.
func PublicEvent(eventType string) bool {
	if strings.HasPrefix(eventType, "task.") {
		return !strings.HasPrefix(eventType, "task.internal.")
	}
	for _, p := range publicPrefixes {
		if strings.HasSuffix(p, ".") {
			if strings.HasPrefix(eventType, p) {
				return true
			}
		} else if eventType == p {
			return true
		}
	}
	return false
}

// droppable reports whether deliveries of this event type may be discarded
// under backpressure. High-frequency phase events and memory reads drop
// oldest; task and message events block the emitter instead.
func droppable(eventType string) bool {
	return strings.HasPrefix(eventType, "controlloop.") ||
		eventType == EventTypeMemoryGetResult
}

// MatchTopic reports whether an event type matches a subscription pattern.
// Patterns are exact types, "prefix.*" families, or "*" for everything.
func MatchTopic(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return pattern == eventType
}
