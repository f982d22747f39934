package builtin

import (
	"context"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/tools"
)

func messagingSendDescriptor() models.ToolDescriptor {
	return descriptor("messaging_send", "Send a direct message to another agent in the channel.", "messaging", `{
		"type": "object",
		"properties": {
			"targetAgentId": {"type": "string"},
			"message": {"type": "string"},
			"messageType": {"type": "string"},
			"priority": {"type": "string", "enum": ["low", "normal", "high", "urgent"]},
			"metadata": {"type": "object"}
		},
		"required": ["targetAgentId", "message"]
	}`)
}

func messagingDiscoverDescriptor() models.ToolDescriptor {
	return descriptor("messaging_discover", "List agents in the channel, optionally filtered by capability.", "messaging", `{
		"type": "object",
		"properties": {
			"capabilities": {"type": "array", "items": {"type": "string"}}
		}
	}`)
}

func messagingCoordinateDescriptor() models.ToolDescriptor {
	return descriptor("messaging_coordinate", "Send one message to a set of agents.", "messaging", `{
		"type": "object",
		"properties": {
			"recipientIds": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"message": {"type": "string"},
			"metadata": {"type": "object"}
		},
		"required": ["recipientIds", "message"]
	}`)
}

func messagingBroadcastDescriptor() models.ToolDescriptor {
	return descriptor("messaging_broadcast", "Broadcast a message to every agent in the channel.", "messaging", `{
		"type": "object",
		"properties": {
			"message": {"type": "string"},
			"metadata": {"type": "object"}
		},
		"required": ["message"]
	}`)
}

// directMessage is the payload of message.direct and message.broadcast.
type directMessage struct {
	From     string         `json:"from"`
	To       string         `json:"to,omitempty"`
	Message  string         `json:"message"`
	Type     string         `json:"messageType,omitempty"`
	Priority string         `json:"priority,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Services) messagingSend(ctx context.Context, inv tools.Invocation) (any, error) {
	target, _ := inv.Args["targetAgentId"].(string)
	message, _ := inv.Args["message"].(string)

	if s.Channels != nil && !s.Channels.IsMember(inv.ChannelID, target) {
		return fail(string(mxerr.CodeNotFound), "target agent is not in this channel"), nil
	}

	payload := directMessage{
		From:    inv.AgentID,
		To:      target,
		Message: message,
	}
	payload.Type, _ = inv.Args["messageType"].(string)
	payload.Priority, _ = inv.Args["priority"].(string)
	payload.Metadata, _ = inv.Args["metadata"].(map[string]any)

	if err := s.publish(ctx, inv, bus.EventTypeMessageDirect, payload); err != nil {
		return fail(string(mxerr.CodeOf(err)), err.Error()), nil
	}
	return ok(map[string]any{"delivered": true, "targetAgentId": target}), nil
}

func (s *Services) messagingDiscover(_ context.Context, inv tools.Invocation) (any, error) {
	var wanted []string
	if raw, okCap := inv.Args["capabilities"].([]any); okCap {
		for _, c := range raw {
			if str, okStr := c.(string); okStr {
				wanted = append(wanted, str)
			}
		}
	}

	type roster struct {
		AgentID      string   `json:"agentId"`
		DisplayName  string   `json:"displayName,omitempty"`
		Capabilities []string `json:"capabilities,omitempty"`
	}
	var agents []roster
	if s.Agents != nil {
		for _, id := range s.Agents.InChannel(inv.ChannelID) {
			if id == inv.AgentID {
				continue
			}
			cfg, err := s.Agents.Get(id)
			if err != nil {
				continue
			}
			if len(wanted) > 0 && !hasAnyCapability(cfg.Capabilities, wanted) {
				continue
			}
			agents = append(agents, roster{
				AgentID:      id,
				DisplayName:  cfg.DisplayName,
				Capabilities: cfg.Capabilities,
			})
		}
	}
	return ok(map[string]any{"agents": agents, "count": len(agents)}), nil
}

func hasAnyCapability(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (s *Services) messagingCoordinate(ctx context.Context, inv tools.Invocation) (any, error) {
	message, _ := inv.Args["message"].(string)
	metadata, _ := inv.Args["metadata"].(map[string]any)

	rawIDs, _ := inv.Args["recipientIds"].([]any)
	delivered := make([]string, 0, len(rawIDs))
	var failed []string
	for _, raw := range rawIDs {
		id, okStr := raw.(string)
		if !okStr {
			continue
		}
		if s.Channels != nil && !s.Channels.IsMember(inv.ChannelID, id) {
			failed = append(failed, id)
			continue
		}
		payload := directMessage{From: inv.AgentID, To: id, Message: message, Metadata: metadata}
		if err := s.publish(ctx, inv, bus.EventTypeMessageDirect, payload); err != nil {
			failed = append(failed, id)
			continue
		}
		delivered = append(delivered, id)
	}
	return ok(map[string]any{"delivered": delivered, "failed": failed}), nil
}

func (s *Services) messagingBroadcast(ctx context.Context, inv tools.Invocation) (any, error) {
	message, _ := inv.Args["message"].(string)
	metadata, _ := inv.Args["metadata"].(map[string]any)

	payload := directMessage{From: inv.AgentID, Message: message, Metadata: metadata}
	if err := s.publish(ctx, inv, bus.EventTypeMessageBroadcast, payload); err != nil {
		return fail(string(mxerr.CodeOf(err)), err.Error()), nil
	}
	return ok(map[string]any{"broadcast": true}), nil
}

func (s *Services) publish(ctx context.Context, inv tools.Invocation, eventType string, payload any) error {
	if s.Bus == nil {
		return mxerr.New(mxerr.CodeOperationFailed, "event bus is not available")
	}
	env := models.NewEnvelope(eventType, inv.ChannelID, inv.AgentID, payload)
	env.RequestID = inv.RequestID
	return s.Bus.Publish(ctx, env)
}
