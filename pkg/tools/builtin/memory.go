package builtin

import (
	"context"

	"github.com/modelexchange/mxf/pkg/memory"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/tools"
)

const readSchema = `{
	"type": "object",
	"properties": {
		"keys": {"type": "array", "items": {"type": "string"}}
	}
}`

const memoryReadSchema = `{
	"type": "object",
	"properties": {
		"keys": {"type": "array", "items": {"type": "string"}},
		"tags": {"type": "array", "items": {"type": "string"}},
		"limit": {"type": "integer", "minimum": 1}
	}
}`

func channelContextReadDescriptor() models.ToolDescriptor {
	return descriptor("channel_context_read", "Read channel-scoped context entries.", "memory", readSchema)
}

func channelMemoryReadDescriptor() models.ToolDescriptor {
	return descriptor("channel_memory_read", "Read channel-scoped memory entries with tag filtering.", "memory", memoryReadSchema)
}

func agentContextReadDescriptor() models.ToolDescriptor {
	return descriptor("agent_context_read", "Read agent-private context entries.", "memory", readSchema)
}

func agentMemoryReadDescriptor() models.ToolDescriptor {
	return descriptor("agent_memory_read", "Read agent-private memory entries with tag filtering.", "memory", memoryReadSchema)
}

func (s *Services) channelContextRead(ctx context.Context, inv tools.Invocation) (any, error) {
	return s.readScope(ctx, inv, models.ScopeChannel, nil, 0)
}

func (s *Services) channelMemoryRead(ctx context.Context, inv tools.Invocation) (any, error) {
	tags, limit := readFilters(inv.Args)
	return s.readScope(ctx, inv, models.ScopeChannel, tags, limit)
}

func (s *Services) agentContextRead(ctx context.Context, inv tools.Invocation) (any, error) {
	return s.readScope(ctx, inv, models.ScopeAgent, nil, 0)
}

func (s *Services) agentMemoryRead(ctx context.Context, inv tools.Invocation) (any, error) {
	tags, limit := readFilters(inv.Args)
	return s.readScope(ctx, inv, models.ScopeAgent, tags, limit)
}

func readFilters(args map[string]any) ([]string, int) {
	var tags []string
	if raw, okTags := args["tags"].([]any); okTags {
		for _, t := range raw {
			if str, okStr := t.(string); okStr {
				tags = append(tags, str)
			}
		}
	}
	limit := 0
	if f, okLimit := args["limit"].(float64); okLimit {
		limit = int(f)
	}
	return tags, limit
}

// readScope resolves the requested keys (or all keys) in a scope and
// returns the matching entries.
func (s *Services) readScope(ctx context.Context, inv tools.Invocation, scope models.MemoryScope, tags []string, limit int) (any, error) {
	if s.Memory == nil {
		return fail(string(mxerr.CodeOperationFailed), "memory manager is not available"), nil
	}
	actor := memory.Actor{AgentID: inv.AgentID, ChannelID: inv.ChannelID}

	keys := requestedKeys(inv.Args)
	if keys == nil {
		all, err := s.Memory.List(ctx, actor, scope, "")
		if err != nil {
			return fail(string(mxerr.CodeOf(err)), err.Error()), nil
		}
		keys = all
	}

	entries := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		entry, err := s.Memory.Get(ctx, actor, scope, key, "")
		if err != nil {
			continue
		}
		if len(tags) > 0 && !hasAnyCapability(entry.Tags, tags) {
			continue
		}
		entries = append(entries, map[string]any{
			"key":   entry.Key,
			"value": entry.Value,
			"type":  entry.Type,
			"tags":  entry.Tags,
		})
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return ok(map[string]any{"entries": entries, "count": len(entries)}), nil
}

func requestedKeys(args map[string]any) []string {
	raw, okKeys := args["keys"].([]any)
	if !okKeys {
		return nil
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if str, okStr := k.(string); okStr {
			keys = append(keys, str)
		}
	}
	return keys
}
