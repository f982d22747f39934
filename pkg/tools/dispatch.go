package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

// ExternalInvoker forwards tools/call requests to a live MCP server.
// Implemented by the external server manager.
type ExternalInvoker interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*models.ToolResult, error)
}

// Dispatcher validates and routes tool invocations.
type Dispatcher struct {
	registry *Registry
	agents   *config.AgentRegistry
	channels *config.ChannelRegistry
	external ExternalInvoker
	bus      *bus.Bus
	log      *slog.Logger
}

// NewDispatcher wires the dispatch pipeline.
func NewDispatcher(registry *Registry, agents *config.AgentRegistry, channels *config.ChannelRegistry, external ExternalInvoker, b *bus.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		agents:   agents,
		channels: channels,
		external: external,
		bus:      b,
		log:      logger.With("component", "tools"),
	}
}

// Registry exposes the underlying registry for discovery tools.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// callEvent is the payload of mcp.tool_call / mcp.tool_result / mcp.tool_error.
type callEvent struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
	Error      string `json:"error,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
}

// Invoke resolves, validates, routes, and wraps one tool call. Expected
// failures come back as an error-shaped ToolResult so the runtime can pair
// them with the originating toolCallId; the error return is reserved for
// infrastructure faults.
func (d *Dispatcher) Invoke(ctx context.Context, inv Invocation, name string) (*models.ToolResult, error) {
	desc, err := d.resolveForAgent(name, inv)
	if err != nil {
		d.emit(ctx, inv, bus.EventTypeToolError, callEvent{
			ToolCallID: inv.ToolCallID, Name: name, Error: string(mxerr.CodeOf(err)),
		})
		return errorResult(inv.ToolCallID, name, err), nil
	}

	if issues := d.validateArgs(desc, inv.Args); len(issues) > 0 {
		verr := mxerr.Validation(fmt.Sprintf("arguments for %s failed validation", name), issues)
		d.emit(ctx, inv, bus.EventTypeToolError, callEvent{
			ToolCallID: inv.ToolCallID, Name: name, Error: string(mxerr.CodeValidationError),
		})
		return errorResult(inv.ToolCallID, name, verr), nil
	}

	d.emit(ctx, inv, bus.EventTypeToolCall, callEvent{ToolCallID: inv.ToolCallID, Name: name})

	var result *models.ToolResult
	if serverID := desc.Source.ServerID(); serverID != "" {
		result, err = d.invokeExternal(ctx, serverID, desc.Name, inv)
	} else {
		result, err = d.invokeBuiltin(ctx, desc, inv)
	}
	if err != nil {
		d.log.Warn("Tool dispatch failed",
			"tool", name, "agent_id", inv.AgentID, "error", err)
		d.emit(ctx, inv, bus.EventTypeToolError, callEvent{
			ToolCallID: inv.ToolCallID, Name: name, Error: err.Error(),
		})
		return errorResult(inv.ToolCallID, name, err), nil
	}

	eventType := bus.EventTypeToolResult
	if result.IsError {
		eventType = bus.EventTypeToolError
	}
	d.emit(ctx, inv, eventType, callEvent{
		ToolCallID: inv.ToolCallID, Name: name, IsError: result.IsError,
	})
	return result, nil
}

// resolveForAgent applies registry resolution plus the channel and agent
// allow-lists.
func (d *Dispatcher) resolveForAgent(name string, inv Invocation) (*models.ToolDescriptor, error) {
	var channelAllowed, agentAllowed []string
	if d.channels != nil {
		if ch, err := d.channels.Get(inv.ChannelID); err == nil {
			channelAllowed = ch.AllowedTools
		}
	}
	if d.agents != nil {
		if ag, err := d.agents.Get(inv.AgentID); err == nil {
			agentAllowed = ag.AllowedTools
		}
	}
	return d.registry.Resolve(name, inv.ChannelID, channelAllowed, agentAllowed)
}

// validateArgs checks args against the tool's compiled input schema.
func (d *Dispatcher) validateArgs(desc *models.ToolDescriptor, args map[string]any) []mxerr.Issue {
	reg, ok := d.registry.lookup(desc.Scope, desc.Name)
	if !ok || reg.schema == nil {
		return nil
	}

	// The schema validator wants plain decoded JSON values.
	if args == nil {
		args = map[string]any{}
	}
	if err := reg.schema.Validate(normalizeJSON(args)); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return issuesFromValidation(verr)
		}
		return []mxerr.Issue{{Type: "error", Message: err.Error()}}
	}
	return nil
}

// normalizeJSON round-trips a value through encoding/json so numbers and
// nested types match what the validator expects.
func normalizeJSON(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func issuesFromValidation(verr *jsonschema.ValidationError) []mxerr.Issue {
	var issues []mxerr.Issue
	for _, be := range verr.BasicOutput().Errors {
		if be.Error == "" {
			continue
		}
		issues = append(issues, mxerr.Issue{
			Type:    "error",
			Path:    be.InstanceLocation,
			Message: be.Error,
		})
	}
	if len(issues) == 0 {
		issues = append(issues, mxerr.Issue{Type: "error", Message: verr.Message})
	}
	return issues
}

func (d *Dispatcher) invokeBuiltin(ctx context.Context, desc *models.ToolDescriptor, inv Invocation) (*models.ToolResult, error) {
	reg, ok := d.registry.lookup(desc.Scope, desc.Name)
	if !ok || reg.handler == nil {
		return nil, mxerr.Newf(mxerr.CodeToolNotFound, "tool %q has no handler", desc.Name)
	}

	out, err := reg.handler(ctx, inv)
	if err != nil {
		return nil, err
	}
	content, err := marshalContent(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result of %s: %w", desc.Name, err)
	}
	return &models.ToolResult{
		ToolCallID: inv.ToolCallID,
		Name:       desc.Name,
		Content:    content,
	}, nil
}

func (d *Dispatcher) invokeExternal(ctx context.Context, serverID, toolName string, inv Invocation) (*models.ToolResult, error) {
	if d.external == nil {
		return nil, mxerr.Newf(mxerr.CodeToolNotFound, "no external server manager for %q", toolName)
	}
	result, err := d.external.CallTool(ctx, serverID, toolName, inv.Args)
	if err != nil {
		return nil, err
	}
	result.ToolCallID = inv.ToolCallID
	return result, nil
}

// errorResult wraps an expected failure in the unified result shape.
func errorResult(toolCallID, name string, err error) *models.ToolResult {
	body := map[string]any{
		"success": false,
		"error":   string(mxerr.CodeOf(err)),
	}
	var e *mxerr.Error
	if errors.As(err, &e) {
		if e.Message != "" {
			body["message"] = e.Message
		}
		if len(e.Issues) > 0 {
			body["issues"] = e.Issues
		}
	}
	content, _ := json.Marshal(body)
	return &models.ToolResult{
		ToolCallID: toolCallID,
		Name:       name,
		Content:    string(content),
		IsError:    true,
	}
}

// marshalContent renders a handler result in the unified content envelope.
func marshalContent(out any) (string, error) {
	if s, ok := out.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (d *Dispatcher) emit(ctx context.Context, inv Invocation, eventType string, payload callEvent) {
	if d.bus == nil {
		return
	}
	env := models.NewEnvelope(eventType, inv.ChannelID, inv.AgentID, payload)
	env.RequestID = inv.RequestID
	if err := d.bus.Publish(ctx, env); err != nil {
		d.log.Warn("Failed to publish tool event", "event_type", eventType, "error", err)
	}
}
