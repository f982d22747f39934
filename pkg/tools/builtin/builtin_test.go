package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/inference"
	"github.com/modelexchange/mxf/pkg/memory"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/store"
	"github.com/modelexchange/mxf/pkg/tools"
)

func newTestServices(t *testing.T) (*Services, *tools.Registry) {
	t.Helper()

	channels := config.NewChannelRegistry(map[string]*config.ChannelConfig{
		"ops": {Name: "ops", Members: []string{"alice", "bob"}},
	})
	agents := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"alice": {Channel: "ops", DisplayName: "Alice", Capabilities: []string{"research"}},
		"bob":   {Channel: "ops", DisplayName: "Bob", Capabilities: []string{"coding"}},
	})

	reg := tools.NewRegistry()
	svc := &Services{
		Agents:    agents,
		Channels:  channels,
		Memory:    memory.NewManager(store.NewInMemory(), channels, nil, nil, nil),
		Inference: inference.NewService(config.DefaultInferenceConfig(), "gpt-4o", nil),
		Registry:  reg,
	}
	require.NoError(t, RegisterAll(reg, svc))
	return svc, reg
}

func invocation(agentID string, args map[string]any) tools.Invocation {
	return tools.Invocation{
		AgentID: agentID, ChannelID: "ops", ToolCallID: "tc1", Args: args,
	}
}

func TestRegisterAllInstallsStableNames(t *testing.T) {
	_, reg := newTestServices(t)

	for _, name := range []string{
		"messaging_send", "messaging_discover", "messaging_coordinate", "messaging_broadcast",
		"channel_context_read", "channel_memory_read", "agent_context_read", "agent_memory_read",
		"task_complete", "no_further_action",
		"tools_recommend", "tools_discover", "tools_validate",
		"request_inference_params", "get_current_params", "get_parameter_status",
		"get_available_models", "get_parameter_cost_analytics", "reset_inference_params",
		"code_execute",
		"planning_create", "planning_share", "planning_update_item", "planning_view",
	} {
		assert.True(t, reg.Has(name, "ops"), "missing builtin %s", name)
	}
}

func TestMessagingDiscoverFiltersByCapability(t *testing.T) {
	svc, _ := newTestServices(t)

	out, err := svc.messagingDiscover(context.Background(),
		invocation("alice", map[string]any{"capabilities": []any{"coding"}}))
	require.NoError(t, err)

	body := out.(map[string]any)
	assert.Equal(t, 1, body["count"])
}

func TestMessagingSendUnknownTarget(t *testing.T) {
	svc, _ := newTestServices(t)

	out, err := svc.messagingSend(context.Background(),
		invocation("alice", map[string]any{"targetAgentId": "mallory", "message": "hi"}))
	require.NoError(t, err)

	body := out.(map[string]any)
	assert.Equal(t, false, body["success"])
}

func TestAgentMemoryReadRoundTrip(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	actor := memory.Actor{AgentID: "alice", ChannelID: "ops"}
	require.NoError(t, svc.Memory.Put(ctx, actor, memory.PutRequest{
		Scope: models.ScopeAgent, Key: "focus", Value: "migration", Tags: []string{"work"},
	}))
	require.NoError(t, svc.Memory.Put(ctx, actor, memory.PutRequest{
		Scope: models.ScopeAgent, Key: "lunch", Value: "ramen", Tags: []string{"personal"},
	}))

	out, err := svc.agentMemoryRead(ctx, invocation("alice", map[string]any{
		"tags": []any{"work"},
	}))
	require.NoError(t, err)

	body := out.(map[string]any)
	assert.Equal(t, 1, body["count"])
}

func TestToolsValidateReportsPerName(t *testing.T) {
	svc, _ := newTestServices(t)

	out, err := svc.toolsValidate(context.Background(), invocation("alice", map[string]any{
		"toolNames": []any{"messaging_send", "nonexistent_tool"},
	}))
	require.NoError(t, err)

	body := out.(map[string]any)
	results := body["results"].([]map[string]any)
	require.Len(t, results, 2)
	assert.Equal(t, true, results[0]["valid"])
	assert.Equal(t, false, results[1]["valid"])
}

func TestToolsRecommendRanksByIntent(t *testing.T) {
	svc, _ := newTestServices(t)

	out, err := svc.toolsRecommend(context.Background(), invocation("alice", map[string]any{
		"intent":             "send a message to another agent",
		"maxRecommendations": float64(3),
	}))
	require.NoError(t, err)

	body := out.(map[string]any)
	recs := body["recommendations"].([]recommendation)
	require.NotEmpty(t, recs)
	assert.Contains(t, recs[0].Name, "messaging")
}

func TestRequestInferenceParamsThroughTool(t *testing.T) {
	svc, _ := newTestServices(t)

	out, err := svc.requestInferenceParams(context.Background(), invocation("alice", map[string]any{
		"reason": "deep analysis",
		"scope":  "session",
		"suggested": map[string]any{
			"temperature": 0.9,
		},
	}))
	require.NoError(t, err)

	body := out.(map[string]any)
	require.Equal(t, true, body["success"])
	assert.Equal(t, inference.StatusApproved, body["status"])

	// Effective parameters now reflect the override.
	params := svc.Inference.Resolve("alice", "ops", models.PhaseAction)
	assert.InDelta(t, 0.9, params.Temperature, 1e-9)
}

func TestPlanningLifecycle(t *testing.T) {
	_, reg := newTestServices(t)
	d := tools.NewDispatcher(reg, nil, nil, nil, nil, nil)
	ctx := context.Background()

	created, err := d.Invoke(ctx, invocation("alice", map[string]any{
		"title": "ship release",
		"items": []any{"write changelog", "tag build"},
	}), "planning_create")
	require.NoError(t, err)
	require.False(t, created.IsError)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(created.Content), &body))
	planID := body["planId"].(string)

	updated, err := d.Invoke(ctx, invocation("alice", map[string]any{
		"planId": planID, "itemIndex": float64(0), "status": "done",
	}), "planning_update_item")
	require.NoError(t, err)
	require.False(t, updated.IsError)

	viewed, err := d.Invoke(ctx, invocation("alice", nil), "planning_view")
	require.NoError(t, err)
	require.False(t, viewed.IsError)

	// Another agent cannot see the unshared plan.
	hidden, err := d.Invoke(ctx, invocation("bob", map[string]any{"planId": planID}), "planning_view")
	require.NoError(t, err)
	var hiddenBody map[string]any
	require.NoError(t, json.Unmarshal([]byte(hidden.Content), &hiddenBody))
	assert.Equal(t, false, hiddenBody["success"])
}
