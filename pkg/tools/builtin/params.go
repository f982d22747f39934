package builtin

import (
	"context"
	"time"

	"github.com/modelexchange/mxf/pkg/inference"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/tools"
)

func requestInferenceParamsDescriptor() models.ToolDescriptor {
	return descriptor("request_inference_params", "Request an inference parameter override. Reason is mandatory.", "inference", `{
		"type": "object",
		"properties": {
			"reason": {"type": "string", "minLength": 1},
			"suggested": {
				"type": "object",
				"properties": {
					"model": {"type": "string"},
					"temperature": {"type": "number"},
					"reasoningTokens": {"type": "integer"},
					"maxOutputTokens": {"type": "integer"}
				}
			},
			"scope": {"type": "string", "enum": ["next_call", "current_phase", "task", "session"]}
		},
		"required": ["reason"]
	}`)
}

func getCurrentParamsDescriptor() models.ToolDescriptor {
	return descriptor("get_current_params", "Read the effective inference parameters for the current phase.", "inference", `{"type": "object"}`)
}

func getParameterStatusDescriptor() models.ToolDescriptor {
	return descriptor("get_parameter_status", "List the agent's active parameter overrides.", "inference", `{"type": "object"}`)
}

func getAvailableModelsDescriptor() models.ToolDescriptor {
	return descriptor("get_available_models", "List the models overrides may request.", "inference", `{"type": "object"}`)
}

func getParameterCostAnalyticsDescriptor() models.ToolDescriptor {
	return descriptor("get_parameter_cost_analytics", "Aggregate inference cost over a time range.", "inference", `{
		"type": "object",
		"properties": {
			"groupBy": {"type": "string", "enum": ["phase", "model", "hour"]},
			"hours": {"type": "integer", "minimum": 1, "maximum": 720}
		}
	}`)
}

func resetInferenceParamsDescriptor() models.ToolDescriptor {
	return descriptor("reset_inference_params", "Remove parameter overrides by scope.", "inference", `{
		"type": "object",
		"properties": {
			"scope": {"type": "string", "enum": ["all", "session", "task", "current_phase", "next_call"]}
		},
		"required": ["scope"]
	}`)
}

func (s *Services) requestInferenceParams(_ context.Context, inv tools.Invocation) (any, error) {
	if s.Inference == nil {
		return fail(string(mxerr.CodeOperationFailed), "inference service is not available"), nil
	}

	req := inference.Request{
		AgentID:   inv.AgentID,
		ChannelID: inv.ChannelID,
		Phase:     s.phase(inv.AgentID),
	}
	req.Reason, _ = inv.Args["reason"].(string)
	if scope, okS := inv.Args["scope"].(string); okS {
		req.Scope = inference.OverrideScope(scope)
	}
	if suggested, okM := inv.Args["suggested"].(map[string]any); okM {
		if m, okStr := suggested["model"].(string); okStr {
			req.Suggested.Model = m
		}
		if t, okF := suggested["temperature"].(float64); okF {
			req.Suggested.Temperature = &t
		}
		if rt, okF := suggested["reasoningTokens"].(float64); okF {
			v := int(rt)
			req.Suggested.ReasoningTokens = &v
		}
		if mo, okF := suggested["maxOutputTokens"].(float64); okF {
			v := int(mo)
			req.Suggested.MaxOutputTokens = &v
		}
	}

	decision, err := s.Inference.RequestOverride(req)
	if err != nil {
		return fail(string(mxerr.CodeOf(err)), err.Error()), nil
	}
	return ok(map[string]any{
		"status":         decision.Status,
		"activeParams":   decision.ActiveParams,
		"previousParams": decision.PreviousParams,
		"overrideId":     decision.OverrideID,
		"expiresAt":      decision.ExpiresAt,
		"costDelta":      decision.CostDelta,
	}), nil
}

func (s *Services) getCurrentParams(_ context.Context, inv tools.Invocation) (any, error) {
	if s.Inference == nil {
		return fail(string(mxerr.CodeOperationFailed), "inference service is not available"), nil
	}
	phase := s.phase(inv.AgentID)
	return ok(map[string]any{
		"phase":  phase,
		"params": s.Inference.Resolve(inv.AgentID, inv.ChannelID, phase),
	}), nil
}

func (s *Services) getParameterStatus(_ context.Context, inv tools.Invocation) (any, error) {
	if s.Inference == nil {
		return fail(string(mxerr.CodeOperationFailed), "inference service is not available"), nil
	}
	overrides := s.Inference.ActiveOverrides(inv.AgentID)
	return ok(map[string]any{"overrides": overrides, "count": len(overrides)}), nil
}

func (s *Services) getAvailableModels(_ context.Context, _ tools.Invocation) (any, error) {
	if s.Inference == nil {
		return fail(string(mxerr.CodeOperationFailed), "inference service is not available"), nil
	}
	return ok(map[string]any{"models": s.Inference.KnownModels()}), nil
}

func (s *Services) getParameterCostAnalytics(_ context.Context, inv tools.Invocation) (any, error) {
	if s.Inference == nil {
		return fail(string(mxerr.CodeOperationFailed), "inference service is not available"), nil
	}
	groupBy := inference.GroupByPhase
	if g, okS := inv.Args["groupBy"].(string); okS {
		groupBy = inference.GroupBy(g)
	}
	hours := 24
	if h, okF := inv.Args["hours"].(float64); okF {
		hours = int(h)
	}

	report, err := s.Inference.CostAnalytics(time.Now().Add(-time.Duration(hours)*time.Hour), time.Time{}, groupBy)
	if err != nil {
		return fail(string(mxerr.CodeOf(err)), err.Error()), nil
	}
	return ok(map[string]any{"report": report}), nil
}

func (s *Services) resetInferenceParams(_ context.Context, inv tools.Invocation) (any, error) {
	if s.Inference == nil {
		return fail(string(mxerr.CodeOperationFailed), "inference service is not available"), nil
	}
	scope, _ := inv.Args["scope"].(string)
	count, err := s.Inference.Reset(inv.AgentID, scope)
	if err != nil {
		return fail(string(mxerr.CodeOf(err)), err.Error()), nil
	}
	return ok(map[string]any{"scope": scope, "resetCount": count}), nil
}
