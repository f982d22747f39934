// Package builtin registers the in-process tool surface: messaging, memory
// reads, task completion, tool discovery, inference parameter governance,
// code execution, and planning. Tool names are stable API.
package builtin

import (
	"context"
	"log/slog"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/inference"
	"github.com/modelexchange/mxf/pkg/memory"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/tools"
)

// TaskCompleter closes the agent's active task. Implemented by the task
// lifecycle service.
type TaskCompleter interface {
	CompleteByTool(ctx context.Context, agentID, summary string, success bool, details string) (*models.Task, error)
}

// CodeExecutor runs code in the sandbox. Implemented by the sandbox pool.
type CodeExecutor interface {
	Execute(ctx context.Context, req models.CodeExecRequest) (*models.CodeExecResult, error)
}

// Services aggregates everything the builtin handlers touch.
type Services struct {
	Bus       *bus.Bus
	Agents    *config.AgentRegistry
	Channels  *config.ChannelRegistry
	Memory    *memory.Manager
	Inference *inference.Service
	Tasks     TaskCompleter
	Sandbox   CodeExecutor
	Registry  *tools.Registry

	// PhaseOf reports an agent's current cognitive phase, used by the
	// parameter tools. Nil defaults to action.
	PhaseOf func(agentID string) models.Phase

	Log *slog.Logger
}

func (s *Services) phase(agentID string) models.Phase {
	if s.PhaseOf != nil {
		if p := s.PhaseOf(agentID); p.IsValid() {
			return p
		}
	}
	return models.PhaseAction
}

func (s *Services) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// RegisterAll installs every builtin tool into the registry.
func RegisterAll(reg *tools.Registry, svc *Services) error {
	planning := newPlanningStore()

	for _, t := range []struct {
		desc    models.ToolDescriptor
		handler tools.Handler
	}{
		{messagingSendDescriptor(), svc.messagingSend},
		{messagingDiscoverDescriptor(), svc.messagingDiscover},
		{messagingCoordinateDescriptor(), svc.messagingCoordinate},
		{messagingBroadcastDescriptor(), svc.messagingBroadcast},
		{channelContextReadDescriptor(), svc.channelContextRead},
		{channelMemoryReadDescriptor(), svc.channelMemoryRead},
		{agentContextReadDescriptor(), svc.agentContextRead},
		{agentMemoryReadDescriptor(), svc.agentMemoryRead},
		{taskCompleteDescriptor(), svc.taskComplete},
		{noFurtherActionDescriptor(), svc.noFurtherAction},
		{toolsRecommendDescriptor(), svc.toolsRecommend},
		{toolsDiscoverDescriptor(), svc.toolsDiscover},
		{toolsValidateDescriptor(), svc.toolsValidate},
		{requestInferenceParamsDescriptor(), svc.requestInferenceParams},
		{getCurrentParamsDescriptor(), svc.getCurrentParams},
		{getParameterStatusDescriptor(), svc.getParameterStatus},
		{getAvailableModelsDescriptor(), svc.getAvailableModels},
		{getParameterCostAnalyticsDescriptor(), svc.getParameterCostAnalytics},
		{resetInferenceParamsDescriptor(), svc.resetInferenceParams},
		{codeExecuteDescriptor(), svc.codeExecute},
		{planningCreateDescriptor(), planning.create},
		{planningShareDescriptor(), planning.share(svc)},
		{planningUpdateItemDescriptor(), planning.updateItem},
		{planningViewDescriptor(), planning.view},
	} {
		if err := reg.Register(t.desc, t.handler); err != nil {
			return err
		}
	}
	return nil
}

// descriptor is a shorthand for builtin global descriptors.
func descriptor(name, description, category, schema string) models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        name,
		Description: description,
		Category:    category,
		InputSchema: schema,
		Source:      models.SourceBuiltin,
		Scope:       models.ScopeGlobal,
	}
}

// ok wraps a success payload in the unified shape.
func ok(fields map[string]any) map[string]any {
	out := map[string]any{"success": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// fail wraps an expected failure in the unified shape.
func fail(code, message string) map[string]any {
	return map[string]any{"success": false, "error": code, "message": message}
}
