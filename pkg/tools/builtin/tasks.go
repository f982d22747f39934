package builtin

import (
	"context"

	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/tools"
)

func taskCompleteDescriptor() models.ToolDescriptor {
	return descriptor("task_complete", "Mark the agent's active task complete. The only path to completed status.", "tasks", `{
		"type": "object",
		"properties": {
			"summary": {"type": "string"},
			"success": {"type": "boolean"},
			"details": {"type": "string"},
			"nextSteps": {"type": "string"}
		},
		"required": ["summary"]
	}`)
}

func noFurtherActionDescriptor() models.ToolDescriptor {
	return descriptor("no_further_action", "End the current turn without further tool calls.", "control", `{
		"type": "object",
		"properties": {
			"reason": {"type": "string"},
			"taskStatus": {"type": "string"}
		}
	}`)
}

func (s *Services) taskComplete(ctx context.Context, inv tools.Invocation) (any, error) {
	if s.Tasks == nil {
		return fail(string(mxerr.CodeOperationFailed), "task service is not available"), nil
	}
	summary, _ := inv.Args["summary"].(string)
	success := true
	if v, okB := inv.Args["success"].(bool); okB {
		success = v
	}
	details, _ := inv.Args["details"].(string)

	task, err := s.Tasks.CompleteByTool(ctx, inv.AgentID, summary, success, details)
	if err != nil {
		return fail(string(mxerr.CodeOf(err)), err.Error()), nil
	}
	return ok(map[string]any{
		"taskId":      task.TaskID,
		"status":      task.Status,
		"completedAt": task.CompletedAt,
	}), nil
}

// noFurtherAction is a pure signal; the runtime reacts to the tool name.
func (s *Services) noFurtherAction(_ context.Context, inv tools.Invocation) (any, error) {
	reason, _ := inv.Args["reason"].(string)
	return ok(map[string]any{"acknowledged": true, "reason": reason}), nil
}
