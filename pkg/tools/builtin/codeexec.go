package builtin

import (
	"context"

	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/tools"
)

func codeExecuteDescriptor() models.ToolDescriptor {
	return descriptor("code_execute", "Run code in the isolated sandbox and return its output.", "execution", `{
		"type": "object",
		"properties": {
			"code": {"type": "string", "minLength": 1},
			"language": {"type": "string", "enum": ["javascript", "typescript"]},
			"timeout": {"type": "integer", "minimum": 1},
			"context": {"type": "object"},
			"captureConsole": {"type": "boolean"}
		},
		"required": ["code"]
	}`)
}

func (s *Services) codeExecute(ctx context.Context, inv tools.Invocation) (any, error) {
	if s.Sandbox == nil {
		return fail(string(mxerr.CodeOperationFailed), "code execution sandbox is not available"), nil
	}

	req := models.CodeExecRequest{
		AgentID:   inv.AgentID,
		ChannelID: inv.ChannelID,
		Language:  "javascript",
	}
	req.Code, _ = inv.Args["code"].(string)
	if lang, okS := inv.Args["language"].(string); okS {
		req.Language = lang
	}
	if t, okF := inv.Args["timeout"].(float64); okF {
		req.TimeoutMS = int(t)
	}
	req.Context, _ = inv.Args["context"].(map[string]any)
	req.CaptureConsole, _ = inv.Args["captureConsole"].(bool)

	result, err := s.Sandbox.Execute(ctx, req)
	if err != nil {
		// Infrastructure faults (sandbox unavailable) are reported, not fatal.
		return fail(string(mxerr.CodeOf(err)), err.Error()), nil
	}
	return result, nil
}
