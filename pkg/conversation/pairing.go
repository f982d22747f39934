package conversation

import (
	"encoding/json"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

// UnansweredCalls returns the tool calls issued by assistant messages that
// have no matching tool message yet, in issue order.
func UnansweredCalls(msgs []models.ConversationMessage) []models.ToolCall {
	answered := make(map[string]bool)
	for _, m := range msgs {
		if m.IsToolResult() && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}

	var missing []models.ToolCall
	for _, m := range msgs {
		if m.Role != models.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if !answered[tc.ID] {
				missing = append(missing, tc)
			}
		}
	}
	return missing
}

// synthesizedFailure is the body appended for a tool call that never
// produced a result.
type synthesizedFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// EnsurePaired verifies the pairing invariant before the next inference:
// every tool call issued in the history has exactly one tool message.
//
// Under the synthesize policy, failure tool messages are appended for the
// missing ids and inference may proceed. Under the abort policy the turn
// fails with TOOL_PAIRING_VIOLATION.
//
// Returns the synthesized messages, if any.
func (h *History) EnsurePaired(policy config.PairingPolicy) ([]models.ConversationMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	missing := UnansweredCalls(h.msgs)
	if len(missing) == 0 {
		return nil, nil
	}

	if policy == config.PairingPolicyAbort {
		return nil, mxerr.Newf(mxerr.CodeToolPairingViolation,
			"%d tool call(s) have no result; first missing id %s", len(missing), missing[0].ID)
	}

	synthesized := make([]models.ConversationMessage, 0, len(missing))
	for _, tc := range missing {
		body, _ := json.Marshal(synthesizedFailure{Success: false, Error: "no_result"})
		msg := models.ConversationMessage{
			Role:       models.RoleTool,
			Content:    string(body),
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Metadata:   models.MessageMetadata{IsToolResult: true},
		}
		h.msgs = append(h.msgs, msg)
		synthesized = append(synthesized, msg)
	}
	return synthesized, nil
}
