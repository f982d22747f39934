package tools

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/models"
)

// rawToolCall is the superset of tool-call shapes seen across providers:
//
//	{type:"function", id, function:{name, arguments:"json string"}}
//	{type:"tool_use", id, name, input:{...}}
//	{name, args:{...}}
//	{name, parameters:{...}}
type rawToolCall struct {
	Type     string          `json:"type,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Function *rawFunction    `json:"function,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Params   json.RawMessage `json:"parameters,omitempty"`
}

type rawFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CanonicalizeToolCalls converts provider-specific tool-call JSON into the
// canonical form. Argument payloads that fail to parse fall back to an empty
// object; each fallback is reported through warn.
func CanonicalizeToolCalls(raw json.RawMessage, warn func(toolName, detail string)) ([]models.ToolCall, error) {
	if warn == nil {
		warn = func(string, string) {}
	}

	var rawCalls []rawToolCall
	if err := json.Unmarshal(raw, &rawCalls); err != nil {
		// A single object is accepted as a one-element list.
		var one rawToolCall
		if err2 := json.Unmarshal(raw, &one); err2 != nil {
			return nil, err
		}
		rawCalls = []rawToolCall{one}
	}

	out := make([]models.ToolCall, 0, len(rawCalls))
	for _, rc := range rawCalls {
		call := models.ToolCall{ID: rc.ID, Name: rc.Name}

		var argsJSON []byte
		switch {
		case rc.Function != nil:
			call.Name = rc.Function.Name
			argsJSON = []byte(rc.Function.Arguments)
		case rc.Input != nil:
			argsJSON = rc.Input
		case rc.Args != nil:
			argsJSON = rc.Args
		case rc.Params != nil:
			argsJSON = rc.Params
		}
		if call.Name == "" {
			warn("", "tool call without a name skipped")
			continue
		}
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}

		call.Arguments = map[string]any{}
		if len(argsJSON) > 0 {
			if err := json.Unmarshal(argsJSON, &call.Arguments); err != nil {
				warn(call.Name, "malformed arguments replaced with empty object")
				call.Arguments = map[string]any{}
			}
		}
		out = append(out, call)
	}
	return out, nil
}

// WarnFunc builds a warn callback that logs through the given logger.
func WarnFunc(log *slog.Logger) func(toolName, detail string) {
	return func(toolName, detail string) {
		log.Warn("Tool call conversion issue", "tool", toolName, "detail", detail)
	}
}
