package runtime

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/models"
)

// fencedJSONPattern matches a fenced json block in natural-language output.
var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// interpretedCall is the JSON shape the interpreter recognizes inside
// assistant text.
type interpretedCall struct {
	Tool      string         `json:"tool"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Args      map[string]any `json:"args"`
}

// interpretToolCall recovers a tool call from natural-language assistant
// output: a fenced JSON block (or the whole content, when it is a single
// JSON object) naming a tool. Returns false when nothing tool-shaped is
// found. Enabled per agent; off by default.
func interpretToolCall(content string) (models.ToolCall, bool) {
	candidate := ""
	if m := fencedJSONPattern.FindStringSubmatch(content); m != nil {
		candidate = m[1]
	} else if trimmed := strings.TrimSpace(content); strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		candidate = trimmed
	}
	if candidate == "" {
		return models.ToolCall{}, false
	}

	var parsed interpretedCall
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return models.ToolCall{}, false
	}
	name := parsed.Tool
	if name == "" {
		name = parsed.Name
	}
	if name == "" {
		return models.ToolCall{}, false
	}
	args := parsed.Arguments
	if args == nil {
		args = parsed.Args
	}
	if args == nil {
		args = map[string]any{}
	}
	return models.ToolCall{
		ID:        "interp_" + uuid.NewString()[:8],
		Name:      name,
		Arguments: args,
	}, true
}
