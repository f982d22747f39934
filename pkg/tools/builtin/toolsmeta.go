package builtin

import (
	"context"
	"sort"
	"strings"

	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/tools"
)

func toolsRecommendDescriptor() models.ToolDescriptor {
	return descriptor("tools_recommend", "Recommend tools matching a stated intent.", "discovery", `{
		"type": "object",
		"properties": {
			"intent": {"type": "string", "minLength": 1},
			"context": {"type": "string"},
			"maxRecommendations": {"type": "integer", "minimum": 1, "maximum": 20},
			"categoryFilter": {"type": "string"},
			"excludeTools": {"type": "array", "items": {"type": "string"}},
			"includeValidationInsights": {"type": "boolean"},
			"includeParameterExamples": {"type": "boolean"},
			"includePatternRecommendations": {"type": "boolean"},
			"errorContext": {"type": "string"}
		},
		"required": ["intent"]
	}`)
}

func toolsDiscoverDescriptor() models.ToolDescriptor {
	return descriptor("tools_discover", "List registered tools with optional filters.", "discovery", `{
		"type": "object",
		"properties": {
			"category": {"type": "string"},
			"source": {"type": "string"},
			"namePattern": {"type": "string"},
			"includeSchema": {"type": "boolean"},
			"limit": {"type": "integer", "minimum": 1}
		}
	}`)
}

func toolsValidateDescriptor() models.ToolDescriptor {
	return descriptor("tools_validate", "Check whether tool names are registered and callable.", "discovery", `{
		"type": "object",
		"properties": {
			"toolNames": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"checkConfiguration": {"type": "boolean"}
		},
		"required": ["toolNames"]
	}`)
}

// recommendation scores a descriptor against the intent by token overlap
// with the name, description, and category.
type recommendation struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	Score       float64 `json:"score"`
	Example     any     `json:"example,omitempty"`
}

func (s *Services) toolsRecommend(_ context.Context, inv tools.Invocation) (any, error) {
	if s.Registry == nil {
		return fail(string(mxerr.CodeOperationFailed), "tool registry is not available"), nil
	}
	intent, _ := inv.Args["intent"].(string)
	contextHint, _ := inv.Args["context"].(string)
	category, _ := inv.Args["categoryFilter"].(string)
	maxRecs := 5
	if f, okF := inv.Args["maxRecommendations"].(float64); okF {
		maxRecs = int(f)
	}
	excluded := map[string]bool{}
	if raw, okEx := inv.Args["excludeTools"].([]any); okEx {
		for _, e := range raw {
			if str, okStr := e.(string); okStr {
				excluded[str] = true
			}
		}
	}
	withExamples, _ := inv.Args["includeParameterExamples"].(bool)

	terms := tokenize(intent + " " + contextHint)
	var recs []recommendation
	for _, d := range s.Registry.List(inv.ChannelID, tools.ListFilter{Category: category}) {
		if excluded[d.Name] || d.Name == "tools_recommend" {
			continue
		}
		score := overlapScore(terms, tokenize(d.Name+" "+d.Description+" "+d.Category))
		if score <= 0 {
			continue
		}
		rec := recommendation{
			Name: d.Name, Description: d.Description, Category: d.Category, Score: score,
		}
		if withExamples && d.InputSchema != "" {
			rec.Example = map[string]any{"inputSchema": d.InputSchema}
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].Name < recs[j].Name
	})
	if len(recs) > maxRecs {
		recs = recs[:maxRecs]
	}
	return ok(map[string]any{"recommendations": recs, "count": len(recs)}), nil
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == ',' || r == '.' || r == ':'
	}) {
		if len(tok) > 2 {
			out[tok] = true
		}
	}
	return out
}

func overlapScore(query, candidate map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if candidate[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func (s *Services) toolsDiscover(_ context.Context, inv tools.Invocation) (any, error) {
	if s.Registry == nil {
		return fail(string(mxerr.CodeOperationFailed), "tool registry is not available"), nil
	}
	filter := tools.ListFilter{}
	filter.Category, _ = inv.Args["category"].(string)
	filter.Source, _ = inv.Args["source"].(string)
	filter.NamePattern, _ = inv.Args["namePattern"].(string)
	if f, okF := inv.Args["limit"].(float64); okF {
		filter.Limit = int(f)
	}
	includeSchema, _ := inv.Args["includeSchema"].(bool)

	descs := s.Registry.List(inv.ChannelID, filter)
	out := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		entry := map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"category":    d.Category,
			"source":      d.Source,
		}
		if includeSchema {
			entry["inputSchema"] = d.InputSchema
		}
		out = append(out, entry)
	}
	return ok(map[string]any{"tools": out, "count": len(out)}), nil
}

func (s *Services) toolsValidate(_ context.Context, inv tools.Invocation) (any, error) {
	if s.Registry == nil {
		return fail(string(mxerr.CodeOperationFailed), "tool registry is not available"), nil
	}
	checkConfig, _ := inv.Args["checkConfiguration"].(bool)

	rawNames, _ := inv.Args["toolNames"].([]any)
	results := make([]map[string]any, 0, len(rawNames))
	for _, raw := range rawNames {
		name, okStr := raw.(string)
		if !okStr {
			continue
		}
		entry := map[string]any{"name": name}

		var channelAllowed, agentAllowed []string
		if checkConfig {
			if s.Channels != nil {
				if ch, err := s.Channels.Get(inv.ChannelID); err == nil {
					channelAllowed = ch.AllowedTools
				}
			}
			if s.Agents != nil {
				if ag, err := s.Agents.Get(inv.AgentID); err == nil {
					agentAllowed = ag.AllowedTools
				}
			}
		}
		_, err := s.Registry.Resolve(name, inv.ChannelID, channelAllowed, agentAllowed)
		entry["valid"] = err == nil
		if err != nil {
			entry["error"] = string(mxerr.CodeOf(err))
		}
		results = append(results, entry)
	}
	return ok(map[string]any{"results": results}), nil
}
