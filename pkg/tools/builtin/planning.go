package builtin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/tools"
)

func planningCreateDescriptor() models.ToolDescriptor {
	return descriptor("planning_create", "Create a structured plan with ordered items.", "planning", `{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"items": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1
			}
		},
		"required": ["title", "items"]
	}`)
}

func planningShareDescriptor() models.ToolDescriptor {
	return descriptor("planning_share", "Share a plan with the channel.", "planning", `{
		"type": "object",
		"properties": {
			"planId": {"type": "string"}
		},
		"required": ["planId"]
	}`)
}

func planningUpdateItemDescriptor() models.ToolDescriptor {
	return descriptor("planning_update_item", "Update the status of one plan item.", "planning", `{
		"type": "object",
		"properties": {
			"planId": {"type": "string"},
			"itemIndex": {"type": "integer", "minimum": 0},
			"status": {"type": "string", "enum": ["pending", "in_progress", "done", "skipped"]},
			"note": {"type": "string"}
		},
		"required": ["planId", "itemIndex", "status"]
	}`)
}

func planningViewDescriptor() models.ToolDescriptor {
	return descriptor("planning_view", "View a plan, or the agent's latest plan.", "planning", `{
		"type": "object",
		"properties": {
			"planId": {"type": "string"}
		}
	}`)
}

type planItem struct {
	Text   string `json:"text"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type plan struct {
	ID        string     `json:"planId"`
	AgentID   string     `json:"agentId"`
	ChannelID string     `json:"channelId"`
	Title     string     `json:"title"`
	Items     []planItem `json:"items"`
	Shared    bool       `json:"shared"`
	CreatedAt time.Time  `json:"createdAt"`
}

// planningStore keeps plans in memory per agent. Plans are working state,
// not durable records.
type planningStore struct {
	mu     sync.Mutex
	plans  map[string]*plan
	latest map[string]string // agent id -> newest plan id
}

func newPlanningStore() *planningStore {
	return &planningStore{
		plans:  make(map[string]*plan),
		latest: make(map[string]string),
	}
}

func (ps *planningStore) create(_ context.Context, inv tools.Invocation) (any, error) {
	title, _ := inv.Args["title"].(string)
	rawItems, _ := inv.Args["items"].([]any)

	p := &plan{
		ID:        uuid.NewString(),
		AgentID:   inv.AgentID,
		ChannelID: inv.ChannelID,
		Title:     title,
		CreatedAt: time.Now(),
	}
	for _, raw := range rawItems {
		if text, okS := raw.(string); okS {
			p.Items = append(p.Items, planItem{Text: text, Status: "pending"})
		}
	}

	ps.mu.Lock()
	ps.plans[p.ID] = p
	ps.latest[inv.AgentID] = p.ID
	ps.mu.Unlock()

	return ok(map[string]any{"planId": p.ID, "itemCount": len(p.Items)}), nil
}

// share publishes the plan as a channel broadcast so peers can see it.
func (ps *planningStore) share(svc *Services) tools.Handler {
	return func(ctx context.Context, inv tools.Invocation) (any, error) {
		planID, _ := inv.Args["planId"].(string)

		ps.mu.Lock()
		p, found := ps.plans[planID]
		if found && p.AgentID == inv.AgentID {
			p.Shared = true
		}
		ps.mu.Unlock()

		if !found || p.AgentID != inv.AgentID {
			return fail(string(mxerr.CodeNotFound), "plan not found"), nil
		}

		if svc.Bus != nil {
			env := models.NewEnvelope(bus.EventTypeMessageBroadcast, inv.ChannelID, inv.AgentID, map[string]any{
				"from":     inv.AgentID,
				"message":  "shared plan: " + p.Title,
				"metadata": map[string]any{"planId": p.ID, "plan": p},
			})
			if err := svc.Bus.Publish(ctx, env); err != nil {
				return fail(string(mxerr.CodeOf(err)), err.Error()), nil
			}
		}
		return ok(map[string]any{"planId": p.ID, "shared": true}), nil
	}
}

func (ps *planningStore) updateItem(_ context.Context, inv tools.Invocation) (any, error) {
	planID, _ := inv.Args["planId"].(string)
	status, _ := inv.Args["status"].(string)
	note, _ := inv.Args["note"].(string)
	idxF, _ := inv.Args["itemIndex"].(float64)
	idx := int(idxF)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, found := ps.plans[planID]
	if !found || p.AgentID != inv.AgentID {
		return fail(string(mxerr.CodeNotFound), "plan not found"), nil
	}
	if idx < 0 || idx >= len(p.Items) {
		return fail(string(mxerr.CodeValidationError), "item index out of range"), nil
	}
	p.Items[idx].Status = status
	if note != "" {
		p.Items[idx].Note = note
	}
	return ok(map[string]any{"planId": p.ID, "itemIndex": idx, "status": status}), nil
}

func (ps *planningStore) view(_ context.Context, inv tools.Invocation) (any, error) {
	planID, _ := inv.Args["planId"].(string)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if planID == "" {
		planID = ps.latest[inv.AgentID]
	}
	p, found := ps.plans[planID]
	if !found {
		return fail(string(mxerr.CodeNotFound), "plan not found"), nil
	}
	// Shared plans are visible to channel peers; private plans only to the
	// owner.
	if p.AgentID != inv.AgentID && (!p.Shared || p.ChannelID != inv.ChannelID) {
		return fail(string(mxerr.CodeNotFound), "plan not found"), nil
	}
	return ok(map[string]any{"plan": p}), nil
}
