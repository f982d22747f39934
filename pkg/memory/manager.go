// Package memory implements scoped key-value memory on top of the
// persistent store: agent-private, channel-shared, symmetric relationship,
// and globally shared entries, each with its own access rules.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/store"
)

// Actor identifies who is performing a memory operation.
type Actor struct {
	AgentID   string
	ChannelID string
}

// Manager enforces scope access rules and publishes operation results.
type Manager struct {
	store    store.MemoryStore
	channels *config.ChannelRegistry
	bus      *bus.Bus
	log      *slog.Logger

	// sharedWriters may write shared-scope entries. Everyone may read them.
	sharedWriters []string
}

// NewManager creates a memory manager.
func NewManager(st store.MemoryStore, channels *config.ChannelRegistry, b *bus.Bus, sharedWriters []string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:         st,
		channels:      channels,
		bus:           b,
		log:           logger.With("component", "memory"),
		sharedWriters: sharedWriters,
	}
}

// PutRequest describes a write.
type PutRequest struct {
	Scope models.MemoryScope
	Key   string
	Value string
	Type  string
	// Other is the peer agent for relationship scope.
	Other     string
	Metadata  map[string]string
	Tags      []string
	ExpiresAt *time.Time
}

// resolveOwner maps (actor, scope) to the owner string and checks access.
// write selects the stricter write-side rules.
func (m *Manager) resolveOwner(actor Actor, scope models.MemoryScope, other string, write bool) (string, error) {
	switch scope {
	case models.ScopeAgent:
		return actor.AgentID, nil
	case models.ScopeChannel:
		if m.channels != nil && !m.channels.IsMember(actor.ChannelID, actor.AgentID) {
			return "", mxerr.Newf(mxerr.CodeToolForbidden,
				"agent %q is not a member of channel %q", actor.AgentID, actor.ChannelID)
		}
		return actor.ChannelID, nil
	case models.ScopeRelationship:
		if other == "" {
			return "", mxerr.New(mxerr.CodeMissingRequired, "relationship scope requires the peer agent id")
		}
		// The owner pair always includes the actor, so access is implicit.
		return models.RelationshipOwner(actor.AgentID, other), nil
	case models.ScopeShared:
		if write && !slices.Contains(m.sharedWriters, actor.AgentID) {
			return "", mxerr.Newf(mxerr.CodeToolForbidden,
				"agent %q may not write shared memory", actor.AgentID)
		}
		return "shared", nil
	default:
		return "", mxerr.Newf(mxerr.CodeValidationError, "unknown memory scope %q", scope)
	}
}

// Put creates or updates an entry and emits memory.create_result or
// memory.update_result.
func (m *Manager) Put(ctx context.Context, actor Actor, req PutRequest) error {
	owner, err := m.resolveOwner(actor, req.Scope, req.Other, true)
	if err != nil {
		return err
	}
	if req.Key == "" {
		return mxerr.New(mxerr.CodeMissingRequired, "memory key is required")
	}

	_, getErr := m.store.GetMemory(ctx, req.Scope, owner, req.Key)
	created := errors.Is(getErr, store.ErrNotFound)

	entry := models.MemoryEntry{
		Scope:     req.Scope,
		Owner:     owner,
		Key:       req.Key,
		Value:     req.Value,
		Type:      req.Type,
		AgentID:   actor.AgentID,
		ChannelID: actor.ChannelID,
		Metadata:  req.Metadata,
		Tags:      req.Tags,
		ExpiresAt: req.ExpiresAt,
	}
	if err := m.store.PutMemory(ctx, entry); err != nil {
		return fmt.Errorf("failed to store memory entry: %w", err)
	}

	eventType := bus.EventTypeMemoryUpdateResult
	if created {
		eventType = bus.EventTypeMemoryCreateResult
	}
	m.emitResult(ctx, actor, eventType, req.Scope, req.Key, true, "")
	return nil
}

// Get reads an entry and emits memory.get_result.
func (m *Manager) Get(ctx context.Context, actor Actor, scope models.MemoryScope, key, other string) (*models.MemoryEntry, error) {
	owner, err := m.resolveOwner(actor, scope, other, false)
	if err != nil {
		return nil, err
	}

	entry, err := m.store.GetMemory(ctx, scope, owner, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.emitResult(ctx, actor, bus.EventTypeMemoryGetResult, scope, key, false, "not_found")
			return nil, mxerr.Newf(mxerr.CodeNotFound, "memory key %q not found in scope %s", key, scope)
		}
		return nil, fmt.Errorf("failed to read memory entry: %w", err)
	}

	m.emitResult(ctx, actor, bus.EventTypeMemoryGetResult, scope, key, true, "")
	return entry, nil
}

// List returns the keys visible to the actor in a scope. Keys only.
func (m *Manager) List(ctx context.Context, actor Actor, scope models.MemoryScope, other string) ([]string, error) {
	owner, err := m.resolveOwner(actor, scope, other, false)
	if err != nil {
		return nil, err
	}
	keys, err := m.store.ListMemoryKeys(ctx, scope, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory keys: %w", err)
	}
	return keys, nil
}

// Delete removes an entry and emits memory.delete_result. Idempotent.
func (m *Manager) Delete(ctx context.Context, actor Actor, scope models.MemoryScope, key, other string) error {
	owner, err := m.resolveOwner(actor, scope, other, true)
	if err != nil {
		return err
	}
	if err := m.store.DeleteMemory(ctx, scope, owner, key); err != nil {
		return fmt.Errorf("failed to delete memory entry: %w", err)
	}
	m.emitResult(ctx, actor, bus.EventTypeMemoryDeleteResult, scope, key, true, "")
	return nil
}

// resultPayload is the data carried by memory.*_result events.
type resultPayload struct {
	Scope   models.MemoryScope `json:"scope"`
	Key     string             `json:"key"`
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
}

func (m *Manager) emitResult(ctx context.Context, actor Actor, eventType string, scope models.MemoryScope, key string, success bool, errMsg string) {
	if m.bus == nil {
		return
	}
	env := models.NewEnvelope(eventType, actor.ChannelID, actor.AgentID, resultPayload{
		Scope: scope, Key: key, Success: success, Error: errMsg,
	})
	if err := m.bus.Publish(ctx, env); err != nil {
		m.log.Warn("Failed to publish memory result event",
			"event_type", eventType, "error", err)
	}
}
