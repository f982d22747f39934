package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/models"
)

func TestMemoryRoundTrip(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	entry := models.MemoryEntry{
		Scope: models.ScopeAgent,
		Owner: "agent-1",
		Key:   "notes",
		Value: "remember the ordering contract",
	}
	require.NoError(t, s.PutMemory(ctx, entry))

	got, err := s.GetMemory(ctx, models.ScopeAgent, "agent-1", "notes")
	require.NoError(t, err)
	assert.Equal(t, entry.Value, got.Value)

	// Overwrite is an upsert
	entry.Value = "updated"
	require.NoError(t, s.PutMemory(ctx, entry))
	got, err = s.GetMemory(ctx, models.ScopeAgent, "agent-1", "notes")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Value)

	// Delete twice is a no-op
	require.NoError(t, s.DeleteMemory(ctx, models.ScopeAgent, "agent-1", "notes"))
	require.NoError(t, s.DeleteMemory(ctx, models.ScopeAgent, "agent-1", "notes"))

	_, err = s.GetMemory(ctx, models.ScopeAgent, "agent-1", "notes")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryScopeSeparation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.PutMemory(ctx, models.MemoryEntry{
		Scope: models.ScopeAgent, Owner: "a", Key: "k", Value: "agent-value"}))
	require.NoError(t, s.PutMemory(ctx, models.MemoryEntry{
		Scope: models.ScopeChannel, Owner: "a", Key: "k", Value: "channel-value"}))

	got, err := s.GetMemory(ctx, models.ScopeAgent, "a", "k")
	require.NoError(t, err)
	assert.Equal(t, "agent-value", got.Value)

	got, err = s.GetMemory(ctx, models.ScopeChannel, "a", "k")
	require.NoError(t, err)
	assert.Equal(t, "channel-value", got.Value)
}

func TestMemoryExpiry(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	require.NoError(t, s.PutMemory(ctx, models.MemoryEntry{
		Scope: models.ScopeAgent, Owner: "a", Key: "stale", Value: "v", ExpiresAt: &past}))
	require.NoError(t, s.PutMemory(ctx, models.MemoryEntry{
		Scope: models.ScopeAgent, Owner: "a", Key: "fresh", Value: "v"}))

	// Expired entries are invisible to reads
	_, err := s.GetMemory(ctx, models.ScopeAgent, "a", "stale")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := s.ListMemoryKeys(ctx, models.ScopeAgent, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, keys)

	removed, err := s.SweepExpiredMemory(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestTaskLifecyclePersistence(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	task := &models.Task{
		TaskID:    "t1",
		ChannelID: "ops",
		Title:     "investigate",
		Priority:  models.PriorityNormal,
		Status:    models.TaskPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.ErrorIs(t, s.CreateTask(ctx, task), ErrAlreadyExists)

	task.Status = models.TaskAssigned
	task.AssigneeAgentID = "agent-1"
	require.NoError(t, s.UpdateTask(ctx, task))

	assigned, err := s.ListAssignedTasks(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, models.TaskAssigned, assigned[0].Status)

	task.Status = models.TaskCompleted
	require.NoError(t, s.UpdateTask(ctx, task))

	assigned, err = s.ListAssignedTasks(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, assigned)

	pending, err := s.ListTasks(ctx, "ops", models.TaskPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEventCatchup(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	id1, err := s.AppendEvent(ctx, "ops", "message.sent", []byte(`{"type":"message.sent"}`))
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, "other", "message.sent", []byte(`{}`))
	require.NoError(t, err)
	id3, err := s.AppendEvent(ctx, "ops", "task.created", []byte(`{"type":"task.created"}`))
	require.NoError(t, err)

	recs, err := s.EventsSince(ctx, "ops", 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, id1, recs[0].ID)
	assert.Equal(t, id3, recs[1].ID)

	recs, err = s.EventsSince(ctx, "ops", id1, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "task.created", recs[0].EventType)
}

func TestCredentialRevocation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.PutAgentCredential(ctx, AgentCredential{
		KeyID: "k1", SecretKey: "sekrit", AgentID: "agent-1", ChannelID: "ops"}))

	cred, err := s.GetAgentCredential(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, cred.Revoked)

	require.NoError(t, s.RevokeAgentCredential(ctx, "k1"))
	cred, err = s.GetAgentCredential(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, cred.Revoked)

	assert.ErrorIs(t, s.RevokeAgentCredential(ctx, "missing"), ErrNotFound)
}

func TestRelationshipOwnerSymmetry(t *testing.T) {
	assert.Equal(t,
		models.RelationshipOwner("alice", "bob"),
		models.RelationshipOwner("bob", "alice"))
}
