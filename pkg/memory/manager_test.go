package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st := store.NewInMemory()
	channels := config.NewChannelRegistry(map[string]*config.ChannelConfig{
		"ops": {Name: "ops", Members: []string{"alice", "bob"}},
	})
	return NewManager(st, channels, nil, []string{"system"}, nil), st
}

func TestAgentScopeIsPrivate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := Actor{AgentID: "alice", ChannelID: "ops"}
	bob := Actor{AgentID: "bob", ChannelID: "ops"}

	require.NoError(t, m.Put(ctx, alice, PutRequest{
		Scope: models.ScopeAgent, Key: "pref", Value: "dark"}))

	entry, err := m.Get(ctx, alice, models.ScopeAgent, "pref", "")
	require.NoError(t, err)
	assert.Equal(t, "dark", entry.Value)

	// Bob resolves to his own agent scope; alice's entry is invisible.
	_, err = m.Get(ctx, bob, models.ScopeAgent, "pref", "")
	require.Error(t, err)
	assert.True(t, mxerr.IsCode(err, mxerr.CodeNotFound))
}

func TestChannelScopeRequiresMembership(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	alice := Actor{AgentID: "alice", ChannelID: "ops"}
	require.NoError(t, m.Put(ctx, alice, PutRequest{
		Scope: models.ScopeChannel, Key: "standup", Value: "10:00"}))

	// Any member reads the same entry.
	bob := Actor{AgentID: "bob", ChannelID: "ops"}
	entry, err := m.Get(ctx, bob, models.ScopeChannel, "standup", "")
	require.NoError(t, err)
	assert.Equal(t, "10:00", entry.Value)

	// A non-member is rejected on both read and write.
	eve := Actor{AgentID: "eve", ChannelID: "ops"}
	_, err = m.Get(ctx, eve, models.ScopeChannel, "standup", "")
	assert.True(t, mxerr.IsCode(err, mxerr.CodeToolForbidden))
	err = m.Put(ctx, eve, PutRequest{Scope: models.ScopeChannel, Key: "x", Value: "y"})
	assert.True(t, mxerr.IsCode(err, mxerr.CodeToolForbidden))
}

func TestRelationshipScopeIsSymmetric(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := Actor{AgentID: "alice", ChannelID: "ops"}
	bob := Actor{AgentID: "bob", ChannelID: "ops"}

	require.NoError(t, m.Put(ctx, alice, PutRequest{
		Scope: models.ScopeRelationship, Other: "bob",
		Key: "trust", Value: "high"}))

	// The peer reads the same entry regardless of argument order.
	entry, err := m.Get(ctx, bob, models.ScopeRelationship, "trust", "alice")
	require.NoError(t, err)
	assert.Equal(t, "high", entry.Value)
	assert.Equal(t, "alice|bob", entry.Owner)
}

func TestRelationshipScopeRequiresPeer(t *testing.T) {
	m, _ := newTestManager(t)
	alice := Actor{AgentID: "alice", ChannelID: "ops"}

	err := m.Put(context.Background(), alice, PutRequest{
		Scope: models.ScopeRelationship, Key: "trust", Value: "high"})
	assert.True(t, mxerr.IsCode(err, mxerr.CodeMissingRequired))
}

func TestSharedScopeWriteRestricted(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	system := Actor{AgentID: "system", ChannelID: "ops"}
	require.NoError(t, m.Put(ctx, system, PutRequest{
		Scope: models.ScopeShared, Key: "motd", Value: "welcome"}))

	// Readable by everyone, writable only by designated writers.
	alice := Actor{AgentID: "alice", ChannelID: "ops"}
	entry, err := m.Get(ctx, alice, models.ScopeShared, "motd", "")
	require.NoError(t, err)
	assert.Equal(t, "welcome", entry.Value)

	err = m.Put(ctx, alice, PutRequest{Scope: models.ScopeShared, Key: "motd", Value: "hacked"})
	assert.True(t, mxerr.IsCode(err, mxerr.CodeToolForbidden))
}

func TestDeleteIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := Actor{AgentID: "alice", ChannelID: "ops"}

	require.NoError(t, m.Put(ctx, alice, PutRequest{
		Scope: models.ScopeAgent, Key: "pref", Value: "dark"}))
	require.NoError(t, m.Delete(ctx, alice, models.ScopeAgent, "pref", ""))
	// Deleting again is not an error.
	require.NoError(t, m.Delete(ctx, alice, models.ScopeAgent, "pref", ""))
}

func TestListReturnsKeysOnly(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := Actor{AgentID: "alice", ChannelID: "ops"}

	require.NoError(t, m.Put(ctx, alice, PutRequest{
		Scope: models.ScopeAgent, Key: "a", Value: "1"}))
	require.NoError(t, m.Put(ctx, alice, PutRequest{
		Scope: models.ScopeAgent, Key: "b", Value: "2"}))

	keys, err := m.List(ctx, alice, models.ScopeAgent, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestExpiredEntriesSwept(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	alice := Actor{AgentID: "alice", ChannelID: "ops"}

	past := time.Now().Add(-time.Minute)
	require.NoError(t, m.Put(ctx, alice, PutRequest{
		Scope: models.ScopeAgent, Key: "stale", Value: "x", ExpiresAt: &past}))

	removed, err := st.SweepExpiredMemory(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Get(ctx, alice, models.ScopeAgent, "stale", "")
	assert.True(t, mxerr.IsCode(err, mxerr.CodeNotFound))
}
