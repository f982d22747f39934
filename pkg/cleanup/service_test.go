package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/store"
)

// fakeEventStore records the cutoff it was swept with. The in-memory store
// stamps CreatedAt itself, so old events cannot be seeded through it.
type fakeEventStore struct {
	store.EventStore
	sweptBefore time.Time
	removed     int
	err         error
}

func (f *fakeEventStore) SweepExpiredEvents(_ context.Context, olderThan time.Time) (int, error) {
	f.sweptBefore = olderThan
	return f.removed, f.err
}

func testRetention() *config.RetentionConfig {
	return &config.RetentionConfig{
		EventTTL:            1 * time.Hour,
		CleanupInterval:     1 * time.Hour,
		MemorySweepInterval: 1 * time.Hour,
	}
}

func TestService_SweepsExpiredMemory(t *testing.T) {
	st := store.NewInMemory()
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	require.NoError(t, st.PutMemory(ctx, models.MemoryEntry{
		Scope: models.ScopeAgent, Owner: "alice", Key: "stale",
		Value: "old", ExpiresAt: &past,
	}))
	require.NoError(t, st.PutMemory(ctx, models.MemoryEntry{
		Scope: models.ScopeAgent, Owner: "alice", Key: "fresh",
		Value: "new",
	}))

	svc := NewService(testRetention(), st, st)
	svc.sweepMemory(ctx)

	keys, err := st.ListMemoryKeys(ctx, models.ScopeAgent, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, keys)
}

func TestService_SweepsEventsPastTTL(t *testing.T) {
	events := &fakeEventStore{removed: 3}
	svc := NewService(testRetention(), events, nil)

	before := time.Now().Add(-1 * time.Hour)
	svc.sweepEvents(context.Background())

	// Cutoff is now minus the TTL.
	assert.WithinDuration(t, before, events.sweptBefore, time.Minute)
}

func TestService_SweepErrorDoesNotPanic(t *testing.T) {
	events := &fakeEventStore{err: errors.New("storage offline")}
	svc := NewService(testRetention(), events, nil)
	svc.sweepEvents(context.Background())
}

func TestService_StartStop(t *testing.T) {
	st := store.NewInMemory()
	svc := NewService(testRetention(), st, st)

	svc.Start(context.Background())
	svc.Stop()
}

func TestService_NilConfigUsesDefaults(t *testing.T) {
	svc := NewService(nil, nil, nil)
	require.NotNil(t, svc.config)
	assert.Equal(t, config.DefaultRetentionConfig().EventTTL, svc.config.EventTTL)
}
