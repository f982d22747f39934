package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

func testBus(inboxSize int) *Bus {
	return New(&config.BusConfig{
		InboxSize:   inboxSize,
		EmitTimeout: 100 * time.Millisecond,
	}, nil)
}

func recvOne(t *testing.T, sub *Subscription) models.Envelope {
	t.Helper()
	select {
	case env := <-sub.Events():
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.Envelope{}
	}
}

func TestPublicEvent(t *testing.T) {
	tests := []struct {
		eventType string
		public    bool
	}{
		{EventTypeMessageSent, true},
		{EventTypeTaskCreated, true},
		{"task.internal.rebalance", false},
		{EventTypeMemoryGetResult, true},
		{"memory.sweep", false},
		{EventTypeToolCall, true},
		{EventTypeReflection, true},
		{EventTypeAgentConnected, true},
		{EventTypeChannelCreated, true},
		{"store.write", false},
		{"session.revoked", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.public, PublicEvent(tt.eventType))
		})
	}
}

func TestMatchTopic(t *testing.T) {
	assert.True(t, MatchTopic("*", EventTypeTaskCreated))
	assert.True(t, MatchTopic("task.*", EventTypeTaskCreated))
	assert.True(t, MatchTopic(EventTypeTaskCreated, EventTypeTaskCreated))
	assert.False(t, MatchTopic("task.*", EventTypeMessageSent))
	assert.False(t, MatchTopic("task.created", "task.created_extra"))
}

func TestPublishAndSubscribe(t *testing.T) {
	b := testBus(8)
	defer b.Close()

	sub := b.Subscribe(SubscribeOptions{Topics: []string{"task.*"}})
	defer sub.Close()

	env := models.NewEnvelope(EventTypeTaskCreated, "ops", "", map[string]string{"taskId": "t1"})
	require.NoError(t, b.Publish(context.Background(), env))

	got := recvOne(t, sub)
	assert.Equal(t, EventTypeTaskCreated, got.Type)
	assert.Equal(t, "ops", got.ChannelID)

	// Non-matching topic is not delivered
	require.NoError(t, b.Publish(context.Background(),
		models.NewEnvelope(EventTypeMessageSent, "ops", "", nil)))
	select {
	case unexpected := <-sub.Events():
		t.Fatalf("received unexpected event %s", unexpected.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelFilter(t *testing.T) {
	b := testBus(8)
	defer b.Close()

	sub := b.Subscribe(SubscribeOptions{ChannelID: "ops"})
	defer sub.Close()

	require.NoError(t, b.Publish(context.Background(),
		models.NewEnvelope(EventTypeMessageSent, "other", "", nil)))
	require.NoError(t, b.Publish(context.Background(),
		models.NewEnvelope(EventTypeMessageSent, "ops", "", nil)))

	got := recvOne(t, sub)
	assert.Equal(t, "ops", got.ChannelID)
}

func TestDropOldestPolicy(t *testing.T) {
	b := testBus(2)
	defer b.Close()

	sub := b.Subscribe(SubscribeOptions{Topics: []string{"controlloop.*"}})
	defer sub.Close()

	// Fill the inbox past capacity; controlloop.* is droppable so the
	// emitter never blocks and the oldest deliveries are shed.
	for i := 0; i < 5; i++ {
		env := models.NewEnvelope(EventTypeObservation, "ops", "", map[string]int{"seq": i})
		require.NoError(t, b.Publish(context.Background(), env))
	}

	assert.Equal(t, uint64(3), sub.Dropped())
}

func TestBlockingPolicyTimesOut(t *testing.T) {
	b := testBus(1)
	defer b.Close()

	sub := b.Subscribe(SubscribeOptions{Topics: []string{"message.*"}})
	defer sub.Close()

	require.NoError(t, b.Publish(context.Background(),
		models.NewEnvelope(EventTypeMessageSent, "ops", "", nil)))

	// Inbox is full and nobody is reading: the second publish must fail
	// with MESSAGE_SEND_FAILED after the emit timeout.
	err := b.Publish(context.Background(),
		models.NewEnvelope(EventTypeMessageSent, "ops", "", nil))
	require.Error(t, err)
	assert.True(t, mxerr.IsCode(err, mxerr.CodeMessageSendFailed))
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := testBus(1)
	defer b.Close()

	slow := b.Subscribe(SubscribeOptions{Topics: []string{"message.*"}})
	defer slow.Close()
	fast := b.Subscribe(SubscribeOptions{Topics: []string{"message.*"}})
	defer fast.Close()

	// First publish fills both inboxes.
	require.NoError(t, b.Publish(context.Background(),
		models.NewEnvelope(EventTypeMessageSent, "ops", "", nil)))
	// Drain only the fast subscriber.
	recvOne(t, fast)

	// Second publish fails for the slow subscriber but still reaches fast.
	err := b.Publish(context.Background(),
		models.NewEnvelope(EventTypeMessageSent, "ops", "", nil))
	require.Error(t, err)

	got := recvOne(t, fast)
	assert.Equal(t, EventTypeMessageSent, got.Type)
}

func TestChannelViewInjectsChannel(t *testing.T) {
	b := testBus(8)
	defer b.Close()

	view := b.ChannelView("ops", "agent-1")
	sub := b.Subscribe(SubscribeOptions{ChannelID: "ops"})
	defer sub.Close()

	require.NoError(t, view.Emit(context.Background(), EventTypeMessageSent,
		map[string]string{"text": "hello"}))

	got := recvOne(t, sub)
	assert.Equal(t, "ops", got.ChannelID)
	assert.Equal(t, "agent-1", got.AgentID)
}

func TestMonitorIsolation(t *testing.T) {
	b := testBus(8)
	defer b.Close()

	monA := b.Monitor("channel-a")
	defer monA.Close()

	// Event on channel B must not reach monitor A, even from an emitter
	// that also operates in A.
	viewB := b.ChannelView("channel-b", "agent-1")
	require.NoError(t, viewB.Emit(context.Background(), EventTypeMessageSent, nil))

	select {
	case env := <-monA.Events():
		t.Fatalf("monitor received cross-channel event %s for %s", env.Type, env.ChannelID)
	case <-time.After(50 * time.Millisecond):
	}

	// Event on channel A arrives exactly once.
	viewA := b.ChannelView("channel-a", "agent-1")
	require.NoError(t, viewA.Emit(context.Background(), EventTypeMessageSent, nil))

	select {
	case env := <-monA.Events():
		assert.Equal(t, "channel-a", env.ChannelID)
	case <-time.After(time.Second):
		t.Fatal("monitor did not receive channel event")
	}
	select {
	case <-monA.Events():
		t.Fatal("monitor received duplicate delivery")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorWhitelist(t *testing.T) {
	b := testBus(8)
	defer b.Close()

	mon := b.Monitor("ops")
	defer mon.Close()

	// Non-public event stays inside the process.
	require.NoError(t, b.Publish(context.Background(),
		models.NewEnvelope("session.revoked", "ops", "", nil)))

	select {
	case env := <-mon.Events():
		t.Fatalf("monitor received non-public event %s", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClosedSubscriptionStopsDelivery(t *testing.T) {
	b := testBus(8)
	defer b.Close()

	sub := b.Subscribe(SubscribeOptions{})
	sub.Close()
	sub.Close() // idempotent

	assert.Equal(t, 0, b.SubscriberCount())
	require.NoError(t, b.Publish(context.Background(),
		models.NewEnvelope(EventTypeMessageSent, "ops", "", nil)))
}
