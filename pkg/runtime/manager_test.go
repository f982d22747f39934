package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/inference"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/prompt"
	"github.com/modelexchange/mxf/pkg/tools"
)

type stubTaskSource struct {
	tasks map[string]*models.Task
}

func (s *stubTaskSource) Get(_ context.Context, taskID string) (*models.Task, error) {
	return s.tasks[taskID], nil
}

func newTestManager(t *testing.T) (*Manager, *bus.Bus, *scriptedLLM) {
	t.Helper()

	agents := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"alice": {Channel: "ops", LLMProvider: "test"},
		"bob":   {Channel: "ops", LLMProvider: "test"},
	})
	channels := config.NewChannelRegistry(map[string]*config.ChannelConfig{
		"ops": {Name: "Ops", Members: []string{"alice", "bob"}},
	})
	b := bus.New(&config.BusConfig{InboxSize: 64, EmitTimeout: 100 * time.Millisecond}, nil)
	reg := tools.NewRegistry()
	script := &scriptedLLM{Fallback: textResponse("ok")}

	base := Deps{
		Conversation: config.DefaultConversationConfig(),
		LLM:          script,
		Dispatcher:   &stubDispatcher{},
		Registry:     reg,
		Channels:     channels,
		Inference:    inference.NewService(nil, "test-model", nil),
		Prompt:       prompt.NewBuilder(agents, channels, reg, nil),
		Bus:          b,
	}
	source := &stubTaskSource{tasks: map[string]*models.Task{
		"task-1": {TaskID: "task-1", ChannelID: "ops", Title: "Check disks", AssigneeAgentID: "alice", Status: models.TaskAssigned},
	}}
	return NewManager(base, agents, source, base.Inference, nil), b, script
}

func TestManagerStartsAllAgents(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	assert.True(t, m.Running("alice"))
	assert.True(t, m.Running("bob"))
	assert.False(t, m.Running("carol"))
	assert.Equal(t, models.PhaseObservation, m.PhaseOf("carol"))
}

func TestManagerRoutesDirectMessage(t *testing.T) {
	m, b, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	env := models.NewEnvelope(bus.EventTypeMessageDirect, "ops", "bob", map[string]any{
		"from": "bob", "to": "alice", "message": "ping",
	})
	require.NoError(t, b.Publish(ctx, env))

	alice, _ := m.Get("alice")
	require.Eventually(t, func() bool {
		for _, msg := range alice.History().Messages() {
			if msg.Content == "ping" && msg.Metadata.SenderAgentID == "bob" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// The sender's own history stays untouched.
	bob, _ := m.Get("bob")
	assert.Zero(t, bob.History().Len())
}

func TestManagerBroadcastSkipsSender(t *testing.T) {
	m, b, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	env := models.NewEnvelope(bus.EventTypeMessageBroadcast, "ops", "alice", map[string]any{
		"from": "alice", "message": "heads up",
	})
	require.NoError(t, b.Publish(ctx, env))

	bob, _ := m.Get("bob")
	require.Eventually(t, func() bool {
		for _, msg := range bob.History().Messages() {
			if msg.Content == "heads up" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	alice, _ := m.Get("alice")
	for _, msg := range alice.History().Messages() {
		assert.NotEqual(t, "heads up", msg.Content)
	}
}

func TestManagerRoutesTaskAssignment(t *testing.T) {
	m, b, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	env := models.NewEnvelope(bus.EventTypeTaskAssigned, "ops", "alice", map[string]any{
		"taskId": "task-1", "assigneeAgentId": "alice",
	})
	require.NoError(t, b.Publish(ctx, env))

	alice, _ := m.Get("alice")
	require.Eventually(t, func() bool {
		for _, msg := range alice.History().Messages() {
			if msg.Role == models.RoleUser && msg.Content != "" &&
				len(msg.Content) > 6 && msg.Content[:6] == "[task " {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerStopAgentRemovesPresence(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	m.StopAgent("bob")
	assert.False(t, m.Running("bob"))
	assert.True(t, m.Running("alice"))
}
