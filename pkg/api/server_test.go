package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/auth"
	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/inference"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/session"
	"github.com/modelexchange/mxf/pkg/store"
	"github.com/modelexchange/mxf/pkg/tasks"
	"github.com/modelexchange/mxf/pkg/tools"
)

const testDomainKey = "test-domain-key"

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	st := store.NewInMemory()
	cfg := &config.Config{
		ChannelRegistry: config.NewChannelRegistry(map[string]*config.ChannelConfig{
			"ops": {Name: "Ops", Members: []string{"alice", "bob"}, Admins: []string{"admin"}},
		}),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"alice": {Channel: "ops", DisplayName: "Alice", Capabilities: []string{"triage"}, LLMProvider: "test"},
			"bob":   {Channel: "ops", LLMProvider: "test"},
		}),
	}
	b := bus.New(&config.BusConfig{InboxSize: 64, EmitTimeout: 100 * time.Millisecond}, nil)
	taskSvc := tasks.NewService(nil, st, cfg.AgentRegistry, cfg.ChannelRegistry, b, nil)

	require.NoError(t, st.PutAgentCredential(context.Background(), store.AgentCredential{
		KeyID:     "key-alice",
		SecretKey: "secret-alice",
		AgentID:   "alice",
		ChannelID: "ops",
	}))
	require.NoError(t, st.PutUserCredential(context.Background(), store.UserCredential{
		UserID: "user-1",
		Token:  "token-1",
	}))

	authn := auth.New(testDomainKey, st, nil)
	return NewServer(
		cfg, authn, session.NewManager(), st, b, taskSvc,
		nil, nil, nil, tools.NewRegistry(),
		inference.NewService(nil, "test-model", nil), nil,
	), st
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthHealthy(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.Equal(t, healthStatusHealthy, resp.Checks["store"].Status)
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/health", "")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListChannels(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var channels []ChannelSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "ops", channels[0].ID)
	assert.Contains(t, channels[0].Members, "alice")
}

func TestGetChannelNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/channels/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChannelAgents(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/channels/ops/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var agents []AgentStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 2)
	assert.Equal(t, "alice", agents[0].ID)
	assert.False(t, agents[0].Running)
}

func TestCreateAndGetTask(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/channels/ops/tasks",
		`{"title": "Investigate latency", "capabilities": ["triage"], "assignerId": "admin"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.TaskID)
	assert.Equal(t, "ops", created.ChannelID)

	rec = doRequest(s, http.MethodGet, "/api/v1/tasks/"+created.TaskID, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTaskMissingTitle(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/channels/ops/tasks", `{"description": "no title"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTasksInvalidStatus(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/channels/ops/tasks?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/tasks/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTaskAuthorization(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/channels/ops/tasks",
		`{"title": "Cancel me", "assignerId": "admin"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// A random principal may not cancel.
	rec = doRequest(s, http.MethodPost, "/api/v1/tasks/"+created.TaskID+"/cancel",
		`{"requesterId": "mallory"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The assigner may.
	rec = doRequest(s, http.MethodPost, "/api/v1/tasks/"+created.TaskID+"/cancel",
		`{"requesterId": "admin"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled models.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, models.TaskCancelled, cancelled.Status)
}

func TestMCPServersUnconfigured(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/mcp/servers", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUsageInvalidGroupBy(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/usage?group_by=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageReport(t *testing.T) {
	s, _ := newTestServer(t)
	s.inference.RecordUsage("alice", models.PhaseReasoning, "test-model", models.TokenUsage{
		PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150,
	})

	rec := doRequest(s, http.MethodGet, "/api/v1/usage?group_by=model", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test-model")
}

func TestAgentStartUnconfiguredRuntimes(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/agents/alice/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMemoryInspection(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.PutMemory(context.Background(), models.MemoryEntry{
		Scope: models.ScopeAgent, Owner: "alice", Key: "preferences", Value: "dark mode",
	}))

	rec := doRequest(s, http.MethodGet, "/api/v1/memory/agent/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["preferences"]`, rec.Body.String())

	rec = doRequest(s, http.MethodGet, "/api/v1/memory/agent/alice/preferences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dark mode")

	rec = doRequest(s, http.MethodGet, "/api/v1/memory/bogus/alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/memory/agent/alice/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionsEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
