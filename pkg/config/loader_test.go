package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFiles(t *testing.T, mxfYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mxf.yaml"), []byte(mxfYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o600))
	return dir
}

const validProviders = `
llm_providers:
  default-openai:
    type: openai
    model: gpt-5
    api_key_env: OPENAI_API_KEY
`

const validMXF = `
system:
  listen_addr: ":9000"
  retention:
    event_ttl: 12h

bus:
  inbox_size: 64
  emit_timeout: 2s

channels:
  ops:
    name: Operations
    members: [triage]
    mcp_servers: [k8s]

agents:
  triage:
    channel: ops
    llm_provider: default-openai
    max_iterations: 6

mcp_servers:
  k8s:
    transport:
      type: stdio
      command: k8s-mcp
    auto_start: true
    restart_on_crash: true
    startup_timeout: 20s
`

func TestInitialize_Valid(t *testing.T) {
	dir := writeConfigFiles(t, validMXF, validProviders)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.System.ListenAddr)
	assert.Equal(t, 12*time.Hour, cfg.System.Retention.EventTTL)
	assert.Equal(t, 64, cfg.Bus.InboxSize)
	assert.Equal(t, 2*time.Second, cfg.Bus.EmitTimeout)

	agent, err := cfg.AgentRegistry.Get("triage")
	require.NoError(t, err)
	assert.Equal(t, "ops", agent.Channel)
	assert.Equal(t, 6, agent.MaxIterations)

	server, err := cfg.MCPServerRegistry.Get("k8s")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, server.StartupTimeout)
	assert.Equal(t, DefaultMCPHealthCheckInterval, server.HealthCheckInterval)
	assert.Equal(t, DefaultMCPMaxRestartAttempts, server.MaxRestartAttempts)
}

func TestInitialize_Defaults(t *testing.T) {
	dir := writeConfigFiles(t, "", validProviders)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.System.ListenAddr)
	assert.Equal(t, 256, cfg.Bus.InboxSize)
	assert.Equal(t, PairingPolicySynthesize, cfg.Conversation.PairingPolicy)
	assert.Equal(t, 1, cfg.Conversation.DedupWindow)
	assert.Equal(t, 5, cfg.Conversation.CompactionKeep)
	assert.Equal(t, 5000, cfg.Sandbox.DefaultTimeoutMS)
	assert.Equal(t, AssignmentModeRoundRobin, cfg.Tasks.Assignment)
}

func TestInitialize_MissingFile(t *testing.T) {
	dir := t.TempDir()

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		mxf     string
		wantSub string
	}{
		{
			name: "agent references unknown channel",
			mxf: `
agents:
  solo:
    channel: missing
    llm_provider: default-openai
`,
			wantSub: "validation failed",
		},
		{
			name: "stdio server without command",
			mxf: `
mcp_servers:
  broken:
    transport:
      type: stdio
`,
			wantSub: "validation failed",
		},
		{
			name: "invalid transport type",
			mxf: `
mcp_servers:
  broken:
    transport:
      type: carrier-pigeon
`,
			wantSub: "validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfigFiles(t, tt.mxf, validProviders)
			_, err := Initialize(context.Background(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("MXF_TEST_TOKEN", "sekrit")

	out := ExpandEnv([]byte("token: {{.MXF_TEST_TOKEN}}"))
	assert.Equal(t, "token: sekrit", string(out))

	// Plain YAML passes through untouched
	out = ExpandEnv([]byte("plain: value"))
	assert.Equal(t, "plain: value", string(out))

	// Unset variables expand to empty
	out = ExpandEnv([]byte("missing: {{.MXF_TEST_UNSET_VAR}}"))
	assert.Equal(t, "missing: ", string(out))
}

func TestResolveDurationFallback(t *testing.T) {
	d := resolveDuration("not-a-duration", 7*time.Second, "test.field")
	assert.Equal(t, 7*time.Second, d)

	d = resolveDuration("", 3*time.Second, "test.field")
	assert.Equal(t, 3*time.Second, d)

	d = resolveDuration("90s", 3*time.Second, "test.field")
	assert.Equal(t, 90*time.Second, d)
}
