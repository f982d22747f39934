package sandbox

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/store"
)

// fakeRunner scripts the container outcome without Docker.
type fakeRunner struct {
	stdout string
	stderr string
	err    error
	block  bool // block until the context expires
}

func (f *fakeRunner) run(ctx context.Context, _ []string) (string, string, error) {
	if f.block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	return f.stdout, f.stderr, f.err
}

func markerLine(payload string) string {
	return "some noise\n" + resultMarker + payload + "\n"
}

func newFakePool(t *testing.T, r runner) *Pool {
	t.Helper()
	cfg := config.DefaultSandboxConfig()
	cfg.QueueTimeoutMS = 50
	return &Pool{
		cfg:   cfg,
		store: store.NewInMemory(),
		log:   slog.Default(),
		sem:   make(chan struct{}, 1),
		run:   r,
	}
}

func execRequest(code string) models.CodeExecRequest {
	return models.CodeExecRequest{
		AgentID: "alice", ChannelID: "ops", Code: code, Language: "javascript",
	}
}

func TestValidateBlocksDangerousPatterns(t *testing.T) {
	tests := []struct {
		name string
		code string
		safe bool
	}{
		{"plain arithmetic", "return 1 + 2;", true},
		{"eval", "return eval('1+1');", false},
		{"require", "const fs = require('fs');", false},
		{"dynamic function", "const f = new Function('return 1');", false},
		{"bun spawn", "Bun.spawn(['ls']);", false},
		{"node module", "const net = await import('node:net');", false},
		{"fetch", "await fetch('http://example.com');", false},
		{"infinite loop warns only", "while (true) { break; }", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.code)
			assert.Equal(t, tt.safe, v.Safe)
			if !tt.safe {
				assert.NotEmpty(t, v.Issues)
			}
		})
	}
}

func TestCodeHashIsDeterministic(t *testing.T) {
	h1 := CodeHash("return 42;")
	h2 := CodeHash("return 42;")
	h3 := CodeHash("return 43;")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 16)
}

func TestBuildScriptInjectsFrozenContext(t *testing.T) {
	script, err := buildScript("return context.a;", map[string]any{"a": float64(1)}, true)
	require.NoError(t, err)

	assert.Contains(t, script, `Object.freeze({"a":1})`)
	assert.Contains(t, script, resultMarker)
	assert.Contains(t, script, "console.log =")
}

func TestParseOutcomeFindsMarkerAmongNoise(t *testing.T) {
	out, found := parseOutcome("warning: something\n" + resultMarker + `{"success":true,"output":7}` + "\ntrailing")
	require.True(t, found)
	assert.True(t, out.Success)
	assert.Equal(t, float64(7), out.Output)

	_, found = parseOutcome("crash before reporting")
	assert.False(t, found)
}

func TestExecuteReturnsOutputAndLogs(t *testing.T) {
	p := newFakePool(t, &fakeRunner{
		stdout: markerLine(`{"success":true,"output":42,"logs":["step one"]}`),
	})

	result, err := p.Execute(context.Background(), execRequest("return 42;"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, float64(42), result.Output)
	assert.Equal(t, []string{"step one"}, result.Logs)
	assert.Len(t, result.CodeHash, 16)
}

func TestExecuteRuntimeErrorIsData(t *testing.T) {
	p := newFakePool(t, &fakeRunner{
		stdout: markerLine(`{"success":false,"error":"x is not defined"}`),
	})

	result, err := p.Execute(context.Background(), execRequest("return x;"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "x is not defined", result.Error)
}

func TestExecuteMissingMarkerReportsStderr(t *testing.T) {
	p := newFakePool(t, &fakeRunner{stderr: "OOM killed\n"})

	result, err := p.Execute(context.Background(), execRequest("return 1;"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "OOM killed")
}

func TestExecuteTimeoutSetsResourceFlag(t *testing.T) {
	p := newFakePool(t, &fakeRunner{block: true})

	req := execRequest("for(;;){}")
	req.TimeoutMS = 20
	result, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.ResourceUsage.Timeout)
	assert.Contains(t, result.Error, "timed out")
}

func TestExecuteValidationBlocksBeforeRun(t *testing.T) {
	ran := false
	p := newFakePool(t, &fakeRunner{})
	p.run = runnerFunc(func(context.Context, []string) (string, string, error) {
		ran = true
		return "", "", nil
	})

	result, err := p.Execute(context.Background(), execRequest("return eval('1');"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, strings.HasPrefix(result.Error, string(mxerr.CodeValidationError)))
	assert.False(t, ran)
}

func TestExecuteUnavailableWithoutDocker(t *testing.T) {
	p := newFakePool(t, nil)
	p.run = nil
	p.unavailable = "Docker daemon is not reachable"

	_, err := p.Execute(context.Background(), execRequest("return 1;"))
	require.Error(t, err)
	assert.Equal(t, mxerr.CodeOperationFailed, mxerr.CodeOf(err))
	assert.Contains(t, err.Error(), "Docker")
}

func TestExecuteQueueTimeoutIsResourceError(t *testing.T) {
	p := newFakePool(t, &fakeRunner{stdout: markerLine(`{"success":true}`)})
	p.sem <- struct{}{} // hold the only slot

	_, err := p.Execute(context.Background(), execRequest("return 1;"))
	require.Error(t, err)
	assert.Equal(t, mxerr.CodeQuotaExceeded, mxerr.CodeOf(err))
}

func TestExecuteWritesAuditRecord(t *testing.T) {
	st := store.NewInMemory()
	p := newFakePool(t, &fakeRunner{
		stdout: markerLine(`{"success":true,"output":1}`),
	})
	p.store = st

	_, err := p.Execute(context.Background(), execRequest("return 1;"))
	require.NoError(t, err)

	records, err := st.ListExecutions(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, CodeHash("return 1;"), records[0].CodeHash)
	assert.True(t, records[0].Success)
}

// runnerFunc adapts a function to the runner interface.
type runnerFunc func(ctx context.Context, cmd []string) (string, string, error)

func (f runnerFunc) run(ctx context.Context, cmd []string) (string, string, error) {
	return f(ctx, cmd)
}
