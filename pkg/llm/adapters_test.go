package llm

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallExtractionMalformedArguments(t *testing.T) {
	// OpenAI function shape with an argument string that is not JSON. The
	// call survives with empty arguments instead of failing the inference.
	raw := json.RawMessage(`[{"type":"function","id":"call_1","function":{"name":"memory_get","arguments":"{not json"}}]`)

	calls := canonicalToolCalls(raw, slog.Default())

	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "memory_get", calls[0].Name)
	assert.Equal(t, map[string]any{}, calls[0].Arguments)
}

func TestToolUseBlockRoundTrip(t *testing.T) {
	raw, err := json.Marshal([]json.RawMessage{
		toolUseJSON("toolu_1", "memory_get", json.RawMessage(`{"key":"notes"}`)),
	})
	require.NoError(t, err)

	calls := canonicalToolCalls(raw, slog.Default())

	require.Len(t, calls, 1)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.Equal(t, map[string]any{"key": "notes"}, calls[0].Arguments)
}

func TestToolUseBlockNonObjectInput(t *testing.T) {
	raw, err := json.Marshal([]json.RawMessage{
		toolUseJSON("toolu_1", "code_execute", json.RawMessage(`"not an object"`)),
	})
	require.NoError(t, err)

	calls := canonicalToolCalls(raw, slog.Default())

	require.Len(t, calls, 1)
	assert.Equal(t, "code_execute", calls[0].Name)
	assert.Equal(t, map[string]any{}, calls[0].Arguments)
}

func TestToolUseBlockInvalidInputJSON(t *testing.T) {
	calls := canonicalToolCalls(json.RawMessage(
		"["+string(toolUseJSON("toolu_1", "code_execute", json.RawMessage(`{broken`)))+"]",
	), slog.Default())

	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{}, calls[0].Arguments)
}
