package conversation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

func newHistory(dedupWindow int) *History {
	cfg := config.DefaultConversationConfig()
	cfg.DedupWindow = dedupWindow
	return NewHistory("agent-1", "ops", cfg)
}

func userMsg(content string) models.ConversationMessage {
	return models.ConversationMessage{Role: models.RoleUser, Content: content}
}

func toolMsg(callID, content string) models.ConversationMessage {
	return models.ConversationMessage{
		Role: models.RoleTool, Content: content, ToolCallID: callID,
		Metadata: models.MessageMetadata{IsToolResult: true},
	}
}

func assistantWithCalls(ids ...string) models.ConversationMessage {
	m := models.ConversationMessage{Role: models.RoleAssistant}
	for _, id := range ids {
		m.ToolCalls = append(m.ToolCalls, models.ToolCall{
			ID: id, Name: "read_file", Arguments: map[string]any{"path": "/" + id}})
	}
	return m
}

func TestAppendDedup(t *testing.T) {
	h := newHistory(1)

	assert.True(t, h.Append(userMsg("hello")))
	// Identical adjacent message is dropped, including case and whitespace
	// variants.
	assert.False(t, h.Append(userMsg("hello")))
	assert.False(t, h.Append(userMsg("  HELLO ")))
	// Different content appends.
	assert.True(t, h.Append(userMsg("hello again")))
	// The original content is no longer adjacent within the window.
	assert.True(t, h.Append(userMsg("hello")))

	assert.Equal(t, 3, h.Len())
}

func TestAppendDedupRoleMismatch(t *testing.T) {
	h := newHistory(1)

	assert.True(t, h.Append(userMsg("status?")))
	assert.True(t, h.Append(models.ConversationMessage{
		Role: models.RoleAssistant, Content: "status?"}))
}

func TestToolResultsNeverDeduplicated(t *testing.T) {
	h := newHistory(5)

	require.True(t, h.Append(assistantWithCalls("tc1", "tc2")))
	// Identical content across two tool results; both are retained.
	assert.True(t, h.Append(toolMsg("tc1", "Success")))
	assert.True(t, h.Append(toolMsg("tc2", "Success")))

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "tc1", msgs[1].ToolCallID)
	assert.Equal(t, "tc2", msgs[2].ToolCallID)
}

func TestDedupWindowWiderThanOne(t *testing.T) {
	h := newHistory(3)

	assert.True(t, h.Append(userMsg("a")))
	assert.True(t, h.Append(userMsg("b")))
	// "a" is two messages back but inside the window of 3.
	assert.False(t, h.Append(userMsg("a")))
}

func TestToolCallMessagesNeverDeduplicated(t *testing.T) {
	h := newHistory(3)

	// Empty-content assistant turns are the norm for pure tool-call
	// responses; consecutive ones must all survive so their results stay
	// paired.
	require.True(t, h.Append(assistantWithCalls("tc1")))
	require.True(t, h.Append(toolMsg("tc1", "ok")))
	assert.True(t, h.Append(assistantWithCalls("tc2")))
	assert.True(t, h.Append(toolMsg("tc2", "ok")))

	// Plain-text dedup still applies across the intervening tool traffic.
	assert.True(t, h.Append(userMsg("retry")))
	assert.False(t, h.Append(userMsg("retry")))

	assert.Equal(t, 5, h.Len())
}

func TestEnsurePairedComplete(t *testing.T) {
	h := newHistory(1)
	require.True(t, h.Append(assistantWithCalls("tc1", "tc2")))
	require.True(t, h.Append(toolMsg("tc1", "Success")))
	require.True(t, h.Append(toolMsg("tc2", "Success")))

	synth, err := h.EnsurePaired(config.PairingPolicySynthesize)
	require.NoError(t, err)
	assert.Empty(t, synth)
}

func TestEnsurePairedSynthesizesFailures(t *testing.T) {
	h := newHistory(1)
	require.True(t, h.Append(assistantWithCalls("tc1", "tc2")))
	require.True(t, h.Append(toolMsg("tc1", "Success")))

	synth, err := h.EnsurePaired(config.PairingPolicySynthesize)
	require.NoError(t, err)
	require.Len(t, synth, 1)
	assert.Equal(t, "tc2", synth[0].ToolCallID)

	var body synthesizedFailure
	require.NoError(t, json.Unmarshal([]byte(synth[0].Content), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "no_result", body.Error)

	// The invariant now holds.
	synth, err = h.EnsurePaired(config.PairingPolicySynthesize)
	require.NoError(t, err)
	assert.Empty(t, synth)
}

func TestEnsurePairedAbortPolicy(t *testing.T) {
	h := newHistory(1)
	require.True(t, h.Append(assistantWithCalls("tc1")))

	_, err := h.EnsurePaired(config.PairingPolicyAbort)
	require.Error(t, err)
	assert.True(t, mxerr.IsCode(err, mxerr.CodeToolPairingViolation))
}

func TestCompactKeepsTailAndPairs(t *testing.T) {
	cfg := config.DefaultConversationConfig()
	cfg.CompactionThreshold = 6
	cfg.CompactionKeep = 2
	h := NewHistory("agent-1", "ops", cfg)

	require.True(t, h.Append(userMsg("one")))
	require.True(t, h.Append(userMsg("two")))
	require.True(t, h.Append(userMsg("three")))
	require.True(t, h.Append(userMsg("four")))
	require.True(t, h.Append(assistantWithCalls("tc1")))
	require.True(t, h.Append(toolMsg("tc1", "ok")))
	require.True(t, h.Append(userMsg("five")))

	require.NoError(t, h.Compact(context.Background(), nil))

	msgs := h.Messages()
	// Summary + assistant/tool pair + trailing user message: the naive cut
	// would have split the pair, so the boundary moved left.
	require.Len(t, msgs, 4)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.True(t, msgs[0].Metadata.ContextSummary)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "tc1", msgs[2].ToolCallID)
	assert.Equal(t, "five", msgs[3].Content)
}

func TestCompactBelowThresholdIsNoop(t *testing.T) {
	h := newHistory(1)
	require.True(t, h.Append(userMsg("only")))

	require.NoError(t, h.Compact(context.Background(), nil))
	assert.Equal(t, 1, h.Len())
}

func TestCompactUsesSummarizer(t *testing.T) {
	cfg := config.DefaultConversationConfig()
	cfg.CompactionThreshold = 2
	cfg.CompactionKeep = 1
	h := NewHistory("agent-1", "ops", cfg)

	require.True(t, h.Append(userMsg("alpha")))
	require.True(t, h.Append(userMsg("beta")))
	require.True(t, h.Append(userMsg("gamma")))

	summarize := func(_ context.Context, msgs []models.ConversationMessage) (string, error) {
		return "custom summary", nil
	}
	require.NoError(t, h.Compact(context.Background(), summarize))

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "custom summary", msgs[0].Content)
	assert.Equal(t, "gamma", msgs[1].Content)
}
