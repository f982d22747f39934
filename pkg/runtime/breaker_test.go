package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsPastThreshold(t *testing.T) {
	b := newLoopBreaker(2, nil)

	assert.True(t, b.allow("fetch", "aa"))
	assert.False(t, b.record("fetch", "aa"))
	assert.False(t, b.record("fetch", "aa"))
	// Third identical invocation exceeds threshold 2.
	assert.True(t, b.record("fetch", "aa"))
	assert.False(t, b.allow("fetch", "aa"))
	assert.True(t, b.anyTripped())

	// Different args for the same tool are a different pair.
	assert.True(t, b.allow("fetch", "bb"))
}

func TestBreakerExemptToolNeverTrips(t *testing.T) {
	b := newLoopBreaker(1, []string{"message_send"})
	for i := 0; i < 10; i++ {
		assert.True(t, b.allow("message_send", "aa"))
		assert.False(t, b.record("message_send", "aa"))
	}
	assert.False(t, b.anyTripped())
}

func TestBreakerProgressResets(t *testing.T) {
	b := newLoopBreaker(1, nil)
	b.record("fetch", "aa")
	assert.True(t, b.seen("fetch", "aa"))

	b.noteProgress()
	assert.False(t, b.seen("fetch", "aa"))
	assert.False(t, b.record("fetch", "aa"))
}

func TestBreakerWindowEvictsOldEntries(t *testing.T) {
	b := newLoopBreaker(3, nil)
	b.record("fetch", "aa")
	b.record("fetch", "aa")
	// Flood the window with other invocations so the early pair falls off.
	for i := 0; i < breakerWindow; i++ {
		b.record("other", string(rune('a'+i%26))+"x")
	}
	assert.False(t, b.seen("fetch", "aa"))
}

func TestCanonicalArgsHashStable(t *testing.T) {
	a := map[string]any{"key": "k", "scope": "agent", "n": 3}
	b := map[string]any{"n": 3, "scope": "agent", "key": "k"}
	assert.Equal(t, canonicalArgsHash(a), canonicalArgsHash(b))

	c := map[string]any{"key": "other", "scope": "agent", "n": 3}
	assert.NotEqual(t, canonicalArgsHash(a), canonicalArgsHash(c))

	assert.Equal(t, canonicalArgsHash(nil), canonicalArgsHash(map[string]any{}))
}

func TestInterpretToolCall(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantName string
		wantOK   bool
	}{
		{
			name:     "fenced json block",
			content:  "I should check memory.\n```json\n{\"tool\": \"memory_get\", \"arguments\": {\"key\": \"notes\"}}\n```",
			wantName: "memory_get",
			wantOK:   true,
		},
		{
			name:     "bare json object",
			content:  `{"name": "task_complete", "args": {"summary": "done"}}`,
			wantName: "task_complete",
			wantOK:   true,
		},
		{
			name:    "plain prose",
			content: "The answer is 42.",
			wantOK:  false,
		},
		{
			name:    "json without a tool name",
			content: `{"arguments": {"key": "notes"}}`,
			wantOK:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, ok := interpretToolCall(tt.content)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantName, tc.Name)
				assert.NotEmpty(t, tc.ID)
				assert.NotNil(t, tc.Arguments)
			}
		})
	}
}
