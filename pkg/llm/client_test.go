package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

// fakeAdapter returns scripted responses and counts calls.
type fakeAdapter struct {
	calls int
	errs  []error
	resp  *Response
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Infer(_ context.Context, _ *Request) (*Response, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &Response{
		Message: models.ConversationMessage{Role: models.RoleAssistant, Content: "ok"},
		Usage:   models.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func fastRetryClient(adapter Adapter) *Client {
	c := NewClient("fake", adapter, nil)
	c.retry = retryPolicy{maxAttempts: 3, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}
	return c
}

func TestInferRetriesTransientFailure(t *testing.T) {
	adapter := &fakeAdapter{errs: []error{
		errors.New("503 service unavailable"),
		errors.New("rate_limit exceeded"),
	}}
	c := fastRetryClient(adapter)

	resp, err := c.Infer(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, 3, adapter.calls)
}

func TestInferDoesNotRetryPermanentFailure(t *testing.T) {
	adapter := &fakeAdapter{errs: []error{errors.New("401 invalid api key")}}
	c := fastRetryClient(adapter)

	_, err := c.Infer(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, 1, adapter.calls)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Hour)
	for range 3 {
		require.NoError(t, b.Allow())
		b.Failure()
	}

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, mxerr.IsCode(err, mxerr.CodeCircuitOpen))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	require.NoError(t, b.Allow())
	b.Failure()
	require.Error(t, b.Allow())

	time.Sleep(20 * time.Millisecond)

	// Cooldown elapsed: one probe goes through.
	require.NoError(t, b.Allow())
	// Probe failure reopens immediately.
	b.Failure()
	require.Error(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.Success()
	require.NoError(t, b.Allow())
}

func TestIsRetryableClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limit", errors.New("429 too many requests"), true},
		{"server error", errors.New("internal server error"), true},
		{"overloaded", errors.New("anthropic: overloaded_error"), true},
		{"timeout", errors.New("context deadline exceeded"), true},
		{"connection", errors.New("dial tcp: connection refused"), true},
		{"auth", errors.New("invalid x-api-key"), false},
		{"validation", errors.New("400 bad request"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryable(tt.err))
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("primary", fastRetryClient(&fakeAdapter{}))

	c, err := r.Get("primary")
	require.NoError(t, err)
	assert.Equal(t, "fake", c.adapter.Name())

	_, err = r.Get("missing")
	assert.Error(t, err)
}
