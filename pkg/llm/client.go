package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Client wraps an adapter with retry and a circuit breaker. One client per
// configured provider endpoint.
type Client struct {
	name    string
	adapter Adapter
	breaker *Breaker
	retry   retryPolicy
	log     *slog.Logger
}

// NewClient creates a client around an adapter.
func NewClient(name string, adapter Adapter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:    name,
		adapter: adapter,
		breaker: NewBreaker(0, 0),
		retry:   defaultRetryPolicy(),
		log:     logger.With("component", "llm", "provider", name),
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.name }

// Infer runs one inference through the breaker and retry loop.
func (c *Client) Infer(ctx context.Context, req *Request) (*Response, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	var resp *Response
	err := withRetry(ctx, c.retry, func() error {
		var inferErr error
		resp, inferErr = c.adapter.Infer(ctx, req)
		return inferErr
	})
	if err != nil {
		c.breaker.Failure()
		c.log.Warn("Inference failed", "model", req.Params.Model, "error", err)
		return nil, fmt.Errorf("inference via %s failed: %w", c.name, err)
	}

	c.breaker.Success()
	c.log.Debug("Inference complete",
		"model", req.Params.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"stop_reason", resp.StopReason)
	return resp, nil
}

// Registry holds one client per configured provider name.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register adds or replaces a client.
func (r *Registry) Register(name string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = c
}

// Get retrieves a client by provider name.
func (r *Registry) Get(name string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("LLM provider %q is not registered", name)
	}
	return c, nil
}

// Names returns every registered provider name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	return names
}
