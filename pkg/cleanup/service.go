// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/store"
)

// Service periodically enforces retention policies:
//   - Removes persisted events older than the event TTL
//   - Removes memory entries past their expiry
//
// All operations are idempotent and safe to run from multiple instances.
type Service struct {
	config *config.RetentionConfig
	events store.EventStore
	memory store.MemoryStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, events store.EventStore, memory store.MemoryStore) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	return &Service{
		config: cfg,
		events: events,
		memory: memory,
	}
}

// Start launches the background cleanup loops.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"event_ttl", s.config.EventTTL,
		"cleanup_interval", s.config.CleanupInterval,
		"memory_sweep_interval", s.config.MemorySweepInterval)
}

// Stop signals the cleanup loops to exit and waits for them to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweepEvents(ctx)
	s.sweepMemory(ctx)

	eventTicker := time.NewTicker(s.config.CleanupInterval)
	defer eventTicker.Stop()
	memoryTicker := time.NewTicker(s.config.MemorySweepInterval)
	defer memoryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-eventTicker.C:
			s.sweepEvents(ctx)
		case <-memoryTicker.C:
			s.sweepMemory(ctx)
		}
	}
}

func (s *Service) sweepEvents(ctx context.Context) {
	if s.events == nil {
		return
	}
	cutoff := time.Now().Add(-s.config.EventTTL)
	count, err := s.events.SweepExpiredEvents(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: event sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: removed expired events", "count", count)
	}
}

func (s *Service) sweepMemory(ctx context.Context) {
	if s.memory == nil {
		return
	}
	count, err := s.memory.SweepExpiredMemory(ctx, time.Now())
	if err != nil {
		slog.Error("Retention: memory sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: removed expired memory entries", "count", count)
	}
}
