package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelexchange/mxf/pkg/store"
)

// recorderInbox sizes the recorder's subscription. Persistence can lag
// briefly without pushing backpressure onto publishers.
const recorderInbox = 1024

// Recorder persists public events so monitors can catch up after a
// reconnect. Internal events are never recorded.
type Recorder struct {
	bus    *Bus
	events store.EventStore
	log    *slog.Logger
}

// NewRecorder creates a recorder. Call Run to start persisting.
func NewRecorder(b *Bus, events store.EventStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		bus:    b,
		events: events,
		log:    logger.With("component", "event_recorder"),
	}
}

// Run consumes the public stream until ctx is cancelled. Blocks; callers
// start it on a dedicated goroutine.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.bus.Subscribe(SubscribeOptions{
		PublicOnly: true,
		InboxSize:  recorderInbox,
	})
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			if env.ChannelID == "" {
				continue
			}
			raw, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if _, err := r.events.AppendEvent(ctx, env.ChannelID, env.Type, raw); err != nil {
				r.log.Warn("Failed to persist event",
					"event_type", env.Type, "channel_id", env.ChannelID, "error", err)
			}
		}
	}
}
