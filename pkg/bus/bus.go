package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

// Bus routes envelopes from emitters to matching subscribers.
//
// Delivery is at-least-once within the process. Ordering is preserved per
// (emitter, channelId) because Publish runs synchronously on the emitter's
// goroutine; no cross-emitter ordering is guaranteed. A slow subscriber
// never blocks the others: droppable topics shed oldest deliveries, the
// rest block only up to EmitTimeout.
type Bus struct {
	cfg *config.BusConfig
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// New creates a bus with the given delivery tuning.
func New(cfg *config.BusConfig, logger *slog.Logger) *Bus {
	if cfg == nil {
		cfg = config.DefaultBusConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		cfg:  cfg,
		log:  logger.With("component", "bus"),
		subs: make(map[uint64]*Subscription),
	}
}

// Subscription is one subscriber's registration: topic patterns, optional
// channel filter, and a bounded inbox.
type Subscription struct {
	id        uint64
	topics    []string
	channelID string // "" matches any channel
	// publicOnly restricts delivery to whitelisted event types. Set for
	// transport-facing subscribers and channel monitors.
	publicOnly bool

	inbox chan models.Envelope
	bus   *Bus

	closeOnce sync.Once
	done      chan struct{}

	// dropped counts deliveries shed under backpressure, for diagnostics.
	mu      sync.Mutex
	dropped uint64
}

// Events returns the subscriber's delivery channel. The channel is never
// closed; consumers select on Done to observe cancellation, because emitters
// may still hold a delivery snapshot when the subscription is closed.
func (s *Subscription) Events() <-chan models.Envelope { return s.inbox }

// Done is closed when the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns the number of deliveries shed under backpressure.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close cancels the subscription. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.bus.remove(s.id)
	})
}

// SubscribeOptions configures a new subscription.
type SubscribeOptions struct {
	// Topics are patterns per MatchTopic. Empty means "*".
	Topics []string
	// ChannelID filters deliveries to one channel. "" matches any.
	ChannelID string
	// PublicOnly restricts delivery to whitelisted event types.
	PublicOnly bool
	// InboxSize overrides the bus default when > 0.
	InboxSize int
}

// Subscribe registers a subscriber and returns its subscription handle.
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscription {
	topics := opts.Topics
	if len(topics) == 0 {
		topics = []string{"*"}
	}
	size := opts.InboxSize
	if size <= 0 {
		size = b.cfg.InboxSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:         b.nextID,
		topics:     topics,
		channelID:  opts.ChannelID,
		publicOnly: opts.PublicOnly,
		inbox:      make(chan models.Envelope, size),
		bus:        b,
		done:       make(chan struct{}),
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers an envelope to every matching subscriber.
//
// Droppable topics (controlloop.*, memory.get_result) shed the oldest
// pending delivery when a subscriber's inbox is full. All other topics
// block per subscriber up to EmitTimeout; a timeout is reported as
// MESSAGE_SEND_FAILED but remaining subscribers are still served.
func (b *Bus) Publish(ctx context.Context, env models.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return mxerr.New(mxerr.CodeOperationFailed, "bus is closed")
	}
	// Snapshot matching subscribers under the read lock, deliver outside it.
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if b.matches(sub, env) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	var failed int
	for _, sub := range matched {
		if err := b.deliver(ctx, sub, env); err != nil {
			failed++
			b.log.Warn("Event delivery failed",
				"event_type", env.Type,
				"channel_id", env.ChannelID,
				"error", err)
		}
	}

	if failed > 0 && !droppable(env.Type) {
		return mxerr.Newf(mxerr.CodeMessageSendFailed,
			"delivery failed for %d of %d subscriber(s)", failed, len(matched))
	}
	return nil
}

func (b *Bus) matches(sub *Subscription, env models.Envelope) bool {
	if sub.publicOnly && !PublicEvent(env.Type) {
		return false
	}
	if sub.channelID != "" && sub.channelID != env.ChannelID {
		return false
	}
	for _, pattern := range sub.topics {
		if MatchTopic(pattern, env.Type) {
			return true
		}
	}
	return false
}

func (b *Bus) deliver(ctx context.Context, sub *Subscription, env models.Envelope) error {
	if droppable(env.Type) {
		select {
		case sub.inbox <- env:
			return nil
		case <-sub.done:
			return nil
		default:
		}
		// Inbox full: drop the oldest pending delivery to make room.
		select {
		case <-sub.inbox:
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
		default:
		}
		select {
		case sub.inbox <- env:
		case <-sub.done:
		default:
			// Lost the race with another emitter; this delivery is shed.
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
		}
		return nil
	}

	timer := time.NewTimer(b.cfg.EmitTimeout)
	defer timer.Stop()

	select {
	case sub.inbox <- env:
		return nil
	case <-sub.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("emit cancelled: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("subscriber inbox full after %s", b.cfg.EmitTimeout)
	}
}

// Close cancels all subscriptions and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
