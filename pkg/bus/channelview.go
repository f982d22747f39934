package bus

import (
	"context"

	"github.com/modelexchange/mxf/pkg/models"
)

// ChannelView is an agent's channel-scoped handle on the bus. Outgoing
// emissions have the channel id injected; subscriptions are filtered to the
// channel automatically.
type ChannelView struct {
	bus       *Bus
	channelID string
	agentID   string
}

// ChannelView creates a channel-scoped view for the given agent.
func (b *Bus) ChannelView(channelID, agentID string) *ChannelView {
	return &ChannelView{bus: b, channelID: channelID, agentID: agentID}
}

// ChannelID returns the channel this view is bound to.
func (v *ChannelView) ChannelID() string { return v.channelID }

// AgentID returns the agent this view belongs to.
func (v *ChannelView) AgentID() string { return v.agentID }

// Emit publishes an event with the view's channel and agent identity
// injected. The caller's channelId, if any, is overwritten.
func (v *ChannelView) Emit(ctx context.Context, eventType string, payload any) error {
	env := models.NewEnvelope(eventType, v.channelID, v.agentID, payload)
	return v.bus.Publish(ctx, env)
}

// On subscribes to a topic pattern within the view's channel.
func (v *ChannelView) On(topics ...string) *Subscription {
	return v.bus.Subscribe(SubscribeOptions{
		Topics:    topics,
		ChannelID: v.channelID,
	})
}

// Monitor is a read-only observer of one channel's public events. It may
// not emit. Every whitelisted event with a matching channelId is delivered
// exactly once.
type Monitor struct {
	sub       *Subscription
	channelID string
}

// Monitor creates a read-only observer for the given channel.
func (b *Bus) Monitor(channelID string) *Monitor {
	return &Monitor{
		channelID: channelID,
		sub: b.Subscribe(SubscribeOptions{
			Topics:     []string{"*"},
			ChannelID:  channelID,
			PublicOnly: true,
		}),
	}
}

// ChannelID returns the observed channel.
func (m *Monitor) ChannelID() string { return m.channelID }

// Events returns the monitor's delivery channel.
func (m *Monitor) Events() <-chan models.Envelope { return m.sub.Events() }

// Done is closed when the monitor is cancelled.
func (m *Monitor) Done() <-chan struct{} { return m.sub.Done() }

// Close cancels the monitor. Idempotent.
func (m *Monitor) Close() { m.sub.Close() }
