// Package models defines the wire and domain DTOs shared across MXF
// components: the event envelope, conversation messages, tool shapes,
// tasks, memory entries, and audit records.
package models

import (
	"encoding/json"
	"time"
)

// Envelope is the framed wire message exchanged over the duplex transport
// and carried internally by the event bus. Data holds the type-specific
// payload.
type Envelope struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channelId,omitempty"`
	AgentID   string          `json:"agentId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope builds an envelope with the payload marshaled into Data.
// Marshal failures produce a null Data rather than an error: envelope
// construction sits on hot paths where the payload types are our own.
func NewEnvelope(eventType, channelID, agentID string, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return Envelope{
		Type:      eventType,
		ChannelID: channelID,
		AgentID:   agentID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
