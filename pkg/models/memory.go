package models

import (
	"sort"
	"strings"
	"time"
)

// MemoryScope classifies who may read and write a memory entry.
type MemoryScope string

const (
	ScopeAgent        MemoryScope = "agent"
	ScopeChannel      MemoryScope = "channel"
	ScopeShared       MemoryScope = "shared"
	ScopeRelationship MemoryScope = "relationship"
)

// IsValid reports whether the scope is one of the defined values.
func (s MemoryScope) IsValid() bool {
	switch s {
	case ScopeAgent, ScopeChannel, ScopeShared, ScopeRelationship:
		return true
	}
	return false
}

// MemoryEntry is a scoped key-value record. Owner identifies the scope
// instance: the agent id, channel id, normalized relationship pair, or
// "shared".
type MemoryEntry struct {
	Scope     MemoryScope       `json:"scope"`
	Owner     string            `json:"owner"`
	Key       string            `json:"key"`
	Value     string            `json:"value"`
	Type      string            `json:"type,omitempty"`
	AgentID   string            `json:"agentId,omitempty"`
	ChannelID string            `json:"channelId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Expired reports whether the entry has an expiry in the past.
func (e MemoryEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// RelationshipOwner returns the canonical owner string for a relationship
// scope. The pair is symmetric: (a,b) and (b,a) address the same entry.
func RelationshipOwner(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}
