// Package session tracks live transport sessions: the verified identity,
// subscribed channels, and the cancel hook that tears down in-flight work on
// disconnect.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/modelexchange/mxf/pkg/auth"
)

// Status represents the current state of a session
type Status string

const (
	StatusActive        Status = "active"
	StatusDisconnecting Status = "disconnecting"
	StatusClosed        Status = "closed"
)

// Session represents one authenticated duplex connection. Exactly one
// transport handle exists per session.
type Session struct {
	ID          string         `json:"id"`
	Identity    *auth.Identity `json:"-"`
	ConnectedAt time.Time      `json:"connected_at"`

	mu         sync.RWMutex
	status     Status
	channels   map[string]struct{}
	cancelFunc context.CancelFunc
}

// Status returns the session status (thread-safe)
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Subscribe records a channel subscription (thread-safe)
func (s *Session) Subscribe(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channelID] = struct{}{}
}

// Unsubscribe removes a channel subscription (thread-safe)
func (s *Session) Unsubscribe(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelID)
}

// SubscribedChannels returns a copy of the subscribed channel set
func (s *Session) SubscribedChannels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// SetCancelFunc stores the cancel function covering the session's in-flight
// work (thread-safe)
func (s *Session) SetCancelFunc(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelFunc = cancel
}

// Disconnect transitions the session to disconnecting and cancels pending
// work. Dispatches already handed to external processes run to completion.
// Returns false if the session was already past active.
func (s *Session) Disconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return false
	}
	s.status = StatusDisconnecting
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	return true
}

// MarkClosed finalizes the session after transport teardown.
func (s *Session) MarkClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusClosed
}
