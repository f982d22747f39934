package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/auth"
)

// Manager manages sessions in memory
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates a new session manager
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Create registers a session for a verified identity
func (m *Manager) Create(identity *auth.Identity) *Session {
	session := &Session{
		ID:          uuid.New().String(),
		Identity:    identity,
		ConnectedAt: time.Now(),
		status:      StatusActive,
		channels:    make(map[string]struct{}),
	}

	// Agent sessions are implicitly subscribed to their bound channel.
	if identity.Kind == auth.PrincipalAgent && identity.ChannelID != "" {
		session.channels[identity.ChannelID] = struct{}{}
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return session
}

// Get retrieves a session by ID
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	return session, nil
}

// List returns all live sessions
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	return sessions
}

// Remove deletes a session after transport teardown
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// AgentSession returns the live session for an agent id, if any.
func (m *Manager) AgentSession(agentID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.Identity != nil && s.Identity.AgentID == agentID && s.Status() == StatusActive {
			return s, true
		}
	}
	return nil, false
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
