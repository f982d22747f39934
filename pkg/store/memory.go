package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/modelexchange/mxf/pkg/models"
)

// InMemory is a Store backed by process memory. Used by tests and by
// deployments running without a database; nothing survives a restart.
type InMemory struct {
	mu sync.RWMutex

	memories   map[string]models.MemoryEntry // key: scope|owner|key
	tasks      map[string]*models.Task
	executions []models.CodeExecutionRecord
	events     []EventRecord
	nextEvent  int64

	agentCreds map[string]AgentCredential
	users      map[string]UserCredential // by userID
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		memories:   make(map[string]models.MemoryEntry),
		tasks:      make(map[string]*models.Task),
		agentCreds: make(map[string]AgentCredential),
		users:      make(map[string]UserCredential),
	}
}

var _ Store = (*InMemory)(nil)

func memKey(scope models.MemoryScope, owner, key string) string {
	return string(scope) + "|" + owner + "|" + key
}

func (s *InMemory) PutMemory(_ context.Context, entry models.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.UpdatedAt = time.Now().UTC()
	s.memories[memKey(entry.Scope, entry.Owner, entry.Key)] = entry
	return nil
}

func (s *InMemory) GetMemory(_ context.Context, scope models.MemoryScope, owner, key string) (*models.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.memories[memKey(scope, owner, key)]
	if !ok || entry.Expired(time.Now()) {
		return nil, fmt.Errorf("memory %s/%s/%s: %w", scope, owner, key, ErrNotFound)
	}
	return &entry, nil
}

func (s *InMemory) ListMemoryKeys(_ context.Context, scope models.MemoryScope, owner string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var keys []string
	for _, entry := range s.memories {
		if entry.Scope == scope && entry.Owner == owner && !entry.Expired(now) {
			keys = append(keys, entry.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *InMemory) DeleteMemory(_ context.Context, scope models.MemoryScope, owner, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, memKey(scope, owner, key))
	return nil
}

func (s *InMemory) SweepExpiredMemory(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for k, entry := range s.memories {
		if entry.Expired(now) {
			delete(s.memories, k)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemory) CreateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.TaskID]; exists {
		return fmt.Errorf("task %s: %w", task.TaskID, ErrAlreadyExists)
	}
	cp := *task
	s.tasks[task.TaskID] = &cp
	return nil
}

func (s *InMemory) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	cp := *task
	return &cp, nil
}

func (s *InMemory) UpdateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.TaskID]; !ok {
		return fmt.Errorf("task %s: %w", task.TaskID, ErrNotFound)
	}
	cp := *task
	s.tasks[task.TaskID] = &cp
	return nil
}

func (s *InMemory) ListTasks(_ context.Context, channelID string, status models.TaskStatus) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, task := range s.tasks {
		if task.ChannelID != channelID {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) ListAssignedTasks(_ context.Context, agentID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, task := range s.tasks {
		if task.AssigneeAgentID == agentID && !task.Status.IsTerminal() {
			cp := *task
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) RecordExecution(_ context.Context, rec models.CodeExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, rec)
	return nil
}

func (s *InMemory) ListExecutions(_ context.Context, agentID string, limit int) ([]models.CodeExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CodeExecutionRecord
	for i := len(s.executions) - 1; i >= 0; i-- {
		if agentID != "" && s.executions[i].AgentID != agentID {
			continue
		}
		out = append(out, s.executions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) AppendEvent(_ context.Context, channelID, eventType string, envelope []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	s.events = append(s.events, EventRecord{
		ID:        s.nextEvent,
		ChannelID: channelID,
		EventType: eventType,
		Envelope:  append([]byte(nil), envelope...),
		CreatedAt: time.Now().UTC(),
	})
	return s.nextEvent, nil
}

func (s *InMemory) EventsSince(_ context.Context, channelID string, sinceID int64, limit int) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []EventRecord
	for _, rec := range s.events {
		if rec.ChannelID != channelID || rec.ID <= sinceID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) SweepExpiredEvents(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var removed int
	for _, rec := range s.events {
		if rec.CreatedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.events = kept
	return removed, nil
}

func (s *InMemory) GetAgentCredential(_ context.Context, keyID string) (*AgentCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.agentCreds[keyID]
	if !ok {
		return nil, fmt.Errorf("agent credential %s: %w", keyID, ErrNotFound)
	}
	return &cred, nil
}

func (s *InMemory) PutAgentCredential(_ context.Context, cred AgentCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	s.agentCreds[cred.KeyID] = cred
	return nil
}

func (s *InMemory) RevokeAgentCredential(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.agentCreds[keyID]
	if !ok {
		return fmt.Errorf("agent credential %s: %w", keyID, ErrNotFound)
	}
	cred.Revoked = true
	s.agentCreds[keyID] = cred
	return nil
}

func (s *InMemory) GetUserByToken(_ context.Context, userID string) (*UserCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return &user, nil
}

func (s *InMemory) GetUserByName(_ context.Context, username string) (*UserCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Username == username {
			u := user
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
}

func (s *InMemory) PutUserCredential(_ context.Context, cred UserCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	s.users[cred.UserID] = cred
	return nil
}

func (s *InMemory) RevokeUserCredential(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	user.Revoked = true
	s.users[userID] = user
	return nil
}

func (s *InMemory) Ping(context.Context) error { return nil }

func (s *InMemory) Close() {}
