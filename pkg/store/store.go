// Package store defines the persistent store contract for MXF and provides
// a PostgreSQL implementation plus an in-memory implementation used in
// tests and database-less deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/modelexchange/mxf/pkg/models"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness conflict.
	ErrAlreadyExists = errors.New("record already exists")
)

// AgentCredential is an agent's channel-bound key pair.
type AgentCredential struct {
	KeyID     string
	SecretKey string
	AgentID   string
	ChannelID string
	Revoked   bool
	CreatedAt time.Time
}

// UserCredential is a human principal: opaque token or username/password.
type UserCredential struct {
	UserID       string
	Token        string
	Username     string
	PasswordHash string
	Revoked      bool
	CreatedAt    time.Time
}

// EventRecord is a persisted public event, used for monitor catchup.
type EventRecord struct {
	ID        int64
	ChannelID string
	EventType string
	Envelope  []byte // JSON-encoded models.Envelope
	CreatedAt time.Time
}

// MemoryStore persists scoped memory entries. Put is atomic upsert keyed by
// (scope, owner, key). ListKeys returns keys only.
type MemoryStore interface {
	PutMemory(ctx context.Context, entry models.MemoryEntry) error
	GetMemory(ctx context.Context, scope models.MemoryScope, owner, key string) (*models.MemoryEntry, error)
	ListMemoryKeys(ctx context.Context, scope models.MemoryScope, owner string) ([]string, error)
	// DeleteMemory is idempotent: deleting a missing key is not an error.
	DeleteMemory(ctx context.Context, scope models.MemoryScope, owner, key string) error
	// SweepExpiredMemory removes entries past their expiry. Returns count removed.
	SweepExpiredMemory(ctx context.Context, now time.Time) (int, error)
}

// TaskStore persists tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	// ListTasks returns tasks in a channel, optionally filtered by status.
	ListTasks(ctx context.Context, channelID string, status models.TaskStatus) ([]*models.Task, error)
	// ListAssignedTasks returns non-terminal tasks assigned to an agent.
	ListAssignedTasks(ctx context.Context, agentID string) ([]*models.Task, error)
}

// CodeExecStore persists the immutable code-execution audit log.
type CodeExecStore interface {
	RecordExecution(ctx context.Context, rec models.CodeExecutionRecord) error
	ListExecutions(ctx context.Context, agentID string, limit int) ([]models.CodeExecutionRecord, error)
}

// EventStore persists public events for catchup and sweeps expired ones.
type EventStore interface {
	AppendEvent(ctx context.Context, channelID, eventType string, envelope []byte) (int64, error)
	// EventsSince returns up to limit events for a channel with id > sinceID.
	EventsSince(ctx context.Context, channelID string, sinceID int64, limit int) ([]EventRecord, error)
	SweepExpiredEvents(ctx context.Context, olderThan time.Time) (int, error)
}

// CredentialStore resolves and revokes principals.
type CredentialStore interface {
	GetAgentCredential(ctx context.Context, keyID string) (*AgentCredential, error)
	PutAgentCredential(ctx context.Context, cred AgentCredential) error
	RevokeAgentCredential(ctx context.Context, keyID string) error

	GetUserByToken(ctx context.Context, userID string) (*UserCredential, error)
	GetUserByName(ctx context.Context, username string) (*UserCredential, error)
	PutUserCredential(ctx context.Context, cred UserCredential) error
	RevokeUserCredential(ctx context.Context, userID string) error
}

// Store is the full persistence surface consumed by the server.
type Store interface {
	MemoryStore
	TaskStore
	CodeExecStore
	EventStore
	CredentialStore

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
	Close()
}
