package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations)

	"github.com/modelexchange/mxf/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Postgres is the production Store backed by PostgreSQL via pgx.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the database, applies pending migrations, and
// returns a ready store.
//
// Migration files are embedded into the binary with go:embed so production
// deployments never depend on external SQL files.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool, log: logger.With("component", "store")}, nil
}

// runMigrations applies pending migrations using golang-migrate over the
// embedded migration files.
func runMigrations(databaseURL string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) PutMemory(ctx context.Context, entry models.MemoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_entries (scope, owner, key, value, type, agent_id, channel_id, metadata, tags, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (scope, owner, key) DO UPDATE SET
			value = EXCLUDED.value,
			type = EXCLUDED.type,
			metadata = EXCLUDED.metadata,
			tags = EXCLUDED.tags,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		entry.Scope, entry.Owner, entry.Key, entry.Value, entry.Type,
		entry.AgentID, entry.ChannelID, metadataOrEmpty(entry.Metadata), tagsOrEmpty(entry.Tags), entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to put memory entry: %w", err)
	}
	return nil
}

func (s *Postgres) GetMemory(ctx context.Context, scope models.MemoryScope, owner, key string) (*models.MemoryEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT scope, owner, key, value, type, agent_id, channel_id, metadata, tags, expires_at, updated_at
		FROM memory_entries
		WHERE scope = $1 AND owner = $2 AND key = $3
		  AND (expires_at IS NULL OR expires_at > now())`,
		scope, owner, key)

	var entry models.MemoryEntry
	err := row.Scan(&entry.Scope, &entry.Owner, &entry.Key, &entry.Value, &entry.Type,
		&entry.AgentID, &entry.ChannelID, &entry.Metadata, &entry.Tags, &entry.ExpiresAt, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("memory %s/%s/%s: %w", scope, owner, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory entry: %w", err)
	}
	return &entry, nil
}

func (s *Postgres) ListMemoryKeys(ctx context.Context, scope models.MemoryScope, owner string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key FROM memory_entries
		WHERE scope = $1 AND owner = $2
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY key`,
		scope, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan memory key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Postgres) DeleteMemory(ctx context.Context, scope models.MemoryScope, owner, key string) error {
	// Idempotent: deleting a missing entry succeeds.
	_, err := s.pool.Exec(ctx, `
		DELETE FROM memory_entries WHERE scope = $1 AND owner = $2 AND key = $3`,
		scope, owner, key)
	if err != nil {
		return fmt.Errorf("failed to delete memory entry: %w", err)
	}
	return nil
}

func (s *Postgres) SweepExpiredMemory(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired memory: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) CreateTask(ctx context.Context, task *models.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, channel_id, title, description, priority, status,
			assignee_agent_id, assigner_id, capabilities, progress, result, error,
			created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		task.TaskID, task.ChannelID, task.Title, task.Description, task.Priority, task.Status,
		task.AssigneeAgentID, task.AssignerID, tagsOrEmpty(task.Capabilities), task.Progress,
		task.Result, task.Error, task.CreatedAt, task.UpdatedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var task models.Task
	err := row.Scan(&task.TaskID, &task.ChannelID, &task.Title, &task.Description,
		&task.Priority, &task.Status, &task.AssigneeAgentID, &task.AssignerID,
		&task.Capabilities, &task.Progress, &task.Result, &task.Error,
		&task.CreatedAt, &task.UpdatedAt, &task.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

const taskColumns = `task_id, channel_id, title, description, priority, status,
	assignee_agent_id, assigner_id, capabilities, progress, result, error,
	created_at, updated_at, completed_at`

func (s *Postgres) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (s *Postgres) UpdateTask(ctx context.Context, task *models.Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, assignee_agent_id = $3, progress = $4,
			result = $5, error = $6, updated_at = $7, completed_at = $8
		WHERE task_id = $1`,
		task.TaskID, task.Status, task.AssigneeAgentID, task.Progress,
		task.Result, task.Error, task.UpdatedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", task.TaskID, ErrNotFound)
	}
	return nil
}

func (s *Postgres) ListTasks(ctx context.Context, channelID string, status models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE channel_id = $1`
	args := []any{channelID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *Postgres) ListAssignedTasks(ctx context.Context, agentID string) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE assignee_agent_id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assigned tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *Postgres) RecordExecution(ctx context.Context, rec models.CodeExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO code_executions (id, agent_id, channel_id, code_hash, language,
			success, execution_ms, memory_bytes, timed_out, error, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.AgentID, rec.ChannelID, rec.CodeHash, rec.Language,
		rec.Success, rec.ExecutionTime.Milliseconds(), rec.ResourceUsage.MemoryBytes,
		rec.ResourceUsage.Timeout, rec.Error, rec.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to record code execution: %w", err)
	}
	return nil
}

func (s *Postgres) ListExecutions(ctx context.Context, agentID string, limit int) ([]models.CodeExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, agent_id, channel_id, code_hash, language, success,
		execution_ms, memory_bytes, timed_out, error, executed_at
		FROM code_executions`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = $1 ORDER BY executed_at DESC LIMIT $2`
		args = append(args, agentID, limit)
	} else {
		query += ` ORDER BY executed_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list code executions: %w", err)
	}
	defer rows.Close()

	var out []models.CodeExecutionRecord
	for rows.Next() {
		var rec models.CodeExecutionRecord
		var execMS int64
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.ChannelID, &rec.CodeHash, &rec.Language,
			&rec.Success, &execMS, &rec.ResourceUsage.MemoryBytes, &rec.ResourceUsage.Timeout,
			&rec.Error, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan code execution: %w", err)
		}
		rec.ExecutionTime = time.Duration(execMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) AppendEvent(ctx context.Context, channelID, eventType string, envelope []byte) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events (channel_id, event_type, envelope) VALUES ($1, $2, $3)
		RETURNING id`,
		channelID, eventType, envelope).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	return id, nil
}

func (s *Postgres) EventsSince(ctx context.Context, channelID string, sinceID int64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, event_type, envelope, created_at
		FROM events WHERE channel_id = $1 AND id > $2
		ORDER BY id LIMIT $3`,
		channelID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.ID, &rec.ChannelID, &rec.EventType, &rec.Envelope, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) SweepExpiredEvents(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) GetAgentCredential(ctx context.Context, keyID string) (*AgentCredential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key_id, secret_key, agent_id, channel_id, revoked, created_at
		FROM agent_credentials WHERE key_id = $1`, keyID)

	var cred AgentCredential
	err := row.Scan(&cred.KeyID, &cred.SecretKey, &cred.AgentID, &cred.ChannelID, &cred.Revoked, &cred.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent credential %s: %w", keyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent credential: %w", err)
	}
	return &cred, nil
}

func (s *Postgres) PutAgentCredential(ctx context.Context, cred AgentCredential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_credentials (key_id, secret_key, agent_id, channel_id, revoked)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_id) DO UPDATE SET
			secret_key = EXCLUDED.secret_key,
			agent_id = EXCLUDED.agent_id,
			channel_id = EXCLUDED.channel_id,
			revoked = EXCLUDED.revoked`,
		cred.KeyID, cred.SecretKey, cred.AgentID, cred.ChannelID, cred.Revoked)
	if err != nil {
		return fmt.Errorf("failed to put agent credential: %w", err)
	}
	return nil
}

func (s *Postgres) RevokeAgentCredential(ctx context.Context, keyID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_credentials SET revoked = TRUE WHERE key_id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke agent credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent credential %s: %w", keyID, ErrNotFound)
	}
	return nil
}

func (s *Postgres) GetUserByToken(ctx context.Context, userID string) (*UserCredential, error) {
	return s.getUser(ctx, `user_id = $1`, userID)
}

func (s *Postgres) GetUserByName(ctx context.Context, username string) (*UserCredential, error) {
	return s.getUser(ctx, `username = $1`, username)
}

func (s *Postgres) getUser(ctx context.Context, where string, arg any) (*UserCredential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, token, username, password_hash, revoked, created_at
		FROM user_credentials WHERE `+where, arg)

	var user UserCredential
	err := row.Scan(&user.UserID, &user.Token, &user.Username, &user.PasswordHash, &user.Revoked, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *Postgres) PutUserCredential(ctx context.Context, cred UserCredential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_credentials (user_id, token, username, password_hash, revoked)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			token = EXCLUDED.token,
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			revoked = EXCLUDED.revoked`,
		cred.UserID, cred.Token, cred.Username, cred.PasswordHash, cred.Revoked)
	if err != nil {
		return fmt.Errorf("failed to put user credential: %w", err)
	}
	return nil
}

func (s *Postgres) RevokeUserCredential(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_credentials SET revoked = TRUE WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke user credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func tagsOrEmpty(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}
