package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/advisor-chat/internal/domain"
	"github.com/ashureev/advisor-chat/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	tokenKey       = "bearer"
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to avoid SQLITE_BUSY under WAL
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers while the job runner writes.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS credentials (
		key TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id);

	CREATE TABLE IF NOT EXISTS chat_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS chat_jobs (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		status TEXT NOT NULL,
		content TEXT,
		error TEXT,
		speak INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_jobs_status ON chat_jobs(status);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// exec runs a write statement under the write mutex, retrying on SQLite conflicts.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := shared.RetryOnConflict(ctx, op, writeRetries, writeBaseDelay, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		var err error
		result, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// Token returns the stored bearer token, or "" when none is stored.
func (s *SQLiteStore) Token(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM credentials WHERE key = ?`, tokenKey).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

// SaveToken stores or replaces the bearer token.
func (s *SQLiteStore) SaveToken(ctx context.Context, token string) error {
	query := `
	INSERT INTO credentials (key, token, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		token = excluded.token,
		updated_at = excluded.updated_at`
	_, err := s.exec(ctx, "save token", query, tokenKey, token, time.Now().Unix())
	return err
}

// DeleteToken removes the stored token.
func (s *SQLiteStore) DeleteToken(ctx context.Context) error {
	_, err := s.exec(ctx, "delete token", `DELETE FROM credentials WHERE key = ?`, tokenKey)
	return err
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO chat_sessions (id, user_id, title, is_active, created_at)
	VALUES (?, ?, ?, ?, ?)`

	var title any
	if session.Title != nil {
		title = *session.Title
	}

	_, err := s.exec(ctx, "create session", query,
		session.ID, session.UserID, title, session.IsActive, session.CreatedAt.UnixMilli(),
	)
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT id, user_id, title, is_active, created_at FROM chat_sessions WHERE id = ?`

	var session domain.Session
	var title sql.NullString
	var createdAt int64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID, &session.UserID, &title, &session.IsActive, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if title.Valid {
		session.Title = &title.String
	}
	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &session, nil
}

// AppendMessage adds a message to a session's history.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.HistoryMessage) error {
	query := `
	INSERT INTO chat_messages (id, session_id, role, content, created_at)
	VALUES (?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, "append message", query,
		msg.ID, sessionID, msg.Role, msg.Content, msg.CreatedAt.UnixMilli(),
	)
	return err
}

// ListMessages returns a session's history in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	query := `
		SELECT id, role, content, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := make([]domain.HistoryMessage, 0)
	for rows.Next() {
		var msg domain.HistoryMessage
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// CreateJob inserts a reply job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
	INSERT INTO chat_jobs (message_id, session_id, user_id, prompt, status, content, error, speak, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, "create job", query,
		job.MessageID, job.SessionID, job.UserID, job.Prompt, string(job.Status),
		nullable(job.Content), nullable(job.Error), job.Speak,
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(),
	)
	return err
}

// GetJob retrieves a job by its message ID.
func (s *SQLiteStore) GetJob(ctx context.Context, messageID string) (*domain.Job, error) {
	query := `
		SELECT message_id, session_id, user_id, prompt, status, content, error, speak, created_at, updated_at
		FROM chat_jobs WHERE message_id = ?`

	var job domain.Job
	var status string
	var content, errText sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, messageID).Scan(
		&job.MessageID, &job.SessionID, &job.UserID, &job.Prompt, &status,
		&content, &errText, &job.Speak, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}

	job.Status = domain.JobStatus(status)
	if content.Valid {
		job.Content = &content.String
	}
	if errText.Valid {
		job.Error = &errText.String
	}
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &job, nil
}

// UpdateJob persists the job's status, content and error.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	query := `UPDATE chat_jobs SET status = ?, content = ?, error = ?, updated_at = ? WHERE message_id = ?`
	result, err := s.exec(ctx, "update job", query,
		string(job.Status), nullable(job.Content), nullable(job.Error), time.Now().UnixMilli(), job.MessageID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateJob affected 0 rows", "job_id", job.MessageID)
		return fmt.Errorf("job %s not found", job.MessageID)
	}
	return nil
}

// FailInterruptedJobs marks jobs that never finished as errored.
func (s *SQLiteStore) FailInterruptedJobs(ctx context.Context, reason string) (int64, error) {
	query := `UPDATE chat_jobs SET status = ?, error = ?, updated_at = ? WHERE status IN (?, ?)`
	result, err := s.exec(ctx, "fail interrupted jobs", query,
		string(domain.JobStatusError), reason, time.Now().UnixMilli(),
		string(domain.JobStatusPending), string(domain.JobStatusProcessing),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
