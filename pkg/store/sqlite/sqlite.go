package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/store"
)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.Store = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		intent TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		code_executed TEXT NOT NULL DEFAULT '',
		stdout TEXT NOT NULL DEFAULT '',
		stderr TEXT NOT NULL DEFAULT '',
		session TEXT NOT NULL DEFAULT '{}',
		successful INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at);

	CREATE TABLE IF NOT EXISTS generations (
		request_id TEXT PRIMARY KEY,
		shape TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- ExecutionStore ---

func (s *Store) SaveExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	session := rec.Session
	if session == nil {
		session = map[string]any{}
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO executions (id, intent, code, code_executed, stdout, stderr, session, successful, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Intent, rec.Code, rec.CodeExecuted, rec.Stdout, rec.Stderr,
		string(sessionJSON), rec.Successful, rec.Duration.Milliseconds(), rec.CreatedAt,
	)
	return err
}

const executionColumns = `id, intent, code, code_executed, stdout, stderr, session, successful, duration_ms, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*domain.ExecutionRecord, error) {
	rec := &domain.ExecutionRecord{}
	var (
		sessionJSON string
		durationMS  int64
	)
	if err := row.Scan(&rec.ID, &rec.Intent, &rec.Code, &rec.CodeExecuted, &rec.Stdout, &rec.Stderr,
		&sessionJSON, &rec.Successful, &durationMS, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal([]byte(sessionJSON), &rec.Session); err != nil {
		return nil, fmt.Errorf("decode session of %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	rec, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
	}
	return rec, err
}

func (s *Store) ListExecutions(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY created_at DESC, rowid DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// --- GenerationStore ---

func (s *Store) SaveGeneration(ctx context.Context, rec *domain.GenerationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO generations (request_id, shape, prompt, response, last_error, attempts, succeeded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Shape, rec.Prompt, rec.Response, rec.LastError, rec.Attempts, rec.Succeeded, rec.CreatedAt,
	)
	return err
}

func (s *Store) ListGenerations(ctx context.Context, limit int) ([]domain.GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, shape, prompt, response, last_error, attempts, succeeded, created_at
		 FROM generations ORDER BY created_at DESC, rowid DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.GenerationRecord
	for rows.Next() {
		var rec domain.GenerationRecord
		if err := rows.Scan(&rec.RequestID, &rec.Shape, &rec.Prompt, &rec.Response, &rec.LastError,
			&rec.Attempts, &rec.Succeeded, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
