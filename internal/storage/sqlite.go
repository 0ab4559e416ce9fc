package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go SQLite driver, registers "sqlite"
)

// SQLiteStore implements Store interface with SQLite backend
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		return nil, ErrMissingSQLiteConfig
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{
		db:   db,
		path: config.Path,
	}

	if err := store.initSchema(config); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema(config *SQLiteConfig) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pull_tasks (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		state TEXT NOT NULL,
		last_status TEXT,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS generations (
		id TEXT PRIMARY KEY,
		prompt_kind TEXT NOT NULL,
		model TEXT NOT NULL,
		response TEXT NOT NULL,
		latency_ms INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pull_tasks_started ON pull_tasks(started_at);
	CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = memory",
	}
	if config.EnableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for key, value := range config.Pragmas {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %s = %s", key, value))
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return nil
}

// SavePullRecord inserts or replaces a pull record
func (s *SQLiteStore) SavePullRecord(ctx context.Context, rec *PullRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	var finished sql.NullInt64
	if rec.FinishedAt != nil {
		finished = sql.NullInt64{Int64: rec.FinishedAt.UnixMilli(), Valid: true}
	}

	query := `
	INSERT INTO pull_tasks (id, model, state, last_status, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		last_status = excluded.last_status,
		error = excluded.error,
		finished_at = excluded.finished_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Model,
		rec.State,
		rec.LastStatus,
		rec.Error,
		rec.StartedAt.UnixMilli(),
		finished,
	)
	if err != nil {
		return fmt.Errorf("failed to save pull record: %w", err)
	}
	return nil
}

// GetPullRecord retrieves a pull record by ID
func (s *SQLiteStore) GetPullRecord(ctx context.Context, id string) (*PullRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, model, state, last_status, error, started_at, finished_at
	FROM pull_tasks
	WHERE id = ?
	`

	rec, err := scanPullRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrPullRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pull record: %w", err)
	}
	return rec, nil
}

// ListPullRecords lists pull records, most recently started first
func (s *SQLiteStore) ListPullRecords(ctx context.Context, limit int) ([]*PullRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, model, state, last_status, error, started_at, finished_at
	FROM pull_tasks
	ORDER BY started_at DESC, rowid DESC
	LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list pull records: %w", err)
	}
	defer rows.Close()

	recs := []*PullRecord{}
	for rows.Next() {
		rec, err := scanPullRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pull record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPullRecord(row rowScanner) (*PullRecord, error) {
	var (
		rec        PullRecord
		lastStatus sql.NullString
		errText    sql.NullString
		started    int64
		finished   sql.NullInt64
	)

	if err := row.Scan(&rec.ID, &rec.Model, &rec.State, &lastStatus, &errText, &started, &finished); err != nil {
		return nil, err
	}

	rec.LastStatus = lastStatus.String
	rec.Error = errText.String
	rec.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// CreateGeneration inserts a generation record
func (s *SQLiteStore) CreateGeneration(ctx context.Context, rec *GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO generations (id, prompt_kind, model, response, latency_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.PromptKind,
		rec.Model,
		rec.Response,
		rec.LatencyMs,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create generation: %w", err)
	}
	return nil
}

// ListGenerations lists generation records, newest first
func (s *SQLiteStore) ListGenerations(ctx context.Context, limit, offset int) ([]*GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}

	query := `
	SELECT id, prompt_kind, model, response, latency_ms, created_at
	FROM generations
	ORDER BY created_at DESC, rowid DESC
	LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	recs := []*GenerationRecord{}
	for rows.Next() {
		var rec GenerationRecord
		var created int64
		if err := rows.Scan(&rec.ID, &rec.PromptKind, &rec.Model, &rec.Response, &rec.LatencyMs, &created); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
