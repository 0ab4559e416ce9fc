// Package storage provides the persistence layer for pull task records and
// generation history, with an in-memory and a SQLite backend.
package storage

import (
	"context"
	"time"
)

// StorageType represents the type of storage backend
type StorageType string

const (
	StorageTypeMemory StorageType = "memory" // In-memory storage (ephemeral)
	StorageTypeSQLite StorageType = "sqlite" // SQLite file-based storage
)

// StorageConfig represents storage configuration
type StorageConfig struct {
	Type   StorageType   `mapstructure:"type" yaml:"type" json:"type"`
	SQLite *SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite" json:"sqlite,omitempty"`
}

// SQLiteConfig contains SQLite-specific configuration
type SQLiteConfig struct {
	Path      string            `mapstructure:"path" yaml:"path" json:"path"`
	Pragmas   map[string]string `mapstructure:"pragmas" yaml:"pragmas" json:"pragmas,omitempty"`
	EnableWAL bool              `mapstructure:"enable_wal" yaml:"enable_wal" json:"enableWAL"`
}

// PullRecord is the persisted view of a model pull task
type PullRecord struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	State      string     `json:"state"`
	LastStatus string     `json:"lastStatus"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// GenerationRecord is one successful generation
type GenerationRecord struct {
	ID         string    `json:"id"`
	PromptKind string    `json:"promptKind"`
	Model      string    `json:"model"`
	Response   string    `json:"response"`
	LatencyMs  int64     `json:"latencyMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store defines the storage interface
type Store interface {
	// Pull records are upserted by ID
	SavePullRecord(ctx context.Context, rec *PullRecord) error
	GetPullRecord(ctx context.Context, id string) (*PullRecord, error)
	ListPullRecords(ctx context.Context, limit int) ([]*PullRecord, error)

	// Generation history, newest first
	CreateGeneration(ctx context.Context, rec *GenerationRecord) error
	ListGenerations(ctx context.Context, limit, offset int) ([]*GenerationRecord, error)

	Close() error
}

// Manager manages the storage backend
type Manager struct {
	store  Store
	config *StorageConfig
}

// NewManager creates a new storage manager
func NewManager(config *StorageConfig) (*Manager, error) {
	mgr := &Manager{
		config: config,
	}

	var store Store
	var err error

	switch config.Type {
	case StorageTypeMemory, "":
		store, err = NewMemoryStore()
	case StorageTypeSQLite:
		if config.SQLite == nil {
			return nil, ErrMissingSQLiteConfig
		}
		store, err = NewSQLiteStore(config.SQLite)
	default:
		return nil, ErrInvalidStorageType
	}

	if err != nil {
		return nil, err
	}

	mgr.store = store
	return mgr, nil
}

// GetStore returns the underlying store
func (m *Manager) GetStore() Store {
	return m.store
}

// Type returns the configured backend type
func (m *Manager) Type() StorageType {
	if m.config.Type == "" {
		return StorageTypeMemory
	}
	return m.config.Type
}

// Close closes the storage manager
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

// Errors
var (
	ErrInvalidStorageType  = &StorageError{Code: "INVALID_TYPE", Message: "Invalid storage type"}
	ErrMissingSQLiteConfig = &StorageError{Code: "MISSING_CONFIG", Message: "Missing SQLite configuration"}
	ErrPullRecordNotFound  = &StorageError{Code: "NOT_FOUND", Message: "Pull record not found"}
)

// StorageError represents a storage error
type StorageError struct {
	Code    string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
