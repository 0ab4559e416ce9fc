package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store interface with in-memory storage
type MemoryStore struct {
	mu          sync.RWMutex
	pulls       map[string]*PullRecord
	generations []*GenerationRecord // append order == creation order
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() (*MemoryStore, error) {
	return &MemoryStore{
		pulls: make(map[string]*PullRecord),
	}, nil
}

// SavePullRecord inserts or replaces a pull record
func (s *MemoryStore) SavePullRecord(ctx context.Context, rec *PullRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	recCopy := *rec
	s.pulls[rec.ID] = &recCopy
	return nil
}

// GetPullRecord retrieves a pull record by ID
func (s *MemoryStore) GetPullRecord(ctx context.Context, id string) (*PullRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.pulls[id]
	if !exists {
		return nil, ErrPullRecordNotFound
	}

	recCopy := *rec
	return &recCopy, nil
}

// ListPullRecords lists pull records, most recently started first
func (s *MemoryStore) ListPullRecords(ctx context.Context, limit int) ([]*PullRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*PullRecord, 0, len(s.pulls))
	for _, rec := range s.pulls {
		recCopy := *rec
		recs = append(recs, &recCopy)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].StartedAt.After(recs[j].StartedAt)
	})

	limit = normalizeLimit(limit)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// CreateGeneration appends a generation record
func (s *MemoryStore) CreateGeneration(ctx context.Context, rec *GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	recCopy := *rec
	s.generations = append(s.generations, &recCopy)
	return nil
}

// ListGenerations lists generation records, newest first
func (s *MemoryStore) ListGenerations(ctx context.Context, limit, offset int) ([]*GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = normalizeLimit(limit)
	if offset < 0 {
		offset = 0
	}

	recs := []*GenerationRecord{}
	for i := len(s.generations) - 1 - offset; i >= 0 && len(recs) < limit; i-- {
		recCopy := *s.generations[i]
		recs = append(recs, &recCopy)
	}
	return recs, nil
}

// Close releases nothing for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
