// Package registry provides the in-memory view of the models the backend
// knows about, and per-model health probes.
package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/santa-tracker/santa-gateway/internal/backend"
	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/types"
)

// probePrompt is sent to each model by HealthCheck
const probePrompt = "Test"

// maxConcurrentProbes bounds parallel health probes
const maxConcurrentProbes = 4

// Entry is one listed model
type Entry struct {
	Name          string     `json:"name"`
	FullName      string     `json:"fullName"`
	DisplayName   string     `json:"displayName,omitempty"`
	Description   string     `json:"description,omitempty"`
	SizeBytes     int64      `json:"size"`
	LastModified  time.Time  `json:"modified_at"`
	Healthy       *bool      `json:"healthy,omitempty"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
}

// HealthResult is the outcome of probing one model
type HealthResult struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latencyMs"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Registry lists backend models. Entries are rebuilt on every call; only
// the last health result per model is remembered.
type Registry struct {
	client       backend.Client
	probeTimeout time.Duration

	flight singleflight.Group

	mu     sync.RWMutex
	health map[string]HealthResult
}

// New creates a registry over client
func New(client backend.Client, probeTimeout time.Duration) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	return &Registry{
		client:       client,
		probeTimeout: probeTimeout,
		health:       make(map[string]HealthResult),
	}
}

// Normalize drops the tag from a model name ("llama3.2:latest" -> "llama3.2")
func Normalize(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[:i]
	}
	return name
}

// List returns the backend's models with normalized names. Concurrent
// callers share one backend call, which runs detached from any single
// caller's cancellation and is bounded by the client's list timeout.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.flight.DoChan("list", func() (interface{}, error) {
		return r.client.ListModels(shared)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.Wrap(types.ErrTimeout, ctx.Err(), "model listing timed out")
		}
		return nil, types.Wrap(types.ErrInternal, ctx.Err(), "model listing cancelled")
	}
	if res.Err != nil {
		return nil, res.Err
	}

	models := res.Val.([]backend.ModelInfo)
	entries := make([]Entry, 0, len(models))

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range models {
		e := Entry{
			Name:         Normalize(m.Name),
			FullName:     m.Name,
			DisplayName:  m.DisplayName,
			Description:  m.Description,
			SizeBytes:    m.Size,
			LastModified: m.ModifiedAt,
		}
		if h, ok := r.health[e.Name]; ok {
			healthy, checked := h.Healthy, h.CheckedAt
			e.Healthy = &healthy
			e.LastCheckedAt = &checked
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Exists reports whether name matches a listed model, either by its
// normalized name or by its full tagged name.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name == name || e.FullName == name {
			return true, nil
		}
	}
	return false, nil
}

// HealthCheck probes every listed model with a one-token generation. A
// failing model never stops the others from being checked.
func (r *Registry) HealthCheck(ctx context.Context) ([]HealthResult, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]HealthResult, len(entries))
	var g errgroup.Group
	g.SetLimit(maxConcurrentProbes)
	for i, e := range entries {
		g.Go(func() error {
			results[i] = r.probe(ctx, e)
			return nil
		})
	}
	g.Wait()

	r.mu.Lock()
	for _, res := range results {
		r.health[res.Name] = res
	}
	r.mu.Unlock()

	return results, nil
}

func (r *Registry) probe(ctx context.Context, e Entry) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	start := time.Now()
	_, err := r.client.Generate(ctx, backend.GenerateRequest{
		Model:  e.FullName,
		Prompt: probePrompt,
		Params: backend.Params{MaxTokens: 1},
	})

	res := HealthResult{
		Name:      e.Name,
		Healthy:   err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
		CheckedAt: time.Now(),
	}
	if err != nil {
		res.Error = types.NewEnvelope(err, "").Error
		logger.WithField("model", e.FullName).WithError(err).Warn("Model health probe failed")
	}
	return res
}
