// Package pull runs model downloads as detached, pollable tasks.
package pull

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/santa-tracker/santa-gateway/internal/backend"
	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/metrics"
	"github.com/santa-tracker/santa-gateway/internal/storage"
	"github.com/santa-tracker/santa-gateway/internal/types"
	"github.com/santa-tracker/santa-gateway/internal/websocket"
)

// State represents the state of a pull task
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s != StateRunning
}

// progressInterval throttles pull_progress events per task
const progressInterval = 500 * time.Millisecond

// Task is the pollable view of one pull
type Task struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	State      State      `json:"state"`
	LastStatus string     `json:"lastStatus"`
	Digest     string     `json:"digest,omitempty"`
	Total      int64      `json:"total,omitempty"`
	Completed  int64      `json:"completed,omitempty"`
	Progress   float64    `json:"progress"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type task struct {
	info      Task
	cancel    context.CancelFunc
	cancelled bool
	lastEmit  time.Time
	done      chan struct{}
}

// Options configures a Manager
type Options struct {
	// Dedupe returns the in-flight task when the same model is pulled twice
	Dedupe bool
	// KeepFinished bounds how many finished tasks stay in memory
	KeepFinished int
	// Store persists task records; nil keeps them in memory only
	Store storage.Store
	// Events receives pull_started, pull_progress and pull_finished
	Events websocket.Emitter
}

// Manager owns every pull task. Tasks run on their own goroutine and
// outlive the request that started them.
type Manager struct {
	client backend.Client
	opts   Options

	mu    sync.RWMutex
	tasks map[string]*task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a pull manager over client
func NewManager(client backend.Client, opts Options) *Manager {
	if opts.KeepFinished <= 0 {
		opts.KeepFinished = 50
	}
	if opts.Events == nil {
		opts.Events = websocket.Discard{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		client: client,
		opts:   opts,
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins pulling model and returns immediately. The second return
// value is true when an in-flight task for the same model was reused.
func (m *Manager) Start(model string) (Task, bool, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return Task{}, false, types.New(types.ErrMalformedRequest, "Model name is required")
	}
	if !m.client.Capabilities().Pull {
		return Task{}, false, types.New(types.ErrNotSupported, "Pull is not supported for %s provider", m.client.Provider())
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return Task{}, false, types.New(types.ErrInternal, "pull manager stopped")
	}
	if m.opts.Dedupe {
		for _, t := range m.tasks {
			if t.info.Model == model && t.info.State == StateRunning {
				info := t.info
				m.mu.Unlock()
				return info, true, nil
			}
		}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	t := &task{
		info: Task{
			ID:         uuid.New().String(),
			Model:      model,
			State:      StateRunning,
			LastStatus: "starting",
			StartedAt:  time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.tasks[t.info.ID] = t
	info := t.info
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.PullStateChanged("", string(StateRunning))
	m.persist(info)
	m.opts.Events.Emit(websocket.EventTypePullStarted, info)
	logger.WithField("model", model).WithField("task", info.ID).Info("Model pull started")

	go m.run(ctx, t)
	return info, false, nil
}

func (m *Manager) run(ctx context.Context, t *task) {
	defer m.wg.Done()
	defer close(t.done)
	defer t.cancel()

	stream, err := m.client.Pull(ctx, t.info.Model)
	if err != nil {
		m.finish(t, err)
		return
	}

	for p := range stream.Progress {
		m.update(t, p)
	}
	m.finish(t, <-stream.Err)
}

func (m *Manager) update(t *task, p backend.PullProgress) {
	m.mu.Lock()
	statusChanged := p.Status != "" && p.Status != t.info.LastStatus
	if p.Status != "" {
		t.info.LastStatus = p.Status
	}
	if p.Digest != "" {
		t.info.Digest = p.Digest
	}
	if p.Total > 0 {
		t.info.Total = p.Total
		t.info.Completed = p.Completed
		t.info.Progress = float64(p.Completed) / float64(p.Total) * 100
	}
	emit := statusChanged || time.Since(t.lastEmit) >= progressInterval
	if emit {
		t.lastEmit = time.Now()
	}
	info := t.info
	m.mu.Unlock()

	if statusChanged {
		logger.WithField("model", info.Model).Debugf("Pull status: %s", info.LastStatus)
		m.persist(info)
	}
	if emit {
		m.opts.Events.Emit(websocket.EventTypePullProgress, info)
	}
}

func (m *Manager) finish(t *task, err error) {
	now := time.Now()

	m.mu.Lock()
	switch {
	case t.cancelled:
		t.info.State = StateCancelled
		t.info.Error = "pull cancelled"
	case err != nil:
		t.info.State = StateFailed
		t.info.Error = types.NewEnvelope(err, "").Error
	default:
		t.info.State = StateSucceeded
		if t.info.Total > 0 {
			t.info.Progress = 100
		}
	}
	t.info.FinishedAt = &now
	info := t.info
	m.evictLocked()
	m.mu.Unlock()

	metrics.PullStateChanged(string(StateRunning), string(info.State))
	m.persist(info)
	m.opts.Events.Emit(websocket.EventTypePullFinished, info)

	entry := logger.WithField("model", info.Model).WithField("task", info.ID)
	switch info.State {
	case StateSucceeded:
		entry.Infof("Model pull finished in %s", now.Sub(info.StartedAt).Round(time.Millisecond))
	case StateCancelled:
		entry.Info("Model pull cancelled")
	default:
		entry.WithError(err).Warn("Model pull failed")
	}
}

// evictLocked drops the oldest finished tasks beyond KeepFinished
func (m *Manager) evictLocked() {
	var finished []*task
	for _, t := range m.tasks {
		if t.info.State.Terminal() {
			finished = append(finished, t)
		}
	}
	if len(finished) <= m.opts.KeepFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].info.FinishedAt.Before(*finished[j].info.FinishedAt)
	})
	for _, t := range finished[:len(finished)-m.opts.KeepFinished] {
		delete(m.tasks, t.info.ID)
	}
}

func (m *Manager) persist(info Task) {
	if m.opts.Store == nil {
		return
	}
	rec := &storage.PullRecord{
		ID:         info.ID,
		Model:      info.Model,
		State:      string(info.State),
		LastStatus: info.LastStatus,
		Error:      info.Error,
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
	}
	if err := m.opts.Store.SavePullRecord(context.Background(), rec); err != nil {
		logger.WithError(err).Warnf("Failed to persist pull task %s", info.ID)
	}
}

// Get returns the task with id. Tasks evicted from memory are served from
// the store when one is configured.
func (m *Manager) Get(ctx context.Context, id string) (Task, error) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	var info Task
	if ok {
		info = t.info
	}
	m.mu.RUnlock()
	if ok {
		return info, nil
	}

	if m.opts.Store != nil {
		rec, err := m.opts.Store.GetPullRecord(ctx, id)
		if err == nil {
			return fromRecord(rec), nil
		}
		if !errors.Is(err, storage.ErrPullRecordNotFound) {
			return Task{}, types.Wrap(types.ErrInternal, err, "load pull task")
		}
	}
	return Task{}, types.New(types.ErrTaskNotFound, "Pull task '%s' not found", id)
}

// List returns the in-memory tasks, newest first
func (m *Manager) List() []Task {
	m.mu.RLock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.info)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Cancel stops a running task. Cancelling a finished task is a no-op that
// returns its final state.
func (m *Manager) Cancel(id string) (Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return Task{}, types.New(types.ErrTaskNotFound, "Pull task '%s' not found", id)
	}
	if t.info.State.Terminal() {
		info := t.info
		m.mu.Unlock()
		return info, nil
	}
	t.cancelled = true
	t.cancel()
	done := t.done
	m.mu.Unlock()

	<-done

	m.mu.RLock()
	defer m.mu.RUnlock()
	return t.info, nil
}

// Stop cancels every running task and waits for them to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, t := range m.tasks {
		if !t.info.State.Terminal() {
			t.cancelled = true
		}
	}
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) wait(id string) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()
	if ok {
		<-t.done
	}
}

func fromRecord(rec *storage.PullRecord) Task {
	return Task{
		ID:         rec.ID,
		Model:      rec.Model,
		State:      State(rec.State),
		LastStatus: rec.LastStatus,
		Error:      rec.Error,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
}
