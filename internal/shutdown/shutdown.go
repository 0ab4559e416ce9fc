// Package shutdown runs the gateway's shutdown hooks in priority order
// when a signal arrives or Stop is called.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/santa-tracker/santa-gateway/internal/logger"
)

// ShutdownHook represents a function that can be called during shutdown
type ShutdownHook func(ctx context.Context) error

// HookPriority defines the order in which hooks are executed
type HookPriority int

const (
	// PriorityCritical hooks run first (stop accepting requests)
	PriorityCritical HookPriority = 0
	// PriorityHigh hooks run second (stop background work)
	PriorityHigh HookPriority = 1
	// PriorityNormal hooks run third (close stores and watchers)
	PriorityNormal HookPriority = 2
	// PriorityLow hooks run last (flush logs)
	PriorityLow HookPriority = 3
)

type shutdownHook struct {
	name     string
	hook     ShutdownHook
	priority HookPriority
}

// Manager manages graceful shutdown
type Manager struct {
	mu          sync.RWMutex
	hooks       []shutdownHook
	timeout     time.Duration
	sigChan     chan os.Signal
	stopChan    chan struct{}
	shutdownCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
	shutdown    bool
}

// NewManager creates a shutdown manager. Each hook gets timeout to finish.
func NewManager(timeout time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		hooks:       make([]shutdownHook, 0),
		timeout:     timeout,
		sigChan:     make(chan os.Signal, 1),
		stopChan:    make(chan struct{}, 1),
		shutdownCtx: ctx,
		cancel:      cancel,
	}
}

// Register registers a hook. Hooks with the same priority run in
// registration order.
func (m *Manager) Register(name string, hook ShutdownHook, priority HookPriority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, shutdownHook{
		name:     name,
		hook:     hook,
		priority: priority,
	})

	logger.Debugf("Registered shutdown hook: %s (priority: %d)", name, priority)
}

// Start begins listening for shutdown signals
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	m.wg.Add(1)
	go m.waitForShutdown()
}

func (m *Manager) waitForShutdown() {
	defer m.wg.Done()
	defer signal.Stop(m.sigChan)

	select {
	case sig := <-m.sigChan:
		logger.Infof("Received signal: %v", sig)
	case <-m.stopChan:
		logger.Info("Shutdown requested")
	case <-m.shutdownCtx.Done():
		logger.Info("Shutdown context cancelled")
	}
	m.performShutdown()
}

// performShutdown executes all hooks in priority order
func (m *Manager) performShutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	hooks := make([]shutdownHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	logger.Info("Starting graceful shutdown...")

	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].priority < hooks[j].priority
	})

	for _, hook := range hooks {
		m.runHook(hook)
	}

	logger.Info("Graceful shutdown complete")
	m.cancel()
}

func (m *Manager) runHook(hook shutdownHook) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	logger.Debugf("Running shutdown hook: %s", hook.name)

	done := make(chan error, 1)
	go func() {
		done <- hook.hook(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Errorf("Shutdown hook %s failed: %v", hook.name, err)
		} else {
			logger.Debugf("Shutdown hook %s done", hook.name)
		}
	case <-ctx.Done():
		logger.Errorf("Shutdown hook %s timed out after %v", hook.name, m.timeout)
	}
}

// Stop triggers graceful shutdown programmatically
func (m *Manager) Stop() {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		return
	}

	select {
	case m.stopChan <- struct{}{}:
	default:
	}
}

// Context returns the shutdown context
func (m *Manager) Context() context.Context {
	return m.shutdownCtx
}

// Done returns a channel that's closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.shutdownCtx.Done()
}

// Wait blocks until shutdown is complete
func (m *Manager) Wait() {
	m.wg.Wait()
}
