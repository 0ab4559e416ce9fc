package personalization

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/websocket"
)

// reloadDelay coalesces the burst of events an editor save produces
const reloadDelay = 200 * time.Millisecond

// Supplier holds the current family profile and reloads it when the file
// changes. A missing or unreadable file means generic responses.
type Supplier struct {
	path   string
	events websocket.Emitter

	mu       sync.RWMutex
	profile  *Profile
	loadedAt time.Time

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSupplier loads the profile at path
func NewSupplier(path string, events websocket.Emitter) *Supplier {
	if events == nil {
		events = websocket.Discard{}
	}
	s := &Supplier{path: path, events: events}
	s.load()
	return s
}

// Path returns the profile location
func (s *Supplier) Path() string {
	return s.path
}

func (s *Supplier) load() *Profile {
	var profile *Profile

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Infof("%s not found, using generic responses", s.path)
	case err != nil:
		logger.WithError(err).Warnf("Failed to read family profile %s", s.path)
	default:
		profile, err = ParseProfile(data)
		if err != nil {
			logger.WithError(err).Warnf("Failed to parse family profile %s", s.path)
		} else {
			logger.WithField("family", orUnknown(profile.Family.LastName)).Info("Family profile loaded")
		}
	}

	s.mu.Lock()
	s.profile = profile
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return profile
}

// Reload re-reads the profile and reports whether one is present
func (s *Supplier) Reload() bool {
	profile := s.load()
	s.events.Emit(websocket.EventTypeFamilyReloaded, map[string]bool{"hasData": profile != nil})
	return profile != nil
}

// Context returns the profile facts, or "" without a profile
func (s *Supplier) Context() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Context()
}

// Preamble returns the private context to append to the system message
func (s *Supplier) Preamble() string {
	ctx := s.Context()
	if ctx == "" {
		return ""
	}
	return PreambleLead + ctx
}

// Summary returns the sanitised profile view
func (s *Supplier) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summarize(s.profile)
}

// Watch reloads the profile whenever the file is written, created, renamed
// or removed. The parent directory is watched so atomic replacements are
// noticed.
func (s *Supplier) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	s.watcher = watcher
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.watchLoop()

	logger.WithField("path", s.path).Debug("Watching family profile")
	return nil
}

func (s *Supplier) watchLoop() {
	defer s.wg.Done()

	target := filepath.Clean(s.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			s.Reload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("Family profile watcher error")
		}
	}
}

// Close stops watching
func (s *Supplier) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	s.watcher = nil
	return err
}
