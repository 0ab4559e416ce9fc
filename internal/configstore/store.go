package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/types"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// Where the in-memory document came from
const (
	SourceFile     = "file"
	SourceDefaults = "defaults"
)

var sectionName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Status describes the last load
type Status struct {
	Path     string    `json:"path"`
	Source   string    `json:"source"`
	Warning  string    `json:"warning,omitempty"`
	LoadedAt time.Time `json:"loadedAt"`
}

// Store serializes every read and write of the document file
type Store struct {
	mu     sync.RWMutex
	path   string
	raw    []byte
	status Status
}

// NewStore creates a store for the document at path. Nothing is read
// until the first Load.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		raw:    defaultRaw(),
		status: Status{Path: path, Source: SourceDefaults, LoadedAt: time.Now()},
	}
}

// Path returns the document location
func (s *Store) Path() string {
	return s.path
}

// Load re-reads the document from disk and returns it. It never fails:
// an absent file yields the defaults silently and an unreadable or
// malformed one yields the defaults with a warning.
func (s *Store) Load() *Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	return decode(s.raw)
}

// Snapshot returns the in-memory document without touching disk
func (s *Store) Snapshot() *Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return decode(s.raw)
}

// Raw re-reads the document and returns its bytes, unknown keys included
func (s *Store) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	out := make([]byte, len(s.raw))
	copy(out, s.raw)
	return out
}

// Status reports where the current document came from
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Save replaces the whole document
func (s *Store) Save(doc *Configuration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return types.Wrap(types.ErrInternal, err, "failed to encode configuration")
	}
	return s.SaveRaw(data)
}

// SaveRaw validates and persists a raw document. Nothing is written when
// validation fails.
func (s *Store) SaveRaw(data []byte) error {
	if !gjson.ValidBytes(data) {
		return types.New(types.ErrMalformedRequest, "Configuration is not valid JSON")
	}
	if ok, errs := Validate(data); !ok {
		return types.Invalid(errs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(data)
}

// GetSection returns one top-level section of the current document
func (s *Store) GetSection(name string) (json.RawMessage, error) {
	if !sectionName.MatchString(name) {
		return nil, types.New(types.ErrConfigNotFound, "Configuration section '%s' not found", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	r := gjson.GetBytes(s.raw, name)
	if !r.Exists() {
		return nil, types.New(types.ErrConfigNotFound, "Configuration section '%s' not found", name)
	}
	return json.RawMessage(r.Raw), nil
}

// SetSection replaces one top-level section and persists the document.
// The merged document must pass validation.
func (s *Store) SetSection(name string, value []byte) error {
	if !sectionName.MatchString(name) {
		return types.New(types.ErrMalformedRequest, "invalid section name %q", name)
	}
	if !gjson.ValidBytes(value) {
		return types.New(types.ErrMalformedRequest, "section value is not valid JSON")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	updated, err := sjson.SetRawBytes(s.raw, name, value)
	if err != nil {
		return types.Wrap(types.ErrInternal, err, "failed to update section %s", name)
	}
	if ok, errs := Validate(updated); !ok {
		return types.Invalid(errs)
	}
	return s.writeLocked(updated)
}

// SetDefaultModel persists name as aiProvider.defaultModel. The name must
// be one of the configured models.
func (s *Store) SetDefaultModel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	if _, ok := decode(s.raw).FindModel(name); !ok {
		return types.New(types.ErrModelNotFound, "Model '%s' not in available models", name)
	}

	return s.setDefaultLocked(s.raw, name)
}

// AdoptModel makes name the default model, appending a bare entry to
// availableModels first when the document does not list it yet. Used when
// the backend itself vouches for the model.
func (s *Store) AdoptModel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()
	data := s.raw
	if _, ok := decode(data).FindModel(name); !ok {
		var err error
		data, err = sjson.SetBytes(data, "aiProvider.availableModels.-1", ModelSpec{Name: name, DisplayName: name})
		if err != nil {
			return types.Wrap(types.ErrInternal, err, "failed to register model %s", name)
		}
	}
	return s.setDefaultLocked(data, name)
}

func (s *Store) setDefaultLocked(data []byte, name string) error {
	updated, err := sjson.SetBytes(data, "aiProvider.defaultModel", name)
	if err != nil {
		return types.Wrap(types.ErrInternal, err, "failed to update default model")
	}
	if ok, errs := Validate(updated); !ok {
		return types.Invalid(errs)
	}
	return s.writeLocked(updated)
}

// loadLocked refreshes s.raw from disk. Caller holds s.mu.
func (s *Store) loadLocked() {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.useDefaultsLocked("")
		return
	}
	if err != nil {
		s.useDefaultsLocked(fmt.Sprintf("cannot read %s: %v", s.path, err))
		return
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		s.useDefaultsLocked(fmt.Sprintf("%s is not a valid JSON object, using defaults", s.path))
		return
	}

	data, filled := fillMissing(data)
	var problems []string
	if len(filled) > 0 {
		problems = append(problems, "filled from defaults: "+strings.Join(filled, ", "))
	}
	if ok, errs := Validate(data); !ok {
		problems = append(problems, errs...)
	}

	s.raw = data
	s.setStatusLocked(SourceFile, strings.Join(problems, "; "))
}

func (s *Store) useDefaultsLocked(warning string) {
	s.raw = defaultRaw()
	s.setStatusLocked(SourceDefaults, warning)
}

func (s *Store) setStatusLocked(source, warning string) {
	if warning != "" && warning != s.status.Warning {
		logger.WithField("path", s.path).Warnf("Configuration problem: %s", warning)
	}
	s.status = Status{Path: s.path, Source: source, Warning: warning, LoadedAt: time.Now()}
}

// writeLocked persists data atomically via a temp file. Caller holds s.mu.
func (s *Store) writeLocked(data []byte) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return types.Wrap(types.ErrInternal, err, "failed to create config directory")
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, pretty.Pretty(data), 0644); err != nil {
		return types.Wrap(types.ErrInternal, err, "failed to write configuration")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return types.Wrap(types.ErrInternal, err, "failed to save configuration")
	}

	s.raw = data
	s.status = Status{Path: s.path, Source: SourceFile, LoadedAt: time.Now()}
	logger.WithField("path", s.path).Info("Configuration saved")
	return nil
}

// fillMissing adds absent required sections and prompt kinds from the
// defaults, returning the paths it filled.
func fillMissing(data []byte) ([]byte, []string) {
	defaults := defaultRaw()
	var filled []string

	for _, section := range RequiredSections {
		if gjson.GetBytes(data, section).Exists() {
			continue
		}
		updated, err := sjson.SetRawBytes(data, section, []byte(gjson.GetBytes(defaults, section).Raw))
		if err == nil {
			data = updated
			filled = append(filled, section)
		}
	}

	if !gjson.GetBytes(data, "prompts").IsObject() {
		return data, filled
	}
	for _, kind := range PromptKinds {
		path := "prompts." + string(kind)
		if gjson.GetBytes(data, path).Exists() {
			continue
		}
		updated, err := sjson.SetBytes(data, path, DefaultPrompt(kind))
		if err == nil {
			data = updated
			filled = append(filled, path)
		}
	}
	return data, filled
}

func defaultRaw() []byte {
	data, _ := json.Marshal(DefaultConfiguration())
	return data
}

// decode builds the typed view. Fields with the wrong JSON type are left
// at their zero value.
func decode(raw []byte) *Configuration {
	cfg := &Configuration{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return DefaultConfiguration()
		}
	}
	if cfg.Prompts == nil {
		cfg.Prompts = make(map[PromptKind]string)
	}
	return cfg
}
