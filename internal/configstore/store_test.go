package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/santa-tracker/santa-gateway/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "santa-config.json"))
}

func writeDoc(t *testing.T, s *Store, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0644))
}

func TestLoadAbsentFileUsesDefaults(t *testing.T) {
	s := newTestStore(t)

	cfg := s.Load()
	assert.Equal(t, "llama3.2", cfg.AIProvider.DefaultModel)
	assert.Equal(t, ProviderLocal, cfg.Provider())
	assert.Len(t, cfg.Prompts, 3)

	status := s.Status()
	assert.Equal(t, SourceDefaults, status.Source)
	assert.Empty(t, status.Warning)

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "load must not create the file")
}

func TestLoadMalformedFileUsesDefaultsWithWarning(t *testing.T) {
	s := newTestStore(t)
	writeDoc(t, s, `{"aiProvider": {`)

	cfg := s.Load()
	assert.Equal(t, "llama3.2", cfg.AIProvider.DefaultModel)

	status := s.Status()
	assert.Equal(t, SourceDefaults, status.Source)
	assert.NotEmpty(t, status.Warning)
}

func TestLoadFillsMissingPrompts(t *testing.T) {
	s := newTestStore(t)
	writeDoc(t, s, `{
		"aiProvider": {"type": "ollama", "url": "http://x", "defaultModel": "m", "availableModels": [{"name": "m"}]},
		"prompts": {"preparing": "custom"},
		"server": {"port": 8000, "corsEnabled": true},
		"extra": {"keep": true}
	}`)

	cfg := s.Load()
	assert.Equal(t, "custom", cfg.Prompts[PromptPreparing])
	assert.Equal(t, DefaultPrompt(PromptDelivering), cfg.Prompts[PromptDelivering])
	assert.Equal(t, DefaultPrompt(PromptFinished), cfg.Prompts[PromptFinished])
	assert.Equal(t, SourceFile, s.Status().Source)
	assert.Contains(t, s.Status().Warning, "prompts.delivering")

	assert.True(t, gjson.GetBytes(s.Raw(), "extra.keep").Bool(), "unknown keys survive")
}

func TestLoadReflectsExternalEdits(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DefaultConfiguration()))

	doc := DefaultConfiguration()
	doc.Prompts[PromptFinished] = "edited by hand"
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	writeDoc(t, s, string(data))

	assert.Equal(t, "edited by hand", s.Load().Prompts[PromptFinished])
}

func TestSaveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	doc := DefaultConfiguration()
	doc.AIProvider.AvailableModels = append(doc.AIProvider.AvailableModels, ModelSpec{Name: "mistral"})
	doc.AIProvider.DefaultModel = "mistral"

	require.NoError(t, s.Save(doc))

	reloaded := NewStore(s.Path()).Load()
	assert.Equal(t, "mistral", reloaded.AIProvider.DefaultModel)
	require.Len(t, reloaded.AIProvider.AvailableModels, 2)
	assert.Equal(t, "mistral", reloaded.AIProvider.AvailableModels[1].Name)
	assert.Equal(t, doc.Prompts, reloaded.Prompts)
	assert.Equal(t, doc.Server, reloaded.Server)

	_, err := os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestSaveInvalidLeavesFileUnchanged(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DefaultConfiguration()))
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	err = s.SaveRaw([]byte(`{"prompts": {}}`))
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrConfigInvalid))
	e, _ := types.AsError(err)
	assert.Contains(t, e.Details, "Missing required section: aiProvider")

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSaveRawRejectsBadJSON(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveRaw([]byte(`not json`))
	assert.True(t, types.Is(err, types.ErrMalformedRequest))
}

func TestGetSection(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DefaultConfiguration()))

	raw, err := s.GetSection("server")
	require.NoError(t, err)
	assert.JSONEq(t, `{"port": 8000, "corsEnabled": true}`, string(raw))

	_, err = s.GetSection("nope")
	assert.True(t, types.Is(err, types.ErrConfigNotFound))

	_, err = s.GetSection("aiProvider.url")
	assert.True(t, types.Is(err, types.ErrConfigNotFound), "paths are not section names")
}

func TestSetSection(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DefaultConfiguration()))

	require.NoError(t, s.SetSection("ui", []byte(`{"theme": "snow"}`)))
	raw, err := s.GetSection("ui")
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme": "snow"}`, string(raw))

	err = s.SetSection("prompts", []byte(`{"preparing": "only one"}`))
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrConfigInvalid))

	err = s.SetSection("server", []byte(`{bad`))
	assert.True(t, types.Is(err, types.ErrMalformedRequest))
}

func TestSetDefaultModel(t *testing.T) {
	s := newTestStore(t)
	doc := DefaultConfiguration()
	doc.AIProvider.AvailableModels = append(doc.AIProvider.AvailableModels, ModelSpec{Name: "phi3"})
	require.NoError(t, s.Save(doc))

	require.NoError(t, s.SetDefaultModel("phi3"))
	assert.Equal(t, "phi3", s.Load().AIProvider.DefaultModel)

	err := s.SetDefaultModel("gpt-9")
	assert.True(t, types.Is(err, types.ErrModelNotFound))
	assert.Equal(t, "phi3", s.Load().AIProvider.DefaultModel)
}

func TestAdoptModel(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DefaultConfiguration()))

	require.NoError(t, s.AdoptModel("mistral"))
	cfg := s.Load()
	assert.Equal(t, "mistral", cfg.AIProvider.DefaultModel)
	require.Len(t, cfg.AIProvider.AvailableModels, 2)
	assert.Equal(t, "mistral", cfg.AIProvider.AvailableModels[1].Name)

	require.NoError(t, s.AdoptModel("llama3.2"))
	assert.Len(t, s.Load().AIProvider.AvailableModels, 2, "known models are not duplicated")
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DefaultConfiguration()))

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			if i%2 == 0 {
				_ = s.SetSection("ui", []byte(`{"n": 1}`))
			} else {
				s.Load()
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	ok, errs := Validate(s.Raw())
	assert.True(t, ok, errs)
}

func TestConfigurationHelpers(t *testing.T) {
	cfg := DefaultConfiguration()

	spec, ok := cfg.ResolveModel()
	require.True(t, ok)
	assert.Equal(t, "llama3.2", spec.Name)

	cfg.AIProvider.DefaultModel = "missing"
	spec, ok = cfg.ResolveModel()
	require.True(t, ok)
	assert.Equal(t, "llama3.2", spec.Name, "falls back to first entry")

	cfg.AIProvider.AvailableModels = nil
	_, ok = cfg.ResolveModel()
	assert.False(t, ok)

	delete(cfg.Prompts, PromptFinished)
	assert.Equal(t, cfg.Prompts[PromptDelivering], cfg.Template(PromptFinished))
	assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt())

	assert.Equal(t, PromptDelivering, ParsePromptKind("whatever"))
	assert.Equal(t, PromptFinished, ParsePromptKind(" Finished "))
}

func TestProviderNormalize(t *testing.T) {
	tests := []struct {
		in   ProviderType
		want ProviderType
		ok   bool
	}{
		{"ollama", ProviderLocal, true},
		{"", ProviderLocal, true},
		{"local", ProviderLocal, true},
		{"groq", ProviderCloud, true},
		{"OpenAI", ProviderCloud, true},
		{"cloud", ProviderCloud, true},
		{"bard", "bard", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, ok := tt.in.Normalize()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
