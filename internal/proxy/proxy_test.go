package proxy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"

	"github.com/santa-tracker/santa-gateway/internal/backend"
	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/pull"
	"github.com/santa-tracker/santa-gateway/internal/registry"
	"github.com/santa-tracker/santa-gateway/internal/storage"
	"github.com/santa-tracker/santa-gateway/internal/types"
)

type fakeBackend struct {
	local     bool
	models    []backend.ModelInfo
	reply     string
	genErr    error
	deleteErr error

	mu       sync.Mutex
	requests []backend.GenerateRequest
	deleted  []string
}

func (f *fakeBackend) Provider() configstore.ProviderType {
	if f.local {
		return configstore.ProviderLocal
	}
	return configstore.ProviderCloud
}

func (f *fakeBackend) BaseURL() string { return "http://fake" }

func (f *fakeBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Pull: f.local, Delete: f.local, Passthrough: f.local, LiveListing: f.local}
}

func (f *fakeBackend) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	return f.models, nil
}

func (f *fakeBackend) Status(ctx context.Context) (*backend.Status, error) {
	return &backend.Status{Online: true}, nil
}

func (f *fakeBackend) Generate(ctx context.Context, req backend.GenerateRequest) (*backend.GenerateResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &backend.GenerateResult{Text: f.reply, Done: true, Usage: &backend.Usage{TotalTokens: 12}}, nil
}

func (f *fakeBackend) Pull(ctx context.Context, model string) (*backend.PullStream, error) {
	progress := make(chan backend.PullProgress)
	errCh := make(chan error)
	close(progress)
	close(errCh)
	return &backend.PullStream{Progress: progress, Err: errCh}, nil
}

func (f *fakeBackend) Delete(ctx context.Context, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, model)
	return f.deleteErr
}

func (f *fakeBackend) lastRequest(t *testing.T) backend.GenerateRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type staticPreamble string

func (s staticPreamble) Preamble() string { return string(s) }

func newProxy(t *testing.T, client *fakeBackend, opts Options) (*Proxy, *configstore.Store) {
	t.Helper()
	store := configstore.NewStore(filepath.Join(t.TempDir(), "santa-config.json"))
	reg := registry.New(client, time.Second)
	pulls := pull.NewManager(client, pull.Options{Dedupe: true})
	t.Cleanup(pulls.Stop)
	return New(store, client, reg, pulls, opts), store
}

func cloudConfig() *configstore.Configuration {
	cfg := configstore.DefaultConfiguration()
	cfg.AIProvider.Type = configstore.ProviderCloud
	cfg.AIProvider.AvailableModels = configstore.DefaultCloudModels()
	cfg.AIProvider.DefaultModel = "llama3-70b-8192"
	cfg.Prompts[configstore.PromptFinished] = "All done"
	return cfg
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]interface{}
		want     string
	}{
		{"context suffix resolves from short key", "Hello {{DISTANCE_CONTEXT}} world", map[string]interface{}{"distance": "5000 miles"}, "Hello 5000 miles world"},
		{"missing key collapses", "Hello {{DISTANCE_CONTEXT}} world", nil, "Hello  world"},
		{"exact key wins", "{{GIFTS_CONTEXT}}", map[string]interface{}{"GIFTS_CONTEXT": "exact", "gifts": "short"}, "exact"},
		{"numbers are formatted", "{{COUNT}} gifts", map[string]interface{}{"count": 42}, "42 gifts"},
		{"nil value collapses", "[{{X}}]", map[string]interface{}{"X": nil}, "[]"},
		{"no placeholders", "plain text", map[string]interface{}{"a": "b"}, "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.template, tt.vars))
		})
	}
}

func TestStripQuotes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"Ho ho ho!"`, "Ho ho ho!"},
		{`Ho ho ho! "Ha!"`, `Ho ho ho! "Ha!"`},
		{`"Ho" and "Ha"`, `"Ho" and "Ha"`},
		{"“Merry Christmas!”", "Merry Christmas!"},
		{`"`, `"`},
		{`""`, ""},
		{"no quotes", "no quotes"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, StripQuotes(tt.in))
		})
	}
}

func TestInferPromptKind(t *testing.T) {
	assert.Equal(t, configstore.PromptPreparing, InferPromptKind("Santa is PREPARING the sleigh"))
	assert.Equal(t, configstore.PromptFinished, InferPromptKind("Santa has finished"))
	assert.Equal(t, configstore.PromptDelivering, InferPromptKind("where is santa"))
}

func TestGenerate(t *testing.T) {
	client := &fakeBackend{reply: `"Ho ho ho!"`}
	store := storageMust(t)
	p, _ := newProxy(t, client, Options{Personalization: staticPreamble("PRIVATE CONTEXT: Rex the dog"), History: store})

	res, err := p.Generate(context.Background(), GenerateRequest{
		PromptKind: "delivering",
		Context:    map[string]interface{}{"distance": "5000 miles", "gifts": "1,000,000 gifts"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Ho ho ho!", res.Response)
	assert.Equal(t, "llama3.2", res.Model)
	assert.True(t, res.Done)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 12, res.Usage.TotalTokens)
	_, err = time.Parse(time.RFC3339, res.Timestamp)
	assert.NoError(t, err)

	req := client.lastRequest(t)
	assert.Equal(t, "llama3.2", req.Model)
	assert.Contains(t, req.Prompt, "5000 miles")
	assert.Contains(t, req.Prompt, "1,000,000 gifts")
	assert.NotContains(t, req.Prompt, "{{")
	assert.Equal(t, configstore.DefaultSystemPrompt+" PRIVATE CONTEXT: Rex the dog", req.System)
	require.NotNil(t, req.Params.Temperature)
	assert.Equal(t, 0.8, *req.Params.Temperature)
	assert.Equal(t, 150, req.Params.MaxTokens)

	history, err := p.History(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Ho ho ho!", history[0].Response)
	assert.Equal(t, "delivering", history[0].PromptKind)
}

func TestGenerateUnknownKindFallsBackToDelivering(t *testing.T) {
	client := &fakeBackend{reply: "ok"}
	p, store := newProxy(t, client, Options{})

	cfg := configstore.DefaultConfiguration()
	cfg.Prompts[configstore.PromptDelivering] = "Delivering {{DISTANCE_CONTEXT}}"
	require.NoError(t, store.Save(cfg))

	_, err := p.Generate(context.Background(), GenerateRequest{PromptKind: "teleporting"})
	require.NoError(t, err)
	assert.Equal(t, "Delivering ", client.lastRequest(t).Prompt)
}

func TestGenerateOverrides(t *testing.T) {
	client := &fakeBackend{reply: "ok"}
	p, store := newProxy(t, client, Options{})
	require.NoError(t, store.Save(cloudConfig()))

	_, err := p.Generate(context.Background(), GenerateRequest{
		PromptKind: "finished",
		Model:      "gemma-7b-it",
		Parameters: map[string]interface{}{"temperature": 0.2, "max_tokens": 40},
	})
	require.NoError(t, err)

	req := client.lastRequest(t)
	assert.Equal(t, "gemma-7b-it", req.Model)
	assert.Equal(t, "All done", req.Prompt)
	assert.Equal(t, 0.2, *req.Params.Temperature)
	assert.Equal(t, 40, req.Params.MaxTokens)

	_, err = p.Generate(context.Background(), GenerateRequest{Model: "nonexistent-model-xyz"})
	assert.True(t, types.Is(err, types.ErrModelNotFound))
}

func TestGenerateCapsOutputTokensAtModelLimit(t *testing.T) {
	client := &fakeBackend{reply: "ok"}
	p, store := newProxy(t, client, Options{})
	require.NoError(t, store.Save(cloudConfig()))

	_, err := p.Generate(context.Background(), GenerateRequest{
		Model:      "gemma-7b-it",
		Parameters: map[string]interface{}{"maxOutputTokens": 100000},
	})
	require.NoError(t, err)
	assert.Equal(t, 8192, client.lastRequest(t).Params.MaxTokens)
}

func TestGenerateFallsBackToFirstModel(t *testing.T) {
	client := &fakeBackend{reply: "ok"}
	p, store := newProxy(t, client, Options{})

	// an external edit can leave the default dangling
	require.NoError(t, store.Save(cloudConfig()))
	raw := store.Raw()
	require.NoError(t, writeRaw(store.Path(), replaceDefault(raw, "gone")))

	_, err := p.Generate(context.Background(), GenerateRequest{PromptKind: "preparing"})
	require.NoError(t, err)
	assert.Equal(t, "llama3-8b-8192", client.lastRequest(t).Model)
}

func TestGenerateWithoutModels(t *testing.T) {
	client := &fakeBackend{reply: "ok"}
	p, store := newProxy(t, client, Options{})

	require.NoError(t, writeRaw(store.Path(), []byte(`{
		"aiProvider": {"type": "local", "url": "http://localhost:11434", "defaultModel": "x", "availableModels": []},
		"prompts": {"preparing": "a", "delivering": "b", "finished": "c"},
		"server": {"port": 8000, "corsEnabled": true}
	}`)))

	_, err := p.Generate(context.Background(), GenerateRequest{})
	assert.True(t, types.Is(err, types.ErrNoModelConfigured))
}

func TestGenerateBackendFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorKind
	}{
		{"timeout", types.New(types.ErrTimeout, "backend generate timed out"), types.ErrTimeout},
		{"unavailable", types.New(types.ErrBackendUnavailable, "Ollama not available"), types.ErrBackendUnavailable},
		{"rejected", types.Rejected(500, "boom"), types.ErrBackendRejected},
		{"missing credential", types.New(types.ErrMissingCredential, "no key"), types.ErrMissingCredential},
		{"foreign error", assert.AnError, types.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeBackend{genErr: tt.err}
			history := storageMust(t)
			p, _ := newProxy(t, client, Options{History: history, Personalization: staticPreamble("secret family facts")})

			_, err := p.Generate(context.Background(), GenerateRequest{PromptKind: "delivering"})
			require.Error(t, err)
			assert.Equal(t, tt.want, types.KindOf(err))

			env := types.NewEnvelope(err, "")
			assert.NotContains(t, env.Error, "secret family facts")

			recs, err := history.ListGenerations(context.Background(), 10, 0)
			require.NoError(t, err)
			assert.Empty(t, recs, "failures are not recorded")
		})
	}
}

func TestGenerateReflectsExternalEdits(t *testing.T) {
	client := &fakeBackend{reply: "ok"}
	p, store := newProxy(t, client, Options{})

	cfg := configstore.DefaultConfiguration()
	cfg.Prompts[configstore.PromptPreparing] = "first"
	require.NoError(t, store.Save(cfg))
	_, err := p.Generate(context.Background(), GenerateRequest{PromptKind: "preparing"})
	require.NoError(t, err)
	assert.Equal(t, "first", client.lastRequest(t).Prompt)

	cfg.Prompts[configstore.PromptPreparing] = "second"
	other := configstore.NewStore(store.Path())
	require.NoError(t, other.Save(cfg))

	_, err = p.Generate(context.Background(), GenerateRequest{PromptKind: "preparing"})
	require.NoError(t, err)
	assert.Equal(t, "second", client.lastRequest(t).Prompt)
}

func TestSwitchModelCloud(t *testing.T) {
	client := &fakeBackend{reply: "ok"}
	p, store := newProxy(t, client, Options{})
	require.NoError(t, store.Save(cloudConfig()))

	_, err := p.SwitchModel(context.Background(), "nonexistent-model-xyz")
	assert.True(t, types.Is(err, types.ErrModelNotFound))
	assert.Equal(t, "llama3-70b-8192", p.CurrentModel(), "unchanged after a rejected switch")

	res, err := p.SwitchModel(context.Background(), "llama3-8b-8192")
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "Switched to model 'llama3-8b-8192'", res.Message)
	assert.Equal(t, "llama3-8b-8192", p.CurrentModel())

	_, err = p.Generate(context.Background(), GenerateRequest{PromptKind: "finished"})
	require.NoError(t, err)
	assert.Equal(t, "llama3-8b-8192", client.lastRequest(t).Model)

	_, err = p.SwitchModel(context.Background(), " ")
	assert.True(t, types.Is(err, types.ErrMalformedRequest))
}

func TestSwitchModelLocal(t *testing.T) {
	client := &fakeBackend{
		local:  true,
		reply:  "ok",
		models: []backend.ModelInfo{{Name: "llama3.2:latest"}, {Name: "mistral:7b"}},
	}
	p, store := newProxy(t, client, Options{})

	_, err := p.SwitchModel(context.Background(), "nonexistent-model-xyz")
	assert.True(t, types.Is(err, types.ErrModelNotFound))
	assert.Equal(t, "llama3.2", p.CurrentModel())

	_, err = p.SwitchModel(context.Background(), "mistral")
	require.NoError(t, err)
	assert.Equal(t, "mistral", p.CurrentModel())

	// the installed model is adopted into the document so the default stays listed
	cfg := store.Load()
	_, listed := cfg.FindModel("mistral")
	assert.True(t, listed)
	ok, errs := configstore.Validate(store.Raw())
	assert.True(t, ok, errs)
}

func TestDeleteModel(t *testing.T) {
	t.Run("local success", func(t *testing.T) {
		client := &fakeBackend{local: true}
		p, _ := newProxy(t, client, Options{})

		require.NoError(t, p.DeleteModel(context.Background(), "phi3"))
		assert.Equal(t, []string{"phi3"}, client.deleted)
	})

	t.Run("backend failure maps to DeleteFailed", func(t *testing.T) {
		client := &fakeBackend{local: true, deleteErr: types.Rejected(404, `{"error":"model not found"}`)}
		p, _ := newProxy(t, client, Options{})

		err := p.DeleteModel(context.Background(), "phi3")
		assert.True(t, types.Is(err, types.ErrDeleteFailed))
		env := types.NewEnvelope(err, "")
		assert.Equal(t, "Failed to delete model 'phi3'", env.Error)
		assert.NotEmpty(t, env.Details)
	})

	t.Run("cloud does not support delete", func(t *testing.T) {
		p, _ := newProxy(t, &fakeBackend{}, Options{})
		err := p.DeleteModel(context.Background(), "phi3")
		assert.True(t, types.Is(err, types.ErrNotSupported))
	})
}

func TestPullModel(t *testing.T) {
	t.Run("local starts a task", func(t *testing.T) {
		p, _ := newProxy(t, &fakeBackend{local: true}, Options{})

		task, _, err := p.PullModel("phi3")
		require.NoError(t, err)
		assert.Equal(t, "phi3", task.Model)
		assert.Equal(t, pull.StateRunning, task.State)

		require.Eventually(t, func() bool {
			got, err := p.Pulls().Get(context.Background(), task.ID)
			return err == nil && got.State == pull.StateSucceeded
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("cloud is not supported", func(t *testing.T) {
		p, _ := newProxy(t, &fakeBackend{}, Options{})
		_, _, err := p.PullModel("phi3")
		assert.True(t, types.Is(err, types.ErrNotSupported))
	})
}

func storageMust(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeRaw(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

func replaceDefault(raw []byte, name string) []byte {
	out, err := sjson.SetBytes(raw, "aiProvider.defaultModel", name)
	if err != nil {
		panic(err)
	}
	return out
}
