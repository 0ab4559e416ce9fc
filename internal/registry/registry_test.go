package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/santa-tracker/santa-gateway/internal/backend"
	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	models    []backend.ModelInfo
	listErr   error
	listCalls atomic.Int32
	listDelay time.Duration

	mu        sync.Mutex
	failing   map[string]error
	generated []backend.GenerateRequest
}

func (f *fakeClient) Provider() configstore.ProviderType { return configstore.ProviderLocal }
func (f *fakeClient) BaseURL() string                    { return "http://fake" }
func (f *fakeClient) Capabilities() backend.Capabilities { return backend.Capabilities{} }

func (f *fakeClient) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	f.listCalls.Add(1)
	select {
	case <-time.After(f.listDelay):
	case <-ctx.Done():
		return nil, types.Wrap(types.ErrInternal, ctx.Err(), "backend list cancelled")
	}
	return f.models, f.listErr
}

func (f *fakeClient) Status(ctx context.Context) (*backend.Status, error) {
	return &backend.Status{Online: true}, nil
}

func (f *fakeClient) Generate(ctx context.Context, req backend.GenerateRequest) (*backend.GenerateResult, error) {
	f.mu.Lock()
	f.generated = append(f.generated, req)
	err := f.failing[req.Model]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &backend.GenerateResult{Text: "ok", Done: true}, nil
}

func (f *fakeClient) Pull(ctx context.Context, model string) (*backend.PullStream, error) {
	return nil, types.New(types.ErrNotSupported, "no")
}

func (f *fakeClient) Delete(ctx context.Context, model string) error { return nil }

func threeModels() []backend.ModelInfo {
	return []backend.ModelInfo{
		{Name: "llama3.2:latest", Size: 100},
		{Name: "mistral:7b", Size: 200},
		{Name: "phi3", Size: 300},
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "llama3.2", Normalize("llama3.2:latest"))
	assert.Equal(t, "phi3", Normalize("phi3"))
	assert.Equal(t, "", Normalize(":tag"))
}

func TestList(t *testing.T) {
	client := &fakeClient{models: threeModels()}
	reg := New(client, time.Second)

	entries, err := reg.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "llama3.2", entries[0].Name)
	assert.Equal(t, "llama3.2:latest", entries[0].FullName)
	assert.Equal(t, int64(200), entries[1].SizeBytes)
	assert.Nil(t, entries[0].Healthy, "not probed yet")
}

func TestListPropagatesBackendError(t *testing.T) {
	client := &fakeClient{listErr: types.New(types.ErrBackendUnavailable, "down")}
	reg := New(client, time.Second)

	_, err := reg.List(context.Background())
	assert.True(t, types.Is(err, types.ErrBackendUnavailable))
}

func TestListCoalescesConcurrentCalls(t *testing.T) {
	client := &fakeClient{models: threeModels(), listDelay: 100 * time.Millisecond}
	reg := New(client, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.List(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, int(client.listCalls.Load()), 5)
}

func TestListSharedCallSurvivesCallerCancel(t *testing.T) {
	client := &fakeClient{models: threeModels(), listDelay: 150 * time.Millisecond}
	reg := New(client, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := reg.List(ctx)
		first <- err
	}()

	time.Sleep(20 * time.Millisecond)
	second := make(chan error, 1)
	var entries []Entry
	go func() {
		var err error
		entries, err = reg.List(context.Background())
		second <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.Error(t, <-first, "cancelled caller returns early")
	require.NoError(t, <-second)
	assert.Len(t, entries, 3)
	assert.Equal(t, int32(1), client.listCalls.Load())
}

func TestExists(t *testing.T) {
	reg := New(&fakeClient{models: threeModels()}, time.Second)

	tests := []struct {
		name string
		want bool
	}{
		{"llama3.2", true},
		{"llama3.2:latest", true},
		{"mistral", true},
		{"phi3", true},
		{"nonexistent-model-xyz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := reg.Exists(context.Background(), tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestHealthCheckIsolatesFailures(t *testing.T) {
	client := &fakeClient{
		models:  threeModels(),
		failing: map[string]error{"mistral:7b": types.New(types.ErrTimeout, "backend generate timed out")},
	}
	reg := New(client, time.Second)

	results, err := reg.HealthCheck(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Healthy)
	assert.False(t, results[1].Healthy)
	assert.Equal(t, "mistral", results[1].Name)
	assert.Contains(t, results[1].Error, "timed out")
	assert.True(t, results[2].Healthy)

	for _, req := range client.generated {
		assert.Equal(t, 1, req.Params.MaxTokens)
		assert.Equal(t, probePrompt, req.Prompt)
	}

	entries, err := reg.List(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entries[1].Healthy)
	assert.False(t, *entries[1].Healthy, "last health result is remembered")
	assert.NotNil(t, entries[1].LastCheckedAt)
}

type cloudDocument struct{ cfg *configstore.Configuration }

func (d cloudDocument) Snapshot() *configstore.Configuration { return d.cfg }

func TestHealthCheckCloudModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		for _, m := range body.Messages {
			if m.Content == "" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":{"message":"content is required","type":"invalid_request_error"}}`)
				return
			}
		}
		fmt.Fprint(w, `{"id":"c","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hi"},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(srv.Close)

	cfg := configstore.DefaultConfiguration()
	cfg.AIProvider.Type = configstore.ProviderCloud
	cfg.AIProvider.AvailableModels = configstore.DefaultCloudModels()
	cfg.AIProvider.DefaultModel = cfg.AIProvider.AvailableModels[0].Name

	timeouts := backend.Timeouts{Status: time.Second, Generate: time.Second, Pull: time.Second, Delete: time.Second}
	client := backend.NewCloud(srv.URL, "gsk_test", cloudDocument{cfg}, timeouts)
	reg := New(client, time.Second)

	results, err := reg.HealthCheck(context.Background())
	require.NoError(t, err)
	require.Len(t, results, len(cfg.AIProvider.AvailableModels))
	for _, res := range results {
		assert.True(t, res.Healthy, "%s: %s", res.Name, res.Error)
	}
}
