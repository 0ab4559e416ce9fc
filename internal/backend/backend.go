// Package backend talks to the inference backend. Two variants share the
// Client interface: a local Ollama server reached over its native HTTP API
// and a cloud OpenAI-compatible chat-completions API.
package backend

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/santa-tracker/santa-gateway/internal/config"
	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/metrics"
	"github.com/santa-tracker/santa-gateway/internal/types"
)

// Operation names used in errors and metrics
const (
	OpList     = "list"
	OpStatus   = "status"
	OpGenerate = "generate"
	OpPull     = "pull"
	OpDelete   = "delete"
)

// Client is the capability set every backend variant offers. Variants
// report NotSupported for operations they cannot perform.
type Client interface {
	Provider() configstore.ProviderType
	BaseURL() string
	Capabilities() Capabilities

	ListModels(ctx context.Context) ([]ModelInfo, error)
	Status(ctx context.Context) (*Status, error)
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Pull(ctx context.Context, model string) (*PullStream, error)
	Delete(ctx context.Context, model string) error
}

// Capabilities lists the optional operations a variant supports
type Capabilities struct {
	Pull        bool `json:"pull"`
	Delete      bool `json:"delete"`
	Passthrough bool `json:"passthrough"`
	LiveListing bool `json:"liveListing"`
}

// ModelInfo is one model known to the backend
type ModelInfo struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
	Digest      string    `json:"digest,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Status reports backend liveness
type Status struct {
	Provider        configstore.ProviderType `json:"provider"`
	Online          bool                     `json:"online"`
	Version         string                   `json:"version,omitempty"`
	URL             string                   `json:"url"`
	CredentialValid *bool                    `json:"credentialValid,omitempty"`
}

// GenerateRequest is a single non-streaming generation
type GenerateRequest struct {
	Model  string
	Prompt string
	System string
	Params Params
}

// GenerateResult is the backend's answer
type GenerateResult struct {
	Text  string `json:"response"`
	Done  bool   `json:"done"`
	Usage *Usage `json:"usage,omitempty"`
}

// Usage holds token accounting when the backend reports it
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// PullProgress is one status line of a pull
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PullStream delivers progress lines until the backend closes the stream.
// Err receives at most one error and is closed after Progress.
type PullStream struct {
	Progress <-chan PullProgress
	Err      <-chan error
}

// Timeouts bound each backend call
type Timeouts struct {
	Status   time.Duration
	Generate time.Duration
	Pull     time.Duration
	Delete   time.Duration
}

// TimeoutsFrom converts the settings (seconds) into durations
func TimeoutsFrom(cfg config.TimeoutsConfig) Timeouts {
	return Timeouts{
		Status:   time.Duration(cfg.Status) * time.Second,
		Generate: time.Duration(cfg.Generate) * time.Second,
		Pull:     time.Duration(cfg.Pull) * time.Second,
		Delete:   time.Duration(cfg.Delete) * time.Second,
	}
}

// ModelSource supplies the configured model list to the cloud variant
type ModelSource interface {
	Snapshot() *configstore.Configuration
}

// New builds the variant for provider. The selection is fixed for the
// lifetime of the returned client.
func New(provider configstore.ProviderType, cfg config.BackendConfig, models ModelSource) Client {
	timeouts := TimeoutsFrom(cfg.Timeouts)
	if p, _ := provider.Normalize(); p == configstore.ProviderCloud {
		// chat completions answer faster than a cold local model
		if timeouts.Generate > 30*time.Second {
			timeouts.Generate = 30 * time.Second
		}
		return NewCloud(cfg.CloudURL, cfg.APIKey, models, timeouts)
	}
	return NewLocal(cfg.OllamaURL, timeouts)
}

// classify converts a transport failure into the uniform error kinds
func classify(op string, err error, unavailable string) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return types.Wrap(types.ErrTimeout, err, "backend %s timed out", op)
	case errors.Is(err, context.Canceled):
		return types.Wrap(types.ErrInternal, err, "backend %s cancelled", op)
	default:
		return types.Wrap(types.ErrBackendUnavailable, err, "%s", unavailable)
	}
}

// fail records the failure and returns it as an error
func fail(op string, e *types.Error) error {
	metrics.BackendError(op, e.Kind.String())
	return e
}

func notSupported(op string, provider configstore.ProviderType) error {
	return fail(op, types.New(types.ErrNotSupported, "%s is not supported by the %s backend", op, provider))
}
