// Package proxy turns gateway requests into backend calls: it resolves the
// prompt, model and parameters from the configuration document, injects
// the private context and shapes the backend answer. It also owns the
// model lifecycle operations that update the document.
package proxy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/santa-tracker/santa-gateway/internal/backend"
	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/metrics"
	"github.com/santa-tracker/santa-gateway/internal/pull"
	"github.com/santa-tracker/santa-gateway/internal/registry"
	"github.com/santa-tracker/santa-gateway/internal/storage"
	"github.com/santa-tracker/santa-gateway/internal/types"
	"github.com/santa-tracker/santa-gateway/internal/websocket"
)

// ContextSource supplies the private preamble appended to the system message
type ContextSource interface {
	Preamble() string
}

// GenerateRequest is the body of POST /api/generate
type GenerateRequest struct {
	PromptKind string                 `json:"promptKind"`
	Context    map[string]interface{} `json:"context"`
	Model      string                 `json:"model,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// GenerationResult is returned by a successful generation
type GenerationResult struct {
	Response  string         `json:"response"`
	Model     string         `json:"model"`
	Done      bool           `json:"done"`
	Usage     *backend.Usage `json:"usage,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// SwitchResult acknowledges a model switch
type SwitchResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Model   string `json:"model"`
}

// Options wires the optional collaborators of a Proxy
type Options struct {
	Personalization ContextSource
	History         storage.Store
	Events          websocket.Emitter
}

// Proxy is the request-proxying layer
type Proxy struct {
	store    *configstore.Store
	client   backend.Client
	registry *registry.Registry
	pulls    *pull.Manager
	opts     Options
}

// New creates a proxy
func New(store *configstore.Store, client backend.Client, reg *registry.Registry, pulls *pull.Manager, opts Options) *Proxy {
	if opts.Events == nil {
		opts.Events = websocket.Discard{}
	}
	return &Proxy{
		store:    store,
		client:   client,
		registry: reg,
		pulls:    pulls,
		opts:     opts,
	}
}

// Client returns the backend the proxy talks to
func (p *Proxy) Client() backend.Client {
	return p.client
}

// Generate renders the prompt for req and asks the backend for an answer.
// Every failure is a *types.Error.
func (p *Proxy) Generate(ctx context.Context, req GenerateRequest) (*GenerationResult, error) {
	cfg := p.store.Load()
	kind := configstore.ParsePromptKind(req.PromptKind)
	prompt := Substitute(cfg.Template(kind), req.Context)

	spec, err := resolveModel(cfg, req.Model)
	if err != nil {
		metrics.ObserveGenerate(string(kind), req.Model, metrics.OutcomeError, 0)
		return nil, err
	}

	system := cfg.SystemPrompt()
	if p.opts.Personalization != nil {
		if preamble := p.opts.Personalization.Preamble(); preamble != "" {
			system += " " + preamble
		}
	}

	params := backend.ParamsFromMap(backend.MergeParams(spec.Parameters, req.Parameters))
	params.CapMaxTokens(spec.MaxTokens)

	start := time.Now()
	res, err := p.client.Generate(ctx, backend.GenerateRequest{
		Model:  spec.Name,
		Prompt: prompt,
		System: system,
		Params: params,
	})
	elapsed := time.Since(start)
	if err != nil {
		if _, ok := types.AsError(err); !ok {
			err = types.Wrap(types.ErrInternal, err, "generation failed")
		}
		metrics.ObserveGenerate(string(kind), spec.Name, metrics.OutcomeError, elapsed)
		logger.WithField("model", spec.Name).WithField("kind", kind).WithError(err).Warn("Generation failed")
		return nil, err
	}

	text := StripQuotes(strings.TrimSpace(res.Text))
	metrics.ObserveGenerate(string(kind), spec.Name, metrics.OutcomeSuccess, elapsed)
	logger.WithField("model", spec.Name).WithField("kind", kind).
		Debugf("Generated %d chars in %s", len(text), elapsed.Round(time.Millisecond))

	p.record(ctx, kind, spec.Name, text, elapsed)

	return &GenerationResult{
		Response:  text,
		Model:     spec.Name,
		Done:      true,
		Usage:     res.Usage,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func resolveModel(cfg *configstore.Configuration, override string) (*configstore.ModelSpec, error) {
	if override != "" {
		spec, ok := cfg.FindModel(override)
		if !ok {
			return nil, types.New(types.ErrModelNotFound, "Model '%s' not in available models", override)
		}
		return spec, nil
	}
	spec, ok := cfg.ResolveModel()
	if !ok {
		return nil, types.New(types.ErrNoModelConfigured, "No models configured")
	}
	return spec, nil
}

func (p *Proxy) record(ctx context.Context, kind configstore.PromptKind, model, text string, elapsed time.Duration) {
	if p.opts.History == nil {
		return
	}
	rec := &storage.GenerationRecord{
		PromptKind: string(kind),
		Model:      model,
		Response:   text,
		LatencyMs:  elapsed.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if err := p.opts.History.CreateGeneration(context.WithoutCancel(ctx), rec); err != nil {
		logger.WithError(err).Warn("Failed to record generation")
	}
}

// History lists recent generations, newest first
func (p *Proxy) History(ctx context.Context, limit, offset int) ([]*storage.GenerationRecord, error) {
	if p.opts.History == nil {
		return []*storage.GenerationRecord{}, nil
	}
	recs, err := p.opts.History.ListGenerations(ctx, limit, offset)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "list generation history")
	}
	return recs, nil
}

// CurrentModel returns aiProvider.defaultModel as currently persisted
func (p *Proxy) CurrentModel() string {
	return p.store.Load().AIProvider.DefaultModel
}

// SwitchModel makes name the default model. Backends with live listing
// must know the model; otherwise it must be in availableModels.
func (p *Proxy) SwitchModel(ctx context.Context, name string) (*SwitchResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.New(types.ErrMalformedRequest, "Model name is required")
	}

	if p.client.Capabilities().LiveListing {
		ok, err := p.registry.Exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, types.New(types.ErrModelNotFound, "Model '%s' not found", name)
		}
		if err := p.store.AdoptModel(name); err != nil {
			return nil, err
		}
	} else if err := p.store.SetDefaultModel(name); err != nil {
		return nil, err
	}

	logger.WithField("model", name).Info("Switched default model")
	p.opts.Events.Emit(websocket.EventTypeModelSwitched, map[string]string{"model": name})

	return &SwitchResult{
		Status:  "success",
		Message: fmt.Sprintf("Switched to model '%s'", name),
		Model:   name,
	}, nil
}

// PullModel starts a detached pull and returns its handle immediately
func (p *Proxy) PullModel(name string) (pull.Task, bool, error) {
	return p.pulls.Start(name)
}

// Pulls exposes the pull task manager
func (p *Proxy) Pulls() *pull.Manager {
	return p.pulls
}

// DeleteModel removes name from the backend
func (p *Proxy) DeleteModel(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.New(types.ErrMalformedRequest, "Model name is required")
	}
	if !p.client.Capabilities().Delete {
		return types.New(types.ErrNotSupported, "Delete is not supported for %s provider", p.client.Provider())
	}

	if err := p.client.Delete(ctx, name); err != nil {
		logger.WithField("model", name).WithError(err).Warn("Model delete failed")
		return &types.Error{
			Kind:    types.ErrDeleteFailed,
			Message: fmt.Sprintf("Failed to delete model '%s'", name),
			Details: []string{types.NewEnvelope(err, "").Error},
		}
	}

	logger.WithField("model", name).Info("Model deleted")
	p.opts.Events.Emit(websocket.EventTypeModelDeleted, map[string]string{"model": name})
	return nil
}
