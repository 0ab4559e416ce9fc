package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/types"
	"github.com/tidwall/gjson"
)

const localUnavailable = "Ollama not available"

// LocalClient wraps the Ollama HTTP API
type LocalClient struct {
	baseURL    string
	httpClient *http.Client
	timeouts   Timeouts
}

// NewLocal creates a client for the Ollama server at baseURL
func NewLocal(baseURL string, timeouts Timeouts) *LocalClient {
	return &LocalClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// per-call deadlines come from the context; pulls stream for minutes
		httpClient: &http.Client{},
		timeouts:   timeouts,
	}
}

// Provider returns the variant type
func (c *LocalClient) Provider() configstore.ProviderType { return configstore.ProviderLocal }

// BaseURL returns the Ollama address
func (c *LocalClient) BaseURL() string { return c.baseURL }

// Capabilities reports the full capability set
func (c *LocalClient) Capabilities() Capabilities {
	return Capabilities{Pull: true, Delete: true, Passthrough: true, LiveListing: true}
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ListModels returns the models installed in Ollama
func (c *LocalClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Status)
	defer cancel()

	var resp tagsResponse
	if err := c.getJSON(ctx, OpList, "/api/tags", &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Status asks Ollama for its version
func (c *LocalClient) Status(ctx context.Context) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Status)
	defer cancel()

	var v struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, OpStatus, "/api/version", &v); err != nil {
		return nil, err
	}
	if v.Version == "" {
		v.Version = "unknown"
	}
	return &Status{Provider: configstore.ProviderLocal, Online: true, Version: v.Version, URL: c.baseURL}, nil
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate runs a non-streaming generation
func (c *LocalClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Generate)
	defer cancel()

	body, err := c.do(ctx, OpGenerate, http.MethodPost, "/api/generate", generateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  false,
		Options: req.Params.ollamaOptions(),
	})
	if err != nil {
		return nil, err
	}

	if !gjson.GetBytes(body, "response").Exists() {
		e := types.New(types.ErrBackendRejected, "Ollama response has no output")
		e.Status = http.StatusOK
		e.Body = truncate(string(body), 512)
		return nil, fail(OpGenerate, e)
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fail(OpGenerate, types.Wrap(types.ErrBackendRejected, err, "failed to decode Ollama response"))
	}

	result := &GenerateResult{Text: resp.Response, Done: resp.Done}
	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		result.Usage = &Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		}
	}
	return result, nil
}

// Pull starts a model pull and streams its progress. The returned stream
// ends when Ollama closes the response, ctx is cancelled or the pull
// timeout elapses.
func (c *LocalClient) Pull(ctx context.Context, model string) (*PullStream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Pull)

	resp, err := c.send(ctx, http.MethodPost, "/api/pull", map[string]interface{}{"name": model, "stream": true})
	if err != nil {
		cancel()
		return nil, fail(OpPull, classify(OpPull, err, localUnavailable))
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, fail(OpPull, rejected(resp))
	}

	progress := make(chan PullProgress)
	errCh := make(chan error, 1)

	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(errCh)
		defer close(progress)

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var p PullProgress
			if err := json.Unmarshal(line, &p); err != nil {
				continue
			}
			if p.Error != "" {
				errCh <- fail(OpPull, types.New(types.ErrBackendRejected, "Ollama pull failed: %s", p.Error))
				return
			}
			select {
			case progress <- p:
			case <-ctx.Done():
				errCh <- classify(OpPull, ctx.Err(), localUnavailable)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fail(OpPull, classify(OpPull, err, localUnavailable))
			return
		}
		if ctx.Err() != nil {
			errCh <- classify(OpPull, ctx.Err(), localUnavailable)
		}
	}()

	return &PullStream{Progress: progress, Err: errCh}, nil
}

// Delete removes a model from Ollama. Success is HTTP 200.
func (c *LocalClient) Delete(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Delete)
	defer cancel()

	_, err := c.do(ctx, OpDelete, http.MethodDelete, "/api/delete", map[string]string{"name": model})
	return err
}

func (c *LocalClient) getJSON(ctx context.Context, op, path string, out interface{}) error {
	body, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fail(op, types.Wrap(types.ErrBackendRejected, err, "failed to decode Ollama response"))
	}
	return nil
}

// do sends a request and returns the body of a 200 response
func (c *LocalClient) do(ctx context.Context, op, method, path string, payload interface{}) ([]byte, error) {
	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return nil, fail(op, classify(op, err, localUnavailable))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fail(op, rejected(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(op, classify(op, err, localUnavailable))
	}
	return body, nil
}

func (c *LocalClient) send(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// rejected reads an error response into a BackendRejected error
func rejected(resp *http.Response) *types.Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	e := types.Rejected(resp.StatusCode, strings.TrimSpace(string(data)))
	e.Message = fmt.Sprintf("Ollama HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
