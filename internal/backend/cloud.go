package backend

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/types"
)

const cloudUnavailable = "Cloud API not available"

// credentialProbeTokens bounds the completion used to validate the key
const credentialProbeTokens = 10

// CloudClient talks to an OpenAI-compatible chat-completions API
type CloudClient struct {
	client   *openai.Client
	baseURL  string
	apiKey   string
	models   ModelSource
	timeouts Timeouts
}

// NewCloud creates a client for the API at baseURL. An empty apiKey puts
// the client in degraded mode where every call fails with MissingCredential.
func NewCloud(baseURL, apiKey string, models ModelSource, timeouts Timeouts) *CloudClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{}

	return &CloudClient{
		client:   openai.NewClientWithConfig(cfg),
		baseURL:  cfg.BaseURL,
		apiKey:   apiKey,
		models:   models,
		timeouts: timeouts,
	}
}

// Provider returns the variant type
func (c *CloudClient) Provider() configstore.ProviderType { return configstore.ProviderCloud }

// BaseURL returns the API address
func (c *CloudClient) BaseURL() string { return c.baseURL }

// Capabilities reports that only generation is available
func (c *CloudClient) Capabilities() Capabilities {
	return Capabilities{}
}

// ListModels returns the statically configured models
func (c *CloudClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	specs := c.configuredModels()
	out := make([]ModelInfo, 0, len(specs))
	for _, m := range specs {
		out = append(out, ModelInfo{Name: m.Name, DisplayName: m.DisplayName, Description: m.Description})
	}
	return out, nil
}

// Status validates the API key with a minimal completion
func (c *CloudClient) Status(ctx context.Context) (*Status, error) {
	if c.apiKey == "" {
		return nil, fail(OpStatus, missingCredential())
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Status)
	defer cancel()

	_, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.probeModel(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hello"},
		},
		MaxTokens: credentialProbeTokens,
	})
	if err != nil {
		return nil, fail(OpStatus, classifyCloud(OpStatus, err))
	}

	valid := true
	return &Status{Provider: configstore.ProviderCloud, Online: true, URL: c.baseURL, CredentialValid: &valid}, nil
}

// Generate issues a chat completion with a system and a user message
func (c *CloudClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if c.apiKey == "" {
		return nil, fail(OpGenerate, missingCredential())
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Generate)
	defer cancel()

	// go-openai drops empty content, and a role-only message is rejected
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.Params.MaxTokens,
	}
	if req.Params.Temperature != nil {
		chatReq.Temperature = nonZero(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		chatReq.TopP = nonZero(*req.Params.TopP)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fail(OpGenerate, classifyCloud(OpGenerate, err))
	}
	if len(resp.Choices) == 0 {
		return nil, fail(OpGenerate, types.New(types.ErrBackendRejected, "Cloud API returned no choices"))
	}

	return &GenerateResult{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Done: true,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Pull is not offered by chat-completions APIs
func (c *CloudClient) Pull(ctx context.Context, model string) (*PullStream, error) {
	return nil, notSupported(OpPull, configstore.ProviderCloud)
}

// Delete is not offered by chat-completions APIs
func (c *CloudClient) Delete(ctx context.Context, model string) error {
	return notSupported(OpDelete, configstore.ProviderCloud)
}

func (c *CloudClient) configuredModels() []configstore.ModelSpec {
	if c.models != nil {
		if cfg := c.models.Snapshot(); len(cfg.AIProvider.AvailableModels) > 0 {
			return cfg.AIProvider.AvailableModels
		}
	}
	return configstore.DefaultCloudModels()
}

func (c *CloudClient) probeModel() string {
	if c.models != nil {
		if spec, ok := c.models.Snapshot().ResolveModel(); ok {
			return spec.Name
		}
	}
	return configstore.DefaultCloudModels()[0].Name
}

// nonZero keeps an explicit 0 on the wire; go-openai omits zero floats
func nonZero(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func missingCredential() *types.Error {
	return types.New(types.ErrMissingCredential, "no API key configured")
}

// classifyCloud separates credential rejections from other API errors
func classifyCloud(op string, err error) *types.Error {
	status, body := 0, ""

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, body = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status, body = reqErr.HTTPStatusCode, string(reqErr.Body)
		if body == "" && reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
	default:
		return classify(op, err, cloudUnavailable)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return types.Wrap(types.ErrInvalidCredential, err, "API key rejected")
	}
	if status == 0 {
		return classify(op, err, cloudUnavailable)
	}
	e := types.Rejected(status, body)
	e.Message = "Cloud API error: " + http.StatusText(status)
	return e
}
