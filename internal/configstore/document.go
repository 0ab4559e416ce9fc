// Package configstore owns the gateway's JSON configuration document: AI
// provider settings, prompt templates, server options and opaque front-end
// flags. The persisted bytes are the source of truth so keys the gateway
// does not model survive every edit.
package configstore

import (
	"strings"
)

// PromptKind selects a prompt template
type PromptKind string

const (
	PromptPreparing  PromptKind = "preparing"
	PromptDelivering PromptKind = "delivering"
	PromptFinished   PromptKind = "finished"
)

// PromptKinds lists every kind in display order
var PromptKinds = []PromptKind{PromptPreparing, PromptDelivering, PromptFinished}

// ParsePromptKind maps an arbitrary string to a kind. Unknown values fall
// back to delivering.
func ParsePromptKind(s string) PromptKind {
	switch PromptKind(strings.ToLower(strings.TrimSpace(s))) {
	case PromptPreparing:
		return PromptPreparing
	case PromptFinished:
		return PromptFinished
	default:
		return PromptDelivering
	}
}

// ProviderType selects the backend variant
type ProviderType string

const (
	ProviderLocal ProviderType = "local"
	ProviderCloud ProviderType = "cloud"
)

// Normalize maps legacy provider names onto the two variants. The second
// result is false for names no variant accepts.
func (p ProviderType) Normalize() (ProviderType, bool) {
	switch strings.ToLower(strings.TrimSpace(string(p))) {
	case "", "local", "ollama":
		return ProviderLocal, true
	case "cloud", "groq", "openai":
		return ProviderCloud, true
	default:
		return p, false
	}
}

// Configuration is the typed view of the document
type Configuration struct {
	AIProvider AIProvider             `json:"aiProvider"`
	Prompts    map[PromptKind]string  `json:"prompts"`
	Server     ServerSection          `json:"server"`
	UI         map[string]interface{} `json:"ui,omitempty"`
	Features   map[string]interface{} `json:"features,omitempty"`
}

// AIProvider describes the backend and its models
type AIProvider struct {
	Type            ProviderType `json:"type"`
	URL             string       `json:"url"`
	DefaultModel    string       `json:"defaultModel"`
	SystemPrompt    string       `json:"systemPrompt,omitempty"`
	AvailableModels []ModelSpec  `json:"availableModels"`
}

// ModelSpec is a named, parameterized model entry
type ModelSpec struct {
	Name        string                 `json:"name"`
	DisplayName string                 `json:"displayName,omitempty"`
	Description string                 `json:"description,omitempty"`
	MaxTokens   int                    `json:"maxTokens,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ServerSection holds the document's server options
type ServerSection struct {
	Port        int  `json:"port"`
	CORSEnabled bool `json:"corsEnabled"`
}

// Provider returns the normalized provider type
func (c *Configuration) Provider() ProviderType {
	p, _ := c.AIProvider.Type.Normalize()
	return p
}

// FindModel returns the model entry with the given name
func (c *Configuration) FindModel(name string) (*ModelSpec, bool) {
	for i := range c.AIProvider.AvailableModels {
		if c.AIProvider.AvailableModels[i].Name == name {
			return &c.AIProvider.AvailableModels[i], true
		}
	}
	return nil, false
}

// ResolveModel returns the default model entry, else the first entry.
// ok is false when no models are configured.
func (c *Configuration) ResolveModel() (spec *ModelSpec, ok bool) {
	if m, found := c.FindModel(c.AIProvider.DefaultModel); found {
		return m, true
	}
	if len(c.AIProvider.AvailableModels) > 0 {
		return &c.AIProvider.AvailableModels[0], true
	}
	return nil, false
}

// Template returns the template for kind, falling back to delivering
func (c *Configuration) Template(kind PromptKind) string {
	if t, ok := c.Prompts[kind]; ok {
		return t
	}
	return c.Prompts[PromptDelivering]
}

// SystemPrompt returns the configured system message or the default one
func (c *Configuration) SystemPrompt() string {
	if s := strings.TrimSpace(c.AIProvider.SystemPrompt); s != "" {
		return s
	}
	return DefaultSystemPrompt
}

// DefaultSystemPrompt is used when aiProvider.systemPrompt is empty
const DefaultSystemPrompt = "You are Santa Claus, jolly and magical!"

var defaultPrompts = map[PromptKind]string{
	PromptPreparing: "You are Santa Claus! Write a cheerful, warm message (2-3 sentences max) about preparing for " +
		"Christmas Eve at the North Pole. The elves are busy wrapping presents. Be jolly, mention the reindeer if " +
		"relevant, and keep it magical and brief. Use emojis sparingly (1-2 max). Don't use quotation marks.",
	PromptDelivering: "You are Santa Claus! Write a cheerful, warm message (2-3 sentences max) to someone tracking " +
		"your journey. Santa is currently delivering presents around the world! {{DISTANCE_CONTEXT}} {{GIFTS_CONTEXT}} " +
		"Be jolly, mention the reindeer if relevant, and keep it magical and brief. Use emojis sparingly (1-2 max). " +
		"Don't use quotation marks.",
	PromptFinished: "You are Santa Claus! Write a cheerful, warm message (2-3 sentences max) about finishing " +
		"Christmas deliveries and resting at the North Pole with the reindeer. Be jolly and keep it magical and " +
		"brief. Use emojis sparingly (1-2 max). Don't use quotation marks.",
}

// DefaultPrompt returns the built-in template for kind
func DefaultPrompt(kind PromptKind) string {
	return defaultPrompts[kind]
}

// DefaultConfiguration returns the embedded defaults
func DefaultConfiguration() *Configuration {
	prompts := make(map[PromptKind]string, len(defaultPrompts))
	for k, v := range defaultPrompts {
		prompts[k] = v
	}

	return &Configuration{
		AIProvider: AIProvider{
			Type:         ProviderLocal,
			URL:          "http://localhost:11434",
			DefaultModel: "llama3.2",
			AvailableModels: []ModelSpec{
				{
					Name:        "llama3.2",
					DisplayName: "Llama 3.2",
					Description: "Fast and efficient for Santa messages",
					Parameters: map[string]interface{}{
						"temperature":     0.8,
						"maxOutputTokens": 150,
					},
				},
			},
		},
		Prompts: prompts,
		Server: ServerSection{
			Port:        8000,
			CORSEnabled: true,
		},
		UI: map[string]interface{}{
			"showConfigPanel":     true,
			"allowModelSwitching": true,
			"allowPromptEditing":  true,
		},
		Features: map[string]interface{}{
			"modelValidation":    true,
			"autoDiscoverModels": true,
			"configAutoSave":     true,
		},
	}
}

// DefaultCloudModels are the entries offered when the provider is cloud
// and the document lists no models.
func DefaultCloudModels() []ModelSpec {
	return []ModelSpec{
		{
			Name:        "llama3-8b-8192",
			DisplayName: "Llama 3 8B",
			Description: "Fast responses, good for short messages",
			MaxTokens:   8192,
			Parameters:  map[string]interface{}{"temperature": 0.8, "maxOutputTokens": 150},
		},
		{
			Name:        "llama3-70b-8192",
			DisplayName: "Llama 3 70B",
			Description: "Higher quality, slower",
			MaxTokens:   8192,
			Parameters:  map[string]interface{}{"temperature": 0.8, "maxOutputTokens": 150},
		},
		{
			Name:        "mixtral-8x7b-32768",
			DisplayName: "Mixtral 8x7B",
			Description: "Long context window",
			MaxTokens:   32768,
			Parameters:  map[string]interface{}{"temperature": 0.8, "maxOutputTokens": 150},
		},
		{
			Name:        "gemma-7b-it",
			DisplayName: "Gemma 7B",
			Description: "Lightweight instruction model",
			MaxTokens:   8192,
			Parameters:  map[string]interface{}{"temperature": 0.8, "maxOutputTokens": 150},
		},
	}
}
