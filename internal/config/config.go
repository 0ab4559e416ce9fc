// Package config provides the bootstrap settings of the gateway.
// It handles loading, saving, and validating settings from a YAML file and
// applying environment overrides. The JSON configuration document edited over
// HTTP lives in package configstore.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/santa-tracker/santa-gateway/internal/storage"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = "config"
	// DefaultConfigFile is the default settings file name
	DefaultConfigFile = "gateway.yaml"
	// DefaultDocumentFile is the default configuration document file name
	DefaultDocumentFile = "santa-config.json"
	// DefaultFamilyFile is the default personalization profile
	DefaultFamilyFile = "family.json"
)

// Config represents the complete bootstrap settings
type Config struct {
	Server          ServerConfig          `mapstructure:"server" yaml:"server" json:"server"`
	Backend         BackendConfig         `mapstructure:"backend" yaml:"backend" json:"backend"`
	ConfigStore     ConfigStoreConfig     `mapstructure:"config_store" yaml:"config_store" json:"configStore"`
	Log             LogConfig             `mapstructure:"log" yaml:"log" json:"log"`
	Storage         storage.StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`
	Personalization PersonalizationConfig `mapstructure:"personalization" yaml:"personalization" json:"personalization"`
	RateLimit       RateLimitConfig       `mapstructure:"rate_limit" yaml:"rate_limit" json:"rateLimit"`
	Pull            PullConfig            `mapstructure:"pull" yaml:"pull" json:"pull"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host" yaml:"host" json:"host"`
	Port         int    `mapstructure:"port" yaml:"port" json:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" yaml:"read_timeout" json:"readTimeout"`    // seconds
	WriteTimeout int    `mapstructure:"write_timeout" yaml:"write_timeout" json:"writeTimeout"` // seconds, 0 = none
	WebRoot      string `mapstructure:"web_root" yaml:"web_root" json:"webRoot"`
	IndexFile    string `mapstructure:"index_file" yaml:"index_file" json:"indexFile"`
}

// BackendConfig contains inference backend connection settings
type BackendConfig struct {
	OllamaURL string `mapstructure:"ollama_url" yaml:"ollama_url" json:"ollamaUrl"`
	CloudURL  string `mapstructure:"cloud_url" yaml:"cloud_url" json:"cloudUrl"`
	// APIKey is never serialized back to clients
	APIKey   string         `mapstructure:"api_key" yaml:"api_key" json:"-"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
}

// TimeoutsConfig holds per-operation backend timeouts in seconds
type TimeoutsConfig struct {
	Status      int `mapstructure:"status" yaml:"status" json:"status"`
	Generate    int `mapstructure:"generate" yaml:"generate" json:"generate"`
	Health      int `mapstructure:"health" yaml:"health" json:"health"`
	Pull        int `mapstructure:"pull" yaml:"pull" json:"pull"`
	Delete      int `mapstructure:"delete" yaml:"delete" json:"delete"`
	Passthrough int `mapstructure:"passthrough" yaml:"passthrough" json:"passthrough"`
}

// ConfigStoreConfig locates the JSON configuration document
type ConfigStoreConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory" json:"directory"`
	File      string `mapstructure:"file" yaml:"file" json:"file"`
}

// Path returns the full path of the configuration document
func (c ConfigStoreConfig) Path() string {
	return filepath.Join(c.Directory, c.File)
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level" json:"level"`             // debug, info, warn, error
	Format    string `mapstructure:"format" yaml:"format" json:"format"`          // json, text
	Output    string `mapstructure:"output" yaml:"output" json:"output"`          // stdout, file, both
	Directory string `mapstructure:"directory" yaml:"directory" json:"directory"` // log directory
	MaxSize   int    `mapstructure:"max_size" yaml:"max_size" json:"maxSize"`     // MB
	TailSize  int    `mapstructure:"tail_size" yaml:"tail_size" json:"tailSize"`  // entries kept for /api/logs
}

// PersonalizationConfig controls the private family profile
type PersonalizationConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	File    string `mapstructure:"file" yaml:"file" json:"file"`
	Watch   bool   `mapstructure:"watch" yaml:"watch" json:"watch"`
}

// RateLimitConfig limits generation requests per client
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requestsPerMinute"` // 0 = disabled
	Burst             int `mapstructure:"burst" yaml:"burst" json:"burst"`
	ClientTTL         int `mapstructure:"client_ttl" yaml:"client_ttl" json:"clientTtl"` // seconds
}

// PullConfig controls model pull tasks
type PullConfig struct {
	Dedupe bool `mapstructure:"dedupe" yaml:"dedupe" json:"dedupe"`
	// KeepFinished bounds how many finished tasks stay pollable in memory
	KeepFinished int `mapstructure:"keep_finished" yaml:"keep_finished" json:"keepFinished"`
}

// DefaultConfig returns the default settings
func DefaultConfig() *Config {
	configDir := GetConfigDir()

	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 0,
			WebRoot:      "./web",
			IndexFile:    "santa-tracker.html",
		},
		Backend: BackendConfig{
			OllamaURL: "http://localhost:11434",
			CloudURL:  "https://api.groq.com/openai/v1",
			Timeouts: TimeoutsConfig{
				Status:      10,
				Generate:    60,
				Health:      10,
				Pull:        1800,
				Delete:      120,
				Passthrough: 120,
			},
		},
		ConfigStore: ConfigStoreConfig{
			Directory: configDir,
			File:      DefaultDocumentFile,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			Output:    "stdout",
			Directory: "logs",
			MaxSize:   50,
			TailSize:  500,
		},
		Storage: storage.StorageConfig{
			Type: storage.StorageTypeMemory,
			SQLite: &storage.SQLiteConfig{
				Path:      filepath.Join("data", "santa-gateway.db"),
				EnableWAL: true,
				Pragmas: map[string]string{
					"synchronous": "NORMAL",
				},
			},
		},
		Personalization: PersonalizationConfig{
			Enabled: true,
			File:    DefaultFamilyFile,
			Watch:   true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 0,
			Burst:             5,
			ClientTTL:         600,
		},
		Pull: PullConfig{
			Dedupe:       true,
			KeepFinished: 50,
		},
	}
}

// Validate validates the settings
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if c.Backend.OllamaURL == "" {
		return fmt.Errorf("backend.ollama_url is required")
	}
	t := c.Backend.Timeouts
	for name, v := range map[string]int{
		"status":      t.Status,
		"generate":    t.Generate,
		"health":      t.Health,
		"pull":        t.Pull,
		"delete":      t.Delete,
		"passthrough": t.Passthrough,
	} {
		if v < 1 {
			return fmt.Errorf("backend timeout %s must be at least 1 second", name)
		}
	}

	if c.ConfigStore.Directory == "" || c.ConfigStore.File == "" {
		return fmt.Errorf("config_store directory and file are required")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Output) {
	case "", "stdout", "file", "both":
	default:
		return fmt.Errorf("invalid log output: %s (must be stdout, file or both)", c.Log.Output)
	}

	switch c.Storage.Type {
	case storage.StorageTypeMemory:
	case storage.StorageTypeSQLite:
		if c.Storage.SQLite == nil || c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or sqlite)", c.Storage.Type)
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}

	return nil
}

// ApplyEnv overrides settings from the process environment
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("OLLAMA_URL")); v != "" {
		c.Backend.OllamaURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLOUD_API_URL")); v != "" {
		c.Backend.CloudURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GROQ_API_KEY")); v != "" {
		c.Backend.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("AI_API_KEY")); v != "" {
		c.Backend.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("SANTA_CONFIG_DIR")); v != "" {
		c.ConfigStore.Directory = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	if dir := os.Getenv("SANTA_CONFIG_DIR"); dir != "" {
		return dir
	}
	return DefaultConfigDir
}

// Manager manages settings loading and saving
type Manager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

// NewManager creates a settings manager for the default path
func NewManager() *Manager {
	return NewManagerWithPath(filepath.Join(GetConfigDir(), DefaultConfigFile))
}

// NewManagerWithPath creates a settings manager with a custom path
func NewManagerWithPath(configPath string) *Manager {
	return &Manager{configPath: configPath}
}

// GetConfigPath returns the settings file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
