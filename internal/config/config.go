// Package config provides configuration loading and structs for the docrag server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. It is loaded once at
// startup and treated as read-only afterwards.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Provider  ProviderConfig  `yaml:"provider"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig holds the admin credentials and token signing settings.
type AuthConfig struct {
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	SecretKey string        `yaml:"secret_key"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ProviderConfig selects where documents come from.
type ProviderConfig struct {
	Type    string        `yaml:"type"` // dropbox or local
	Dropbox DropboxConfig `yaml:"dropbox"`
	Local   LocalConfig   `yaml:"local"`
}

// DropboxConfig holds Dropbox API settings.
type DropboxConfig struct {
	AccessToken string        `yaml:"access_token"`
	Root        string        `yaml:"root"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LocalConfig holds settings for a local folder used as document source.
type LocalConfig struct {
	Root  string `yaml:"root"`
	Watch bool   `yaml:"watch"`
}

// VectorConfig holds vector store settings.
type VectorConfig struct {
	Backend           string        `yaml:"backend"` // qdrant, sqlite or memory
	Collection        string        `yaml:"collection"`
	Qdrant            QdrantConfig  `yaml:"qdrant"`
	SQLitePath        string        `yaml:"sqlite_path"`
	BatchSize         int           `yaml:"batch_size"`
	PageSize          int           `yaml:"page_size"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	BreakerFailures   int           `yaml:"breaker_failures"`
	BreakerReset      time.Duration `yaml:"breaker_reset"`
	VerifyAfterIndex  bool          `yaml:"verify_after_index"`
}

// QdrantConfig holds the gRPC endpoint of a Qdrant server.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // openai, onnx or mock
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	ModelPath         string        `yaml:"model_path"`
	Dimensions        int           `yaml:"dimensions"`
	MaxTokens         int           `yaml:"max_tokens"`
	CacheSize         int           `yaml:"cache_size"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
}

// LLMConfig holds answer generator settings. Provider "none" disables generation.
type LLMConfig struct {
	Provider     string        `yaml:"provider"` // openai or none
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float32       `yaml:"temperature"`
	TopP         float32       `yaml:"top_p"`
	Timeout      time.Duration `yaml:"timeout"`
	SystemPrompt string        `yaml:"system_prompt"`
}

// IndexingConfig holds chunking and sync settings.
type IndexingConfig struct {
	ChunkSize        int      `yaml:"chunk_size"`
	ChunkOverlap     int      `yaml:"chunk_overlap"`
	MinContentLength int      `yaml:"min_content_length"`
	Concurrency      int      `yaml:"concurrency"`
	Extensions       []string `yaml:"extensions"`
	StatusPath       string   `yaml:"status_path"`
}

// SearchConfig holds search limits.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// Load reads and parses the config file at path, applies environment overrides
// and defaults, and expands paths. Returns an error if the file cannot be read,
// parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := ApplyEnv(&cfg, configDir); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Vector.SQLitePath = expandPath(cfg.Vector.SQLitePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Indexing.StatusPath = expandPath(cfg.Indexing.StatusPath, configDir)
	if cfg.Provider.Local.Root != "" {
		cfg.Provider.Local.Root = expandPath(cfg.Provider.Local.Root, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider.Type {
	case "dropbox":
		if c.Provider.Dropbox.AccessToken == "" {
			errs = append(errs, errors.New("provider.dropbox.access_token is required"))
		}
	case "local":
		if c.Provider.Local.Root == "" {
			errs = append(errs, errors.New("provider.local.root is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider type %q", c.Provider.Type))
	}
	switch c.Vector.Backend {
	case "qdrant", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend %q", c.Vector.Backend))
	}
	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			errs = append(errs, errors.New("embedding.api_key is required for the openai provider"))
		}
	case "onnx", "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	switch c.LLM.Provider {
	case "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	if c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		errs = append(errs, fmt.Errorf("indexing.chunk_overlap (%d) must be below chunk_size (%d)",
			c.Indexing.ChunkOverlap, c.Indexing.ChunkSize))
	}
	if c.Auth.SecretKey == "" {
		errs = append(errs, errors.New("auth.secret_key is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
