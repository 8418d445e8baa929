// Package config loads and validates docrag's configuration.
//
// Sources, highest priority first:
//  1. Environment variables (DOCRAG_* plus DATABASE_URL)
//  2. Config file (~/.docrag/config.yaml or ./config.yaml)
//  3. Defaults
//
// Validation is fail-fast: Load returns an error before any component is
// wired with a bad value. Sensitive fields are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AI provider identifiers accepted in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// DefaultEmbedderModel is the Gemini embedding model used unless overridden.
// Its vectors are truncated to the 768 dimensions the chunks schema stores.
const DefaultEmbedderModel = "text-embedding-004"

var (
	// ErrInvalidProvider indicates an unsupported AI provider name.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates a temperature outside [0, 2].
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates a non-positive answer token budget.
	ErrInvalidMaxTokens = errors.New("invalid max answer tokens")

	// ErrInvalidChunking indicates a chunk size/overlap pair the splitter
	// would reject (overlap must be strictly smaller than size).
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidMaxSources indicates a max sources value outside [1, 20].
	ErrInvalidMaxSources = errors.New("invalid max sources")

	// ErrInvalidPostgres indicates incomplete PostgreSQL settings.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidOllamaHost indicates a missing Ollama server address.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// Config holds every runtime setting.
type Config struct {
	// AI provider and models
	Provider      string  `mapstructure:"provider"`
	ModelName     string  `mapstructure:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature"`

	// MaxAnswerTokens bounds generated answers. Queries may lower it per
	// request but never raise it.
	MaxAnswerTokens int `mapstructure:"max_answer_tokens"`

	// MaxSources is the default number of chunks retrieved per query.
	MaxSources int `mapstructure:"max_sources"`

	// Ollama (only when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host"`

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Ingestion
	UploadDir     string `mapstructure:"upload_dir"`
	WatchDir      string `mapstructure:"watch_dir"` // empty = watcher disabled
	IngestWorkers int    `mapstructure:"ingest_workers"`

	// HTTP server
	ListenAddr string `mapstructure:"listen_addr"`

	// PostgreSQL (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Tracing (see internal/observability)
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"` // OTLP HTTP endpoint, host:port
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Load reads configuration from all sources and validates it.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".docrag")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("DOCRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("no config file found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// FullModelName returns the provider-qualified model name for Genkit,
// e.g. "googleai/gemini-2.5-flash" or "ollama/llama3.3". A ModelName that
// already contains a "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == ProviderOllama {
		return "ollama/" + c.ModelName
	}
	return "googleai/" + c.ModelName
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", 0.1)
	v.SetDefault("max_answer_tokens", 300)
	v.SetDefault("max_sources", 5)

	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)

	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("watch_dir", "")
	v.SetDefault("ingest_workers", 2)

	v.SetDefault("listen_addr", "127.0.0.1:8080")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "docrag")
	v.SetDefault("postgres_password", "docrag_dev_password")
	v.SetDefault("postgres_db_name", "docrag")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "docrag")
	v.SetDefault("tracing.environment", "dev")
}
