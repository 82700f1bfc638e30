// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Store         StoreConfig         `yaml:"store"`
	Summarization SummarizationConfig `yaml:"summarization"`
	Search        SearchConfig        `yaml:"search"`
	Chat          ChatConfig          `yaml:"chat"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Tracing       TracingConfig       `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// AuthConfig holds the shared bearer key. An empty key disables authentication.
type AuthConfig struct {
	APIKey    string   `yaml:"api_key"`
	SkipPaths []string `yaml:"skip_paths"`
}

// RateLimitConfig defines per-client rate limiting parameters.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Backend        string        `yaml:"backend"` // hash, ollama, openai, onnx
	Model          string        `yaml:"model"`
	Dimensions     int           `yaml:"dimensions"`
	QueryPrefix    string        `yaml:"query_prefix"`
	DocumentPrefix string        `yaml:"document_prefix"`
	MaxInputChars  int           `yaml:"max_input_chars"`
	Timeout        time.Duration `yaml:"timeout"`
	OllamaHost     string        `yaml:"ollama_host"`
	OpenAI         OpenAIConfig  `yaml:"openai"`
	ONNX           ONNXConfig    `yaml:"onnx"`
}

// OpenAIConfig holds credentials for OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ONNXConfig points at a local sentence-embedding model.
type ONNXConfig struct {
	ModelPath         string `yaml:"model_path"`
	TokenizerPath     string `yaml:"tokenizer_path"`
	LibraryPath       string `yaml:"library_path"`
	MaxSequenceLength int    `yaml:"max_sequence_length"`
}

// StoreConfig selects the record store driver.
type StoreConfig struct {
	Driver   string         `yaml:"driver"` // memory, postgres, chromem, qdrant
	SeedPath string         `yaml:"seed_path"`
	Postgres PostgresConfig `yaml:"postgres"`
	Chromem  ChromemConfig  `yaml:"chromem"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
}

// QdrantConfig configures the Qdrant REST driver.
type QdrantConfig struct {
	Address    string        `yaml:"address"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PostgresConfig contains database connection settings.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	Table       string `yaml:"table"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// ChromemConfig configures the embedded vector database.
type ChromemConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

// SummarizationConfig configures the summarizer.
type SummarizationConfig struct {
	Backend        string        `yaml:"backend"` // ollama, llm
	Model          string        `yaml:"model"`
	OllamaHost     string        `yaml:"ollama_host"`
	ChunkSize      int           `yaml:"chunk_size"`
	MaxDepth       int           `yaml:"max_depth"`
	MaxOutputChars int           `yaml:"max_output_chars"`
	Timeout        time.Duration `yaml:"timeout"`
}

// SearchConfig holds request defaults for search endpoints.
type SearchConfig struct {
	DefaultTarget       string `yaml:"default_target"`
	DefaultLimit        int    `yaml:"default_limit"`
	MaxLimit            int    `yaml:"max_limit"`
	DefaultRelatedLimit int    `yaml:"default_related_limit"`
}

// ChatConfig configures the chat orchestrator and its hosted model.
type ChatConfig struct {
	Provider          string        `yaml:"provider"` // gemini, openai, anthropic
	Model             string        `yaml:"model"`
	AllowedModels     []string      `yaml:"allowed_models"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	ContextBudget     int           `yaml:"context_budget"`
	Sizer             string        `yaml:"sizer"` // chars, tokens
	SystemPromptPath  string        `yaml:"system_prompt_path"`
	MemoryFilePath    string        `yaml:"memory_file_path"`
	DialogLogDir      string        `yaml:"dialog_log_dir"`
	HistoryQueryChars int           `yaml:"history_query_chars"`
	// TodayLogChars adds the tail of today's dialog log to the long-term
	// memory layer and to history queries. Zero disables it.
	TodayLogChars     int           `yaml:"today_log_chars"`
	Temperature       ParamRange    `yaml:"temperature"`
	TopP              ParamRange    `yaml:"top_p"`
	MaxTokens         ParamRange    `yaml:"max_tokens"`
}

// ParamRange bounds a client-overridable generation parameter. A zero
// Default means the parameter is only sent when a request sets it.
type ParamRange struct {
	Default float64 `yaml:"default"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// Contains reports whether v lies within [Min, Max].
func (r ParamRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP/HTTP endpoint (e.g., "localhost:4318")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use plain HTTP
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 600 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Auth: AuthConfig{
			SkipPaths: []string{"/health", "/metrics"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Embedding: EmbeddingConfig{
			Backend:       "hash",
			Dimensions:    384,
			QueryPrefix:   "query: ",
			MaxInputChars: 2000,
			Timeout:       30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
			Postgres: PostgresConfig{
				Table: "memory_atoms",
			},
			Qdrant: QdrantConfig{
				Collection: "memory_atoms",
				Timeout:    30 * time.Second,
			},
		},
		Summarization: SummarizationConfig{
			Backend:        "ollama",
			Model:          "gemma3:4b",
			ChunkSize:      4000,
			MaxDepth:       3,
			MaxOutputChars: 1000,
			Timeout:        120 * time.Second,
		},
		Search: SearchConfig{
			DefaultTarget:       "content",
			DefaultLimit:        3,
			MaxLimit:            100,
			DefaultRelatedLimit: 3,
		},
		Chat: ChatConfig{
			Provider:          "gemini",
			Model:             "gemini-2.5-flash",
			Timeout:           90 * time.Second,
			ContextBudget:     16000,
			Sizer:             "chars",
			DialogLogDir:      "logs/dialogs",
			HistoryQueryChars: 4000,
			Temperature:       ParamRange{Default: 0.7, Min: 0, Max: 2},
			TopP:              ParamRange{Default: 0, Min: 0, Max: 1},
			MaxTokens:         ParamRange{Default: 2048, Min: 1, Max: 8192},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "recall",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	switch c.Embedding.Backend {
	case "hash", "ollama", "openai", "onnx":
	default:
		return fmt.Errorf("unknown embedding.backend %q", c.Embedding.Backend)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if c.Embedding.Backend != "hash" && c.Embedding.Model == "" && c.Embedding.Backend != "onnx" {
		return fmt.Errorf("embedding.model is required for backend %q", c.Embedding.Backend)
	}
	if c.Embedding.Backend == "onnx" && c.Embedding.ONNX.ModelPath == "" {
		return fmt.Errorf("embedding.onnx.model_path is required")
	}

	switch c.Store.Driver {
	case "memory", "chromem":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
	case "qdrant":
		if c.Store.Qdrant.Address == "" {
			return fmt.Errorf("store.qdrant.address is required")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Summarization.Backend {
	case "ollama", "llm":
	default:
		return fmt.Errorf("unknown summarization.backend %q", c.Summarization.Backend)
	}
	if c.Summarization.ChunkSize <= 0 {
		return fmt.Errorf("summarization.chunk_size must be positive")
	}
	if c.Summarization.MaxDepth < 1 {
		return fmt.Errorf("summarization.max_depth must be at least 1")
	}
	if c.Summarization.Timeout < 0 {
		return fmt.Errorf("summarization.timeout cannot be negative")
	}

	if _, ok := map[string]bool{"summary": true, "content": true}[c.Search.DefaultTarget]; !ok {
		return fmt.Errorf("search.default_target must be summary or content")
	}
	if c.Search.MaxLimit <= 0 {
		return fmt.Errorf("search.max_limit must be positive")
	}

	switch c.Chat.Provider {
	case "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown chat.provider %q", c.Chat.Provider)
	}
	if c.Chat.Model == "" {
		return fmt.Errorf("chat.model is required")
	}
	if c.Chat.Timeout <= 0 {
		return fmt.Errorf("chat.timeout must be positive")
	}
	if c.Chat.TodayLogChars < 0 {
		return fmt.Errorf("chat.today_log_chars cannot be negative")
	}
	switch c.Chat.Sizer {
	case "chars", "tokens":
	default:
		return fmt.Errorf("chat.sizer must be chars or tokens")
	}
	for name, r := range map[string]ParamRange{
		"temperature": c.Chat.Temperature,
		"top_p":       c.Chat.TopP,
		"max_tokens":  c.Chat.MaxTokens,
	} {
		if r.Min > r.Max || !r.Contains(r.Default) {
			return fmt.Errorf("chat.%s: default %v must lie within [%v, %v]", name, r.Default, r.Min, r.Max)
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.BurstSize <= 0) {
		return fmt.Errorf("rate_limit requires positive requests_per_minute and burst_size")
	}

	return nil
}

// writeTimeoutMargin covers search, assembly and response writing around
// the model and summarization calls.
const writeTimeoutMargin = 10 * time.Second

// ChatWriteTimeout is the shortest write timeout that lets a chat call with
// compressed retrieval finish: the model timeout plus one summarization
// timeout per recursion level and the final pass.
func (c *Config) ChatWriteTimeout() time.Duration {
	levels := time.Duration(c.Summarization.MaxDepth + 1)
	return c.Chat.Timeout + levels*c.Summarization.Timeout + writeTimeoutMargin
}

// EffectiveWriteTimeout is server.write_timeout raised to ChatWriteTimeout
// when shorter. Zero keeps the server without a write deadline.
func (c *Config) EffectiveWriteTimeout() time.Duration {
	if c.Server.WriteTimeout == 0 {
		return 0
	}
	return max(c.Server.WriteTimeout, c.ChatWriteTimeout())
}

// Warning codes.
const (
	WarningAuthDisabled       = "auth_disabled"
	WarningEphemeralStore     = "ephemeral_store"
	WarningLexicalEmbed       = "lexical_embedding"
	WarningWriteTimeoutRaised = "write_timeout_raised"
)

// Warning is a non-fatal configuration issue worth logging at startup.
type Warning struct {
	Code    string
	Message string
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []Warning {
	var w []Warning
	if c.Auth.APIKey == "" {
		w = append(w, Warning{WarningAuthDisabled, "auth.api_key is empty; authentication is disabled"})
	}
	if c.Store.Driver == "memory" && c.Store.SeedPath == "" {
		w = append(w, Warning{WarningEphemeralStore, "store.driver is memory without a seed; records are lost on restart"})
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < c.ChatWriteTimeout() {
		w = append(w, Warning{WarningWriteTimeoutRaised, fmt.Sprintf(
			"server.write_timeout %s is shorter than a compressed chat call may take; using %s",
			c.Server.WriteTimeout, c.ChatWriteTimeout())})
	}
	if c.Embedding.Backend == "hash" {
		w = append(w, Warning{WarningLexicalEmbed, "embedding.backend is hash; similarity is lexical only"})
	}
	return w
}
