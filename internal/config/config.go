// Package config provides the configuration schema and loader for the
// radscribe server.
package config

// LogLevel controls log verbosity for the radscribe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StorageBackend selects the report store implementation.
type StorageBackend string

const (
	// StorageMemory keeps everything in process memory. Development only.
	StorageMemory StorageBackend = "memory"

	// StorageFile persists to a local JSON file.
	StorageFile StorageBackend = "file"

	// StoragePostgres uses PostgreSQL with the pgvector semantic index.
	StoragePostgres StorageBackend = "postgres"
)

// IsValid reports whether b is a recognised storage backend.
func (b StorageBackend) IsValid() bool {
	switch b {
	case StorageMemory, StorageFile, StoragePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for radscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Dictation DictationConfig `yaml:"dictation"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain
	// HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage.
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai",
	// "whisperlive").
	Name string `yaml:"name"`

	// APIKey is the server-level authentication key for the provider's
	// API, if any. Per-user LLM keys from settings take precedence for
	// formatting calls.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Leave empty
	// to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o",
	// "small.en").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// StorageConfig selects and configures the report store.
type StorageConfig struct {
	// Backend is one of "memory", "file", "postgres". Empty defaults to
	// "memory".
	Backend StorageBackend `yaml:"backend"`

	// FilePath is the JSON store location for the file backend.
	FilePath string `yaml:"file_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// DictationConfig tunes the dictation capture sessions.
type DictationConfig struct {
	// Language is the BCP-47 recognition language tag. Default "en-US".
	Language string `yaml:"language"`

	// SampleRate is the expected PCM sample rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`
}
