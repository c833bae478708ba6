package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisperlive"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; dictation sessions will report unsupported")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; AI formatting requires a per-user API key")
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, postgres", cfg.Storage.Backend))
	}
	switch cfg.Storage.Backend {
	case StorageFile:
		if cfg.Storage.FilePath == "" {
			errs = append(errs, errors.New("storage.file_path is required when storage.backend is file"))
		}
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
		}
		if cfg.Providers.Embeddings.Name == "" {
			slog.Warn("storage.backend is postgres but no embeddings provider is configured; similarity search will be unavailable")
		}
	}

	// Dictation
	if cfg.Dictation.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("dictation.sample_rate %d is negative", cfg.Dictation.SampleRate))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found
// in the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
