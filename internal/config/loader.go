package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the YAML file. They are
// typically supplied through a .env file loaded by main.
const (
	EnvBackendURL  = "MOCKINTERVIEW_BACKEND_URL"
	EnvPostgresDSN = "MOCKINTERVIEW_POSTGRES_DSN"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBackendURL); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Store.PostgresDSN = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Server.SessionIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.session_idle_timeout %s must not be negative", cfg.Server.SessionIdleTimeout))
	}

	if cfg.Backend.BaseURL != "" {
		u, err := url.Parse(cfg.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.base_url %q must be an absolute http(s) URL", cfg.Backend.BaseURL))
		}
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout %s must not be negative", cfg.Backend.Timeout))
	}
	if cb := cfg.Backend.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("backend.circuit_breaker values must not be negative"))
	}

	iv := cfg.Interview
	if iv.MCQ.Count < 0 {
		errs = append(errs, fmt.Errorf("interview.mcq.count %d must not be negative", iv.MCQ.Count))
	}
	if iv.MCQ.Countdown < 0 {
		errs = append(errs, fmt.Errorf("interview.mcq.countdown %s must not be negative", iv.MCQ.Countdown))
	}
	if iv.Voice.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("interview.voice.silence_timeout %s must not be negative", iv.Voice.SilenceTimeout))
	}
	if iv.Results.PassThreshold < 0 || iv.Results.PassThreshold > 100 {
		errs = append(errs, fmt.Errorf("interview.results.pass_threshold %d is out of range [0, 100]", iv.Results.PassThreshold))
	}

	if cfg.Store.Kind != "" && !cfg.Store.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("store.kind %q is invalid; valid values: memory, file, postgres", cfg.Store.Kind))
	}
	if cfg.Store.Kind == StoreFile && cfg.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required when store.kind is file"))
	}
	if cfg.Store.Kind == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.kind is postgres"))
	}
	if cfg.Store.Kind == StoreMemory && cfg.Store.Path != "" {
		slog.Warn("store.path is set but store.kind is memory; sessions will not survive a restart")
	}

	return errors.Join(errs...)
}
