package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the corresponding config fields are
// empty. Secrets belong in the environment, not the config file.
const (
	EnvRTCAPIKey    = "SAHAYA_RTC_API_KEY"
	EnvRTCAPISecret = "SAHAYA_RTC_API_SECRET"
	EnvBackendToken = "SAHAYA_BACKEND_TOKEN"
)

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

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment fallbacks, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero fields with their defaults and pulls secrets
// from the environment.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Room.APIKey == "" {
		cfg.Room.APIKey = os.Getenv(EnvRTCAPIKey)
	}
	if cfg.Room.APISecret == "" {
		cfg.Room.APISecret = os.Getenv(EnvRTCAPISecret)
	}
	if cfg.Backend.AuthToken == "" {
		cfg.Backend.AuthToken = os.Getenv(EnvBackendToken)
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Room.JoinURL == "" {
		errs = append(errs, errors.New("room.join_url is required"))
	} else if !strings.HasPrefix(cfg.Room.JoinURL, "ws://") && !strings.HasPrefix(cfg.Room.JoinURL, "wss://") {
		errs = append(errs, fmt.Errorf("room.join_url %q must be a ws:// or wss:// URL", cfg.Room.JoinURL))
	}
	if cfg.Room.APIKey == "" || cfg.Room.APISecret == "" {
		errs = append(errs, fmt.Errorf("room credentials are required; set room.api_key/api_secret or %s/%s", EnvRTCAPIKey, EnvRTCAPISecret))
	}
	if cfg.Room.TokenTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("room.token_ttl_seconds %d must not be negative", cfg.Room.TokenTTLSeconds))
	}

	if cfg.Backend.URL == "" {
		slog.Warn("backend.url is empty; lifecycle events will not reach the platform backend")
	}
	if cfg.Backend.URL == "" && cfg.Backend.AuthToken != "" {
		slog.Warn("backend.auth_token is set but backend.url is empty; token will be unused")
	}

	if cfg.Queue.StatsIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("queue.stats_interval_seconds %d must not be negative", cfg.Queue.StatsIntervalSeconds))
	}

	return errors.Join(errs...)
}
