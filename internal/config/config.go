// Package config provides the configuration schema, loader, and file
// watcher for the Sahaya support server.
package config

import "log/slog"

// LogLevel controls log verbosity for the server.
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

// SlogLevel maps l onto the slog level scale. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Room    RoomConfig    `yaml:"room"`
	Backend BackendConfig `yaml:"backend"`
	Queue   QueueConfig   `yaml:"queue"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain
	// HTTP behind the platform gateway.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// RoomConfig configures the voice-room provider that hosts support calls.
type RoomConfig struct {
	// JoinURL is the WebSocket base URL operators use to join a call room
	// (e.g., "wss://rtc.sahaya.example.com").
	JoinURL string `yaml:"join_url"`

	// APIKey and APISecret sign operator join tokens. When empty they fall
	// back to the SAHAYA_RTC_API_KEY and SAHAYA_RTC_API_SECRET environment
	// variables so secrets can stay out of the config file.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// TokenTTLSeconds bounds operator join tokens. 0 means one hour.
	TokenTTLSeconds int `yaml:"token_ttl_seconds"`
}

// BackendConfig configures the platform backend that receives lifecycle
// events (handoff requests, bot readiness, call teardown).
type BackendConfig struct {
	// URL is the backend base URL. Empty disables event emission.
	URL string `yaml:"url"`

	// AuthToken is sent as a Bearer token on every event POST. When empty
	// it falls back to the SAHAYA_BACKEND_TOKEN environment variable.
	AuthToken string `yaml:"auth_token"`
}

// QueueConfig tunes handoff queue housekeeping.
type QueueConfig struct {
	// StatsIntervalSeconds is how often queue depth and wait stats are
	// sampled into the log. 0 disables sampling.
	StatsIntervalSeconds int `yaml:"stats_interval_seconds"`
}
