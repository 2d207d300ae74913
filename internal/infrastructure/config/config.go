package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/oprelay/internal/cipher"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// Backend transports.
const (
	TransportHTTP      = "http"
	TransportNative    = "native"
	TransportWebsocket = "websocket"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Cipher    CipherConfig
	Relay     RelayConfig
	Settings  SettingsConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the relay host HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// BackendConfig selects and addresses the backend channel.
type BackendConfig struct {
	Transport        string        `envconfig:"BACKEND_TRANSPORT" default:"http"`
	Host             string        `envconfig:"BACKEND_HOST" default:"127.0.0.1"`
	Port             int           `envconfig:"BACKEND_PORT" default:"7777"`
	ContextRoot      string        `envconfig:"BACKEND_CONTEXT_ROOT" default:"oplauncher-op"`
	HeartbeatRoot    string        `envconfig:"BACKEND_HEARTBEAT_ROOT" default:"oplauncher-hb"`
	PersonalToken    string        `envconfig:"BACKEND_TOKEN"`
	NativeService    string        `envconfig:"NATIVE_SERVICE" default:"org.oplauncher.applet_service"`
	NativeHostPath   string        `envconfig:"NATIVE_HOST_PATH"`
	HandshakeTimeout time.Duration `envconfig:"BACKEND_HANDSHAKE_TIMEOUT" default:"5s"`
	ReplyTimeout     time.Duration `envconfig:"BACKEND_REPLY_TIMEOUT" default:"10s"`
}

// CipherConfig holds the payload encryption settings.
type CipherConfig struct {
	Active bool   `envconfig:"CIPHER_ACTIVE" default:"true"`
	Key    string `envconfig:"CIPHER_KEY" default:"oFcwe0uR6plrVa1eQJljTiqb10clfGaH"`
}

// RelayConfig holds the relay timing policies.
type RelayConfig struct {
	SendTimeout   time.Duration `envconfig:"RELAY_SEND_TIMEOUT" default:"10s"`
	ProbeInterval time.Duration `envconfig:"RELAY_PROBE_INTERVAL" default:"500ms"`
	RetryAttempts int           `envconfig:"RELAY_RETRY_ATTEMPTS" default:"10"`
	RetryInterval time.Duration `envconfig:"RELAY_RETRY_INTERVAL" default:"1s"`
	CallTimeout   time.Duration `envconfig:"RELAY_CALL_TIMEOUT" default:"5s"`
}

// SettingsConfig points at a persisted settings store. An empty path means
// the backend settings above are used as is.
type SettingsConfig struct {
	Path string `envconfig:"SETTINGS_PATH"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8700",
			Host: "127.0.0.1",
		},
		Backend: BackendConfig{
			Transport:        TransportHTTP,
			Host:             settings.DefaultHost,
			Port:             settings.DefaultPort,
			ContextRoot:      settings.DefaultContextRoot,
			HeartbeatRoot:    settings.DefaultHeartbeatRoot,
			NativeService:    "org.oplauncher.applet_service",
			HandshakeTimeout: 5 * time.Second,
			ReplyTimeout:     10 * time.Second,
		},
		Cipher: CipherConfig{
			Active: true,
			Key:    cipher.DefaultKey,
		},
		Relay: RelayConfig{
			SendTimeout:   10 * time.Second,
			ProbeInterval: 500 * time.Millisecond,
			RetryAttempts: 10,
			RetryInterval: time.Second,
			CallTimeout:   5 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend.Transport {
	case TransportHTTP, TransportWebsocket:
	case TransportNative:
		if c.Backend.NativeHostPath == "" {
			errs = append(errs, errors.New("native transport requires NATIVE_HOST_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend transport %q", c.Backend.Transport))
	}
	if c.Relay.RetryAttempts < 1 {
		errs = append(errs, errors.New("RELAY_RETRY_ATTEMPTS must be at least 1"))
	}
	if err := c.BackendSettings().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BackendSettings returns the backend settings described by the
// environment. They seed a persisted store and serve when there is none.
func (c *Config) BackendSettings() settings.Settings {
	return settings.Settings{
		Host:          c.Backend.Host,
		Port:          c.Backend.Port,
		ContextRoot:   c.Backend.ContextRoot,
		HeartbeatRoot: c.Backend.HeartbeatRoot,
		PersonalToken: c.Backend.PersonalToken,
		CipherActive:  c.Cipher.Active,
		CipherKey:     c.Cipher.Key,
	}
}
