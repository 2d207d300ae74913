package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/oprelay/internal/cipher"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8700", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	// Backend config
	assert.Equal(t, TransportHTTP, cfg.Backend.Transport)
	assert.Equal(t, 7777, cfg.Backend.Port)
	assert.Equal(t, "oplauncher-op", cfg.Backend.ContextRoot)
	assert.Equal(t, "oplauncher-hb", cfg.Backend.HeartbeatRoot)

	// Cipher config
	assert.True(t, cfg.Cipher.Active)
	assert.Equal(t, cipher.DefaultKey, cfg.Cipher.Key)

	// Relay config
	assert.Equal(t, 500*time.Millisecond, cfg.Relay.ProbeInterval)
	assert.Equal(t, 10, cfg.Relay.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Relay.RetryInterval)
	assert.Equal(t, 5*time.Second, cfg.Relay.CallTimeout)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                 "9000",
		"HOST":                 "0.0.0.0",
		"BACKEND_TRANSPORT":    "native",
		"NATIVE_HOST_PATH":     "/opt/oplauncher/bin/host",
		"BACKEND_PORT":         "7800",
		"BACKEND_TOKEN":        "secret",
		"CIPHER_ACTIVE":        "false",
		"RELAY_RETRY_ATTEMPTS": "3",
		"RELAY_PROBE_INTERVAL": "250ms",
		"SETTINGS_PATH":        "/var/lib/oprelay/settings.db",
		"LOG_LEVEL":            "debug",
		"LOG_DEV":              "true",
		"RATE_LIMIT_RPS":       "500",
		"RATE_LIMIT_ENABLED":   "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, TransportNative, cfg.Backend.Transport)
	assert.Equal(t, "/opt/oplauncher/bin/host", cfg.Backend.NativeHostPath)
	assert.Equal(t, 7800, cfg.Backend.Port)
	assert.False(t, cfg.Cipher.Active)
	assert.Equal(t, 3, cfg.Relay.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.ProbeInterval)
	assert.Equal(t, "/var/lib/oprelay/settings.db", cfg.Settings.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.RateLimit.Enabled)

	// untouched values keep their defaults
	assert.Equal(t, "oplauncher-op", cfg.Backend.ContextRoot)
	assert.Equal(t, 200, cfg.RateLimit.Burst)

	assert.NoError(t, cfg.Validate())
}

func TestLoadOrDefault_BadValue(t *testing.T) {
	t.Setenv("BACKEND_PORT", "not-a-port")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 7777, cfg.Backend.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Backend.Transport = "carrier-pigeon" },
			wantErr: "unknown backend transport",
		},
		{
			name:    "native without host path",
			mutate:  func(c *Config) { c.Backend.Transport = TransportNative },
			wantErr: "NATIVE_HOST_PATH",
		},
		{
			name:    "no retry attempts",
			mutate:  func(c *Config) { c.Relay.RetryAttempts = 0 },
			wantErr: "RELAY_RETRY_ATTEMPTS",
		},
		{
			name:    "bad cipher key",
			mutate:  func(c *Config) { c.Cipher.Key = "short" },
			wantErr: "key",
		},
		{
			name:   "bad cipher key ignored when inactive",
			mutate: func(c *Config) { c.Cipher.Active = false; c.Cipher.Key = "short" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBackendSettings(t *testing.T) {
	cfg := Default()
	cfg.Backend.PersonalToken = "tkn"

	s := cfg.BackendSettings()
	assert.Equal(t, "127.0.0.1:7777", s.Address())
	assert.Equal(t, "tkn", s.PersonalToken)
	assert.True(t, s.CipherActive)
	assert.Equal(t, cipher.DefaultKey, s.CipherKey)
}
