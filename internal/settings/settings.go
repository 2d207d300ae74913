// Package settings holds the user-editable backend connection settings that
// the relay reads before every backend call.
package settings

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/oprelay/internal/cipher"
)

// Storage keys, shared by every Store implementation.
const (
	KeyHost          = "hostURL"
	KeyPort          = "httpPort"
	KeyContextRoot   = "contextRoot"
	KeyHeartbeatRoot = "heartbeatRoot"
	KeyPersonalToken = "personalToken"
	KeyCipherActive  = "msgCipherActive"
	KeyCipherKey     = "cipherKey"
)

const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 7777
	DefaultContextRoot   = "oplauncher-op"
	DefaultHeartbeatRoot = "oplauncher-hb"
)

// Settings is one snapshot of the backend connection settings.
type Settings struct {
	Host          string `json:"hostURL" toml:"hostURL" yaml:"hostURL"`
	Port          int    `json:"httpPort" toml:"httpPort" yaml:"httpPort"`
	ContextRoot   string `json:"contextRoot" toml:"contextRoot" yaml:"contextRoot"`
	HeartbeatRoot string `json:"heartbeatRoot" toml:"heartbeatRoot" yaml:"heartbeatRoot"`
	PersonalToken string `json:"personalToken" toml:"personalToken" yaml:"personalToken"`
	CipherActive  bool   `json:"msgCipherActive" toml:"msgCipherActive" yaml:"msgCipherActive"`
	CipherKey     string `json:"cipherKey" toml:"cipherKey" yaml:"cipherKey"`
}

// Defaults returns the settings of a stock installation.
func Defaults() Settings {
	return Settings{
		Host:          DefaultHost,
		Port:          DefaultPort,
		ContextRoot:   DefaultContextRoot,
		HeartbeatRoot: DefaultHeartbeatRoot,
		CipherActive:  true,
		CipherKey:     cipher.DefaultKey,
	}
}

// WithDefaults fills empty fields from Defaults. CipherActive is left as is.
func (s Settings) WithDefaults() Settings {
	d := Defaults()
	if s.Host == "" {
		s.Host = d.Host
	}
	if s.Port == 0 {
		s.Port = d.Port
	}
	if s.ContextRoot == "" {
		s.ContextRoot = d.ContextRoot
	}
	if s.HeartbeatRoot == "" {
		s.HeartbeatRoot = d.HeartbeatRoot
	}
	if s.CipherKey == "" {
		s.CipherKey = d.CipherKey
	}
	return s
}

// Validate checks the settings are usable for a backend call.
func (s Settings) Validate() error {
	var errs []error
	if s.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if s.CipherActive {
		if _, err := cipher.DecodeKey(s.CipherKey); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Address returns host:port.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BaseURL returns http://host:port.
func (s Settings) BaseURL() string {
	return "http://" + s.Address()
}

// EndpointURL returns the URL backend operations are posted to.
func (s Settings) EndpointURL() string {
	return s.BaseURL() + "/" + strings.TrimPrefix(s.ContextRoot, "/")
}

// HeartbeatURL returns the URL of the backend health probe.
func (s Settings) HeartbeatURL() string {
	return s.BaseURL() + "/" + strings.TrimPrefix(s.HeartbeatRoot, "/")
}

// WebsocketURL returns the ws:// URL of the duplex endpoint.
func (s Settings) WebsocketURL() string {
	return "ws://" + s.Address() + "/" + strings.TrimPrefix(s.ContextRoot, "/")
}

// Set assigns one field by its storage key.
func (s *Settings) Set(key, value string) error {
	switch key {
	case KeyHost:
		s.Host = value
	case KeyPort:
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.Port = port
	case KeyContextRoot:
		s.ContextRoot = value
	case KeyHeartbeatRoot:
		s.HeartbeatRoot = value
	case KeyPersonalToken:
		s.PersonalToken = value
	case KeyCipherActive:
		active, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.CipherActive = active
	case KeyCipherKey:
		s.CipherKey = value
	default:
		return fmt.Errorf("unknown settings key %q", key)
	}
	return nil
}

// Store supplies settings. Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context) (Settings, error)
}

// Static is a Store that always returns the same settings.
type Static Settings

// Load returns the static settings.
func (s Static) Load(context.Context) (Settings, error) {
	return Settings(s).WithDefaults(), nil
}
