package cipher

import "sync"

// DefaultKey is the static key shared with a stock backend installation.
const DefaultKey = "oFcwe0uR6plrVa1eQJljTiqb10clfGaH"

// Config is the encryption configuration in effect for one call.
type Config struct {
	Active       bool
	Key          string
	SessionToken string
}

// EffectiveKey returns the session token when present, else the static key.
func (c Config) EffectiveKey() string {
	if c.SessionToken != "" {
		return c.SessionToken
	}
	return c.Key
}

// Keyring holds the session token issued by the backend. The token
// supersedes the static key until Clear is called.
type Keyring struct {
	mu    sync.RWMutex
	token string
}

// Adopt stores a new session token.
func (k *Keyring) Adopt(token string) {
	k.mu.Lock()
	k.token = token
	k.mu.Unlock()
}

// Clear drops the session token.
func (k *Keyring) Clear() {
	k.mu.Lock()
	k.token = ""
	k.mu.Unlock()
}

// Token returns the current session token, or "".
func (k *Keyring) Token() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.token
}

// Config combines the static settings with the current session token.
func (k *Keyring) Config(active bool, key string) Config {
	return Config{Active: active, Key: key, SessionToken: k.Token()}
}
