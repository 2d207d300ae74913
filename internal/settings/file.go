package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// FileStore reads settings from a TOML or YAML file on every Load, so
// edits take effect on the next backend call.
type FileStore struct {
	Path string
}

// fileSettings uses pointers so absent keys keep their defaults.
type fileSettings struct {
	Host          *string `toml:"hostURL" yaml:"hostURL"`
	Port          *int    `toml:"httpPort" yaml:"httpPort"`
	ContextRoot   *string `toml:"contextRoot" yaml:"contextRoot"`
	HeartbeatRoot *string `toml:"heartbeatRoot" yaml:"heartbeatRoot"`
	PersonalToken *string `toml:"personalToken" yaml:"personalToken"`
	CipherActive  *bool   `toml:"msgCipherActive" yaml:"msgCipherActive"`
	CipherKey     *string `toml:"cipherKey" yaml:"cipherKey"`
}

// Load parses the file according to its extension.
func (f FileStore) Load(context.Context) (Settings, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var fs fileSettings
	switch ext := strings.ToLower(filepath.Ext(f.Path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &fs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fs)
	default:
		return Settings{}, fmt.Errorf("unsupported settings format %q", ext)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", f.Path, err)
	}

	return fs.apply(Defaults()), nil
}

func (fs fileSettings) apply(s Settings) Settings {
	if fs.Host != nil {
		s.Host = *fs.Host
	}
	if fs.Port != nil {
		s.Port = *fs.Port
	}
	if fs.ContextRoot != nil {
		s.ContextRoot = *fs.ContextRoot
	}
	if fs.HeartbeatRoot != nil {
		s.HeartbeatRoot = *fs.HeartbeatRoot
	}
	if fs.PersonalToken != nil {
		s.PersonalToken = *fs.PersonalToken
	}
	if fs.CipherActive != nil {
		s.CipherActive = *fs.CipherActive
	}
	if fs.CipherKey != nil {
		s.CipherKey = *fs.CipherKey
	}
	return s.WithDefaults()
}

// Open picks a Store for path by extension: .db for bbolt, .toml/.yaml/.yml
// for FileStore. An empty path yields fallback.
func Open(path string, fallback Settings) (Store, func() error, error) {
	noop := func() error { return nil }
	if path == "" {
		return Static(fallback), noop, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".bolt":
		store, err := OpenBolt(path)
		if err != nil {
			return nil, noop, err
		}
		if _, err := store.SaveIfEmpty(context.Background(), fallback); err != nil {
			store.Close()
			return nil, noop, fmt.Errorf("seed settings db: %w", err)
		}
		return store, store.Close, nil
	default:
		return FileStore{Path: path}, noop, nil
	}
}
