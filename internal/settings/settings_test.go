package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/oprelay/internal/cipher"
)

func TestDefaults(t *testing.T) {
	s := Defaults()

	assert.Equal(t, "127.0.0.1", s.Host)
	assert.Equal(t, 7777, s.Port)
	assert.True(t, s.CipherActive)
	assert.Equal(t, "http://127.0.0.1:7777/oplauncher-op", s.EndpointURL())
	assert.Equal(t, "http://127.0.0.1:7777/oplauncher-hb", s.HeartbeatURL())
	assert.Equal(t, "ws://127.0.0.1:7777/oplauncher-op", s.WebsocketURL())
	assert.NoError(t, s.Validate())
}

func TestValidate(t *testing.T) {
	s := Defaults()
	s.Port = 0
	s.CipherKey = "short"
	err := s.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, cipher.ErrInvalidKey)

	s.CipherActive = false
	s.Port = 8080
	assert.NoError(t, s.Validate())
}

func TestSet(t *testing.T) {
	s := Defaults()

	require.NoError(t, s.Set(KeyHost, "10.0.0.2"))
	require.NoError(t, s.Set(KeyPort, "8443"))
	require.NoError(t, s.Set(KeyCipherActive, "false"))
	require.NoError(t, s.Set(KeyPersonalToken, "tkn"))
	assert.Equal(t, "10.0.0.2:8443", s.Address())
	assert.False(t, s.CipherActive)
	assert.Equal(t, "tkn", s.PersonalToken)

	assert.Error(t, s.Set(KeyPort, "eighty"))
	assert.Error(t, s.Set(KeyCipherActive, "maybe"))
	assert.Error(t, s.Set("color", "blue"))
}

func TestStaticFillsDefaults(t *testing.T) {
	s, err := Static(Settings{Port: 9000}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9000, s.Port)
	assert.Equal(t, DefaultHost, s.Host)
	assert.Equal(t, DefaultContextRoot, s.ContextRoot)
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	store, err := OpenBolt(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	s, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)

	want := Defaults()
	want.Port = 8888
	want.PersonalToken = "tkn"
	want.CipherActive = false
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "settings.toml",
			content: `httpPort = 9100
personalToken = "abc"
msgCipherActive = false
`,
		},
		{
			name: "yaml",
			file: "settings.yaml",
			content: `httpPort: 9100
personalToken: abc
msgCipherActive: false
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			s, err := FileStore{Path: path}.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 9100, s.Port)
			assert.Equal(t, "abc", s.PersonalToken)
			assert.False(t, s.CipherActive)
			assert.Equal(t, DefaultHost, s.Host)
			assert.Equal(t, cipher.DefaultKey, s.CipherKey)
		})
	}
}

func TestOpen(t *testing.T) {
	store, closeFn, err := Open("", Settings{Port: 1234})
	require.NoError(t, err)
	defer closeFn()
	_, ok := store.(Static)
	assert.True(t, ok)

	path := filepath.Join(t.TempDir(), "s.db")
	seed := Defaults()
	seed.PersonalToken = "seeded"
	store, closeFn, err = Open(path, seed)
	require.NoError(t, err)
	_, ok = store.(*BoltStore)
	assert.True(t, ok)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "seeded", got.PersonalToken)
	require.NoError(t, closeFn())

	// an existing database is not overwritten by the fallback
	store, closeFn, err = Open(path, Defaults())
	require.NoError(t, err)
	defer closeFn()
	got, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "seeded", got.PersonalToken)
}
