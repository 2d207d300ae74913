package settings

import (
	"context"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("settings")

// BoltStore persists settings as key/value pairs in a bbolt database,
// one key per setting.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the settings database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load reads the stored settings, falling back to defaults for missing keys.
func (b *BoltStore) Load(context.Context) (Settings, error) {
	var s Settings
	s.CipherActive = Defaults().CipherActive

	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		get := func(key string) (string, bool) {
			v := bkt.Get([]byte(key))
			return string(v), v != nil
		}

		if v, ok := get(KeyHost); ok {
			s.Host = v
		}
		if v, ok := get(KeyPort); ok {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", KeyPort, err)
			}
			s.Port = port
		}
		if v, ok := get(KeyContextRoot); ok {
			s.ContextRoot = v
		}
		if v, ok := get(KeyHeartbeatRoot); ok {
			s.HeartbeatRoot = v
		}
		if v, ok := get(KeyPersonalToken); ok {
			s.PersonalToken = v
		}
		if v, ok := get(KeyCipherActive); ok {
			active, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", KeyCipherActive, err)
			}
			s.CipherActive = active
		}
		if v, ok := get(KeyCipherKey); ok {
			s.CipherKey = v
		}
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	return s.WithDefaults(), nil
}

// Save writes every field of s.
func (b *BoltStore) Save(_ context.Context, s Settings) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketName), s)
	})
}

// SaveIfEmpty writes s only into a store holding no settings yet, and
// reports whether it did.
func (b *BoltStore) SaveIfEmpty(_ context.Context, s Settings) (bool, error) {
	seeded := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if k, _ := bkt.Cursor().First(); k != nil {
			return nil
		}
		seeded = true
		return put(bkt, s)
	})
	return seeded, err
}

func put(bkt *bolt.Bucket, s Settings) error {
	pairs := map[string]string{
		KeyHost:          s.Host,
		KeyPort:          strconv.Itoa(s.Port),
		KeyContextRoot:   s.ContextRoot,
		KeyHeartbeatRoot: s.HeartbeatRoot,
		KeyPersonalToken: s.PersonalToken,
		KeyCipherActive:  strconv.FormatBool(s.CipherActive),
		KeyCipherKey:     s.CipherKey,
	}
	for k, v := range pairs {
		if err := bkt.Put([]byte(k), []byte(v)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
