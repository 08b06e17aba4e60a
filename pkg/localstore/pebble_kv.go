package localstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
)

const pebbleKeyPrefix = "local:"

// PebbleKV persists the fallback area in an embedded Pebble database.
type PebbleKV struct {
	db *pebble.DB
}

// OpenPebbleKV opens (or creates) a Pebble database at path.
func OpenPebbleKV(path string) (*PebbleKV, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	slog.Info("local store opened", "backend", "pebble", "path", path)
	return &PebbleKV{db: db}, nil
}

// Get returns the value for key.
func (p *PebbleKV) Get(_ context.Context, key string) (string, bool, error) {
	val, closer, err := p.db.Get([]byte(pebbleKeyPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer closer.Close()
	return string(val), true, nil
}

// Set writes value under key and syncs the WAL.
func (p *PebbleKV) Set(_ context.Context, key, value string) error {
	return p.db.Set([]byte(pebbleKeyPrefix+key), []byte(value), pebble.Sync)
}

// Close closes the database.
func (p *PebbleKV) Close() error {
	return p.db.Close()
}
