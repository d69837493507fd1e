// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleBackend stores keys in an embedded Pebble database. Writes are
// synced before Save returns.
type PebbleBackend struct {
	mu   sync.Mutex
	db   *pebble.DB
	path string
	log  *zap.Logger
}

// NewPebbleBackend opens (or creates) the database directory at path.
func NewPebbleBackend(path string, log *zap.Logger) (*PebbleBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	log.Info("pebble_opened", zap.String("path", path))
	return &PebbleBackend{db: db, path: path, log: log}, nil
}

func (b *PebbleBackend) handle() (*pebble.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, pebble.ErrClosed
	}
	return b.db, nil
}

// Load reads the key. The returned slice is a copy.
func (b *PebbleBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := b.handle()
	if err != nil {
		return nil, false, &StorageError{Op: "load", Key: key, Err: err}
	}
	v, closer, err := db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "load", Key: key, Err: err}
	}
	out := make([]byte, len(v))
	copy(out, v)
	closer.Close()
	return out, true, nil
}

// Save writes the key with pebble.Sync.
func (b *PebbleBackend) Save(ctx context.Context, key string, value []byte) error {
	db, err := b.handle()
	if err != nil {
		return &StorageError{Op: "save", Key: key, Err: err}
	}
	if err := db.Set([]byte(key), value, pebble.Sync); err != nil {
		return &StorageError{Op: "save", Key: key, Err: err}
	}
	return nil
}

// Close closes the database. Calling it twice is safe.
func (b *PebbleBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil
	b.log.Info("pebble_closed", zap.String("path", b.path))
	return nil
}
