// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Logical keys. Each holds one JSON document.
const (
	KeyConversations = "conversations"
	KeySettings      = "settings"
	KeyCurrent       = "current_conversation"
	KeyCatalog       = "model_catalog"
)

// Keys lists every logical key in a stable order.
var Keys = []string{KeyConversations, KeySettings, KeyCurrent, KeyCatalog}

// Backend stores opaque values by key. Each Save replaces one key
// atomically; there are no cross-key transactions.
type Backend interface {
	// Load returns the stored value. ok is false when the key was never
	// written.
	Load(ctx context.Context, key string) (value []byte, ok bool, err error)
	Save(ctx context.Context, key string, value []byte) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// StorageError wraps a backend failure with the operation and key.
type StorageError struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the backend error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of file, sqlite, pebble, redis or memory.
	// Default: file
	Backend string

	// Dir is the data directory for the file, sqlite and pebble backends.
	Dir string

	// RedisURL is a redis:// URL or a plain host:port.
	RedisURL string
}

// Open creates the configured backend.
func Open(ctx context.Context, opts Options, log *zap.Logger) (Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return NewFileBackend(opts.Dir)
	case BackendSQLite:
		return NewSQLiteBackend(filepath.Join(opts.Dir, "sessionchat.db"))
	case BackendPebble:
		return NewPebbleBackend(filepath.Join(opts.Dir, "pebble"), log)
	case BackendRedis:
		return NewRedisBackend(ctx, opts.RedisURL, log)
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
