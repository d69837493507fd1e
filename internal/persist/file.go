// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/sessionchat/internal/util"
)

// FileBackend stores each key as <dir>/<key>.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend: empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("file backend: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.dir, key+".json"), nil
}

// Load reads the key's file.
func (b *FileBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, false, &StorageError{Op: "load", Key: key, Err: err}
	}
	data, ok, err := util.ReadFileIfExists(p)
	if err != nil {
		return nil, false, &StorageError{Op: "load", Key: key, Err: err}
	}
	return data, ok, nil
}

// Save replaces the key's file atomically.
func (b *FileBackend) Save(ctx context.Context, key string, value []byte) error {
	p, err := b.path(key)
	if err != nil {
		return &StorageError{Op: "save", Key: key, Err: err}
	}
	if err := util.AtomicWriteFile(p, value, 0600, 0700); err != nil {
		return &StorageError{Op: "save", Key: key, Err: err}
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error {
	return nil
}
