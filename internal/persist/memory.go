// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryBackend keeps values in process memory. Nothing survives a
// restart.
type MemoryBackend struct {
	c *cache.Cache
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{c: cache.New(cache.NoExpiration, 10*time.Minute)}
}

// Load returns a copy of the stored value.
func (b *MemoryBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := b.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	data := v.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Save stores a copy of value.
func (b *MemoryBackend) Save(ctx context.Context, key string, value []byte) error {
	data := make([]byte, len(value))
	copy(data, value)
	b.c.Set(key, data, cache.NoExpiration)
	return nil
}

// Close drops every value.
func (b *MemoryBackend) Close() error {
	b.c.Flush()
	return nil
}
