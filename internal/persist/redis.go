// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisKeyPrefix namespaces every key written by RedisBackend.
const RedisKeyPrefix = "sessionchat:"

// RedisBackend stores keys as plain redis strings.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend connects to url, which may be a redis:// URL or a bare
// host:port, and pings the server.
func NewRedisBackend(ctx context.Context, url string, log *zap.Logger) (*RedisBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if url == "" {
		return nil, fmt.Errorf("redis backend: empty url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("redis_url_parse_failed", zap.Error(err))
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis backend: %w", err)
	}
	log.Info("redis_connected", zap.String("addr", opt.Addr), zap.Int("db", opt.DB))
	return &RedisBackend{rdb: rdb}, nil
}

// Load gets the key.
func (b *RedisBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.rdb.Get(ctx, RedisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "load", Key: key, Err: err}
	}
	return data, true, nil
}

// Save sets the key without expiration.
func (b *RedisBackend) Save(ctx context.Context, key string, value []byte) error {
	if err := b.rdb.Set(ctx, RedisKeyPrefix+key, value, 0).Err(); err != nil {
		return &StorageError{Op: "save", Key: key, Err: err}
	}
	return nil
}

// Close closes the client.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
