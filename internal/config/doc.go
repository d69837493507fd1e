// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// sessionchat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - CloudConfig: Provider endpoint, app identity and rate limit
//   - StorageConfig: Persistence backend selection
//   - LogConfig: Level, rotation and console output
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SESSIONCHAT_*, REDIS_URL), optionally from .env
//   - ~/.sessionchat/config.toml
//   - ~/.sessionchat/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	_ = config.LoadDotEnv()
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// React to edits:
//
//	config.Watch(ctx, path, 0, func(cfg *config.Config, err error) {
//	    if err == nil {
//	        logger.SetLevel(cfg.Log.Level)
//	    }
//	})
package config
