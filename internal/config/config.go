// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// sessionchat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.sessionchat/config.toml
//   - ~/.sessionchat/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/sessionchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete sessionchat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Cloud (OpenRouter) configuration
	Cloud CloudConfig `toml:"cloud" json:"cloud"`

	// Storage backend configuration
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Log configuration
	Log LogConfig `toml:"log" json:"log"`

	// HTTP API configuration
	Server ServerConfig `toml:"server" json:"server"`

	// Chat defaults
	Chat ChatConfig `toml:"chat" json:"chat"`
}

// CloudConfig contains model provider configuration.
type CloudConfig struct {
	// BaseURL is the OpenRouter-compatible API root
	BaseURL string `toml:"base_url" json:"base_url"`
	// AppURL is sent as HTTP-Referer
	AppURL string `toml:"app_url" json:"app_url"`
	// AppName is sent as X-Title
	AppName string `toml:"app_name" json:"app_name"`
	// TimeoutSecs bounds a single request
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// RequestsPerSecond and Burst shape outbound traffic (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`

	// APIKey seeds the chat settings on first run only. The live key is
	// part of the persisted settings.
	APIKey string `toml:"api_key" json:"api_key"`
	// DefaultModel seeds the selected model on first run only
	DefaultModel string `toml:"default_model" json:"default_model"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is one of "file", "sqlite", "pebble", "redis", "memory"
	Backend string `toml:"backend" json:"backend"`
	// Dir holds file, sqlite and pebble data (empty = ~/.sessionchat/data)
	Dir string `toml:"dir" json:"dir"`
	// RedisURL is required for the redis backend
	RedisURL string `toml:"redis_url" json:"redis_url"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `toml:"level" json:"level"`
	// File is the JSON log file (empty = ~/.sessionchat/logs/sessionchat.log)
	File       string `toml:"file" json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
	// Console also writes human-readable logs to stderr
	Console bool `toml:"console" json:"console"`
}

// ServerConfig contains HTTP API configuration.
type ServerConfig struct {
	Addr           string `toml:"addr" json:"addr"`
	MetricsEnabled bool   `toml:"metrics_enabled" json:"metrics_enabled"`
	// AuthToken, when set, is required as a Bearer token on /api routes
	AuthToken string `toml:"auth_token" json:"auth_token"`
	// RequestsPerMinute limits each client IP (0 = unlimited)
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
}

// ChatConfig contains chat defaults.
type ChatConfig struct {
	// DefaultPersona seeds the persona on first run
	DefaultPersona string `toml:"default_persona" json:"default_persona"`
	// HistoryFile keeps REPL input history (empty = ~/.sessionchat/history)
	HistoryFile string `toml:"history_file" json:"history_file"`
}

// Valid backend and level names.
var (
	validBackends = []string{"file", "sqlite", "pebble", "redis", "memory"}
	validLevels   = []string{"debug", "info", "warn", "error"}
)

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values. Paths are left
// empty and resolved by SetDefaults.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Cloud: CloudConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			AppURL:            "https://github.com/jeranaias/sessionchat",
			AppName:           "sessionchat",
			TimeoutSecs:       120,
			RequestsPerSecond: 5,
			Burst:             10,
		},

		Storage: StorageConfig{
			Backend: "file",
		},

		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Console:    false,
		},

		Server: ServerConfig{
			Addr:              "127.0.0.1:8787",
			MetricsEnabled:    true,
			RequestsPerMinute: 120,
		},

		Chat: ChatConfig{
			DefaultPersona: "You are a helpful assistant.",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the sessionchat configuration directory path.
// SESSIONCHAT_HOME overrides the default ~/.sessionchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("SESSIONCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".sessionchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files may hold an API key and must be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			cfg, err := LoadFromPath(tomlPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	if loadErr == nil {
		if jsonPath, err := ConfigPathJSON(); err == nil {
			if _, statErr := os.Stat(jsonPath); statErr == nil {
				cfg, err := LoadFromPath(jsonPath)
				if err == nil {
					return cfg, nil
				}
				loadErr = err
			}
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Return defaults (with any load error for informational purposes)
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Keys missing from the file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills empty values and resolves paths under ConfigDir.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	// Cloud
	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = defaults.Cloud.BaseURL
	}
	c.Cloud.BaseURL = strings.TrimSuffix(c.Cloud.BaseURL, "/")
	if c.Cloud.AppURL == "" {
		c.Cloud.AppURL = defaults.Cloud.AppURL
	}
	if c.Cloud.AppName == "" {
		c.Cloud.AppName = defaults.Cloud.AppName
	}
	if c.Cloud.TimeoutSecs == 0 {
		c.Cloud.TimeoutSecs = defaults.Cloud.TimeoutSecs
	}

	// Storage
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}

	// Log
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = defaults.Log.MaxSizeMB
	}

	// Server
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}

	// Paths
	dir, err := ConfigDir()
	if err != nil {
		dir = ".sessionchat"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join(dir, "data")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(dir, "logs", "sessionchat.log")
	}
	if c.Chat.HistoryFile == "" {
		c.Chat.HistoryFile = filepath.Join(dir, "history")
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf strings.Builder
	buf.WriteString("# sessionchat configuration file\n")
	buf.WriteString("# Generated by sessionchat - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Cloud.BaseURL != "" {
		u, err := url.Parse(c.Cloud.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "cloud.base_url",
				Message: fmt.Sprintf("must be an http(s) URL, got %q", c.Cloud.BaseURL),
			})
		}
	}
	if c.Cloud.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "cloud.timeout_secs", Message: "must not be negative"})
	}
	if c.Cloud.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "cloud.requests_per_second", Message: "must not be negative"})
	}
	if c.Cloud.Burst < 0 {
		errs = append(errs, ValidationError{Field: "cloud.burst", Message: "must not be negative"})
	}

	if c.Storage.Backend != "" && !contains(validBackends, c.Storage.Backend) {
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("must be one of %s, got %q", strings.Join(validBackends, ", "), c.Storage.Backend),
		})
	}
	if c.Storage.Backend == "redis" && c.Storage.RedisURL == "" {
		errs = append(errs, ValidationError{Field: "storage.redis_url", Message: "required for the redis backend"})
	}

	if c.Log.Level != "" && !contains(validLevels, c.Log.Level) {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("must be one of %s, got %q", strings.Join(validLevels, ", "), c.Log.Level),
		})
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{Field: "log", Message: "rotation limits must not be negative"})
	}
	if c.Server.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{Field: "server.requests_per_minute", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - SESSIONCHAT_API_KEY: overrides cloud.api_key
//   - SESSIONCHAT_MODEL: overrides cloud.default_model
//   - SESSIONCHAT_BASE_URL: overrides cloud.base_url
//   - SESSIONCHAT_RPS: overrides cloud.requests_per_second
//   - SESSIONCHAT_BACKEND: overrides storage.backend
//   - SESSIONCHAT_DATA_DIR: overrides storage.dir
//   - REDIS_URL: overrides storage.redis_url
//   - SESSIONCHAT_LOG_LEVEL: overrides log.level
//   - SESSIONCHAT_ADDR: overrides server.addr
//   - SESSIONCHAT_AUTH_TOKEN: overrides server.auth_token
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("SESSIONCHAT_API_KEY"); key != "" {
		c.Cloud.APIKey = key
	}
	if model := os.Getenv("SESSIONCHAT_MODEL"); model != "" {
		c.Cloud.DefaultModel = model
	}
	if base := os.Getenv("SESSIONCHAT_BASE_URL"); base != "" {
		c.Cloud.BaseURL = base
	}
	if rps := os.Getenv("SESSIONCHAT_RPS"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			c.Cloud.RequestsPerSecond = v
		}
	}
	if backend := os.Getenv("SESSIONCHAT_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if dir := os.Getenv("SESSIONCHAT_DATA_DIR"); dir != "" {
		c.Storage.Dir = dir
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Storage.RedisURL = redisURL
	}
	if level := os.Getenv("SESSIONCHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if addr := os.Getenv("SESSIONCHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if token := os.Getenv("SESSIONCHAT_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a JSON representation with the API key redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Cloud.APIKey != "" {
		safe.Cloud.APIKey = "[REDACTED]"
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	if safe.Storage.RedisURL != "" {
		if u, err := url.Parse(safe.Storage.RedisURL); err == nil && u.User != nil {
			u.User = url.User("[REDACTED]")
			safe.Storage.RedisURL = u.String()
		}
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// ErrNoConfig is returned by ReloadGlobal when no configuration could be
// loaded at all.
var ErrNoConfig = errors.New("no configuration loaded")

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
			cfg.SetDefaults()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if cfg == nil {
		if err == nil {
			err = ErrNoConfig
		}
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return err
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
