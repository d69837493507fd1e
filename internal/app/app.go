// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app assembles the chat engine from configuration: logger,
// metrics, provider client, store, settings, catalog, send pipeline and the
// persistence mirror. Both the REPL and the HTTP API run on an App.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/sessionchat/internal/catalog"
	"github.com/jeranaias/sessionchat/internal/cloud"
	"github.com/jeranaias/sessionchat/internal/config"
	"github.com/jeranaias/sessionchat/internal/logging"
	"github.com/jeranaias/sessionchat/internal/metrics"
	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/persist"
	"github.com/jeranaias/sessionchat/internal/pipeline"
	"github.com/jeranaias/sessionchat/internal/settings"
	"github.com/jeranaias/sessionchat/internal/store"
)

// DefaultRefreshTimeout bounds the startup catalog refresh.
const DefaultRefreshTimeout = 30 * time.Second

// Options controls how an App is built.
type Options struct {
	// Config is used as-is. When nil, config.Load is called.
	Config *config.Config

	// ConfigPath is watched for changes to the log level. Empty disables
	// watching.
	ConfigPath string

	// HTTPClient overrides the provider HTTP client (tests).
	HTTPClient *http.Client

	// ConsoleOut receives console logs when cfg.Log.Console is set.
	// Default: os.Stderr
	ConsoleOut io.Writer
}

// App holds every long-lived component.
type App struct {
	Config   *config.Config
	Log      *logging.Logger
	Metrics  *metrics.Metrics
	Client   *cloud.Client
	Store    *store.Store
	Settings *settings.Holder
	Catalog  *catalog.Catalog
	Pipeline *pipeline.Pipeline
	State    *persist.State
	Mirror   *persist.Mirror

	// FirstRun is true when no settings were persisted before this start.
	FirstRun bool

	log         *zap.Logger
	backend     persist.Backend
	stopWatch   context.CancelFunc
	closeOnce   sync.Once
	closeResult error
}

// New builds an App and restores the persisted state. The returned App
// must be closed.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil && loaded == nil {
			return nil, err
		}
		cfg = loaded
	}

	consoleOut := opts.ConsoleOut
	if consoleOut == nil {
		consoleOut = os.Stderr
	}
	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    cfg.Log.Console,
		ConsoleOut: consoleOut,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &App{
		Config:  cfg,
		Log:     logger,
		Metrics: metrics.New(),
		log:     logger.Module("app"),
	}

	a.Client = cloud.NewClient(cloud.Options{
		BaseURL:           cfg.Cloud.BaseURL,
		SiteURL:           cfg.Cloud.AppURL,
		SiteName:          cfg.Cloud.AppName,
		Timeout:           time.Duration(cfg.Cloud.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Cloud.RequestsPerSecond,
		Burst:             cfg.Cloud.Burst,
		HTTPClient:        opts.HTTPClient,
		Logger:            logger.Module("cloud"),
	})

	backend, err := persist.Open(ctx, persist.Options{
		Backend:  cfg.Storage.Backend,
		Dir:      cfg.Storage.Dir,
		RedisURL: cfg.Storage.RedisURL,
	}, logger.Module("persist"))
	if err != nil {
		logger.Close()
		return nil, err
	}
	a.backend = backend
	a.State = persist.NewState(backend, a.Metrics, logger.Module("persist"))

	a.Store = store.New(logger.Module("store"))
	a.Settings = settings.New(model.ChatSettings{})
	a.Catalog = catalog.New(a.Client, a.Settings, a.Metrics, logger.Module("catalog"))
	a.restore(ctx)

	a.Pipeline = pipeline.New(a.Store, a.Settings, a.Catalog, a.Client, a.Metrics, logger.Module("pipeline"))
	a.Mirror = persist.NewMirror(a.State, a.Store, a.Settings, a.Catalog, logger.Module("persist"))
	if a.FirstRun {
		a.Mirror.SaveAll()
	}

	a.Metrics.GaugeFunc("conversations", "Number of conversations in the store.", func() float64 {
		return float64(a.Store.Len())
	})
	a.Metrics.GaugeFunc("catalog_models", "Number of models in the catalog.", func() float64 {
		return float64(a.Catalog.Len())
	})

	if opts.ConfigPath != "" {
		a.watchConfig(opts.ConfigPath)
	}

	a.log.Info("app_started",
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("conversations", a.Store.Len()),
		zap.Int("models", a.Catalog.Len()),
		zap.Bool("first_run", a.FirstRun),
	)
	return a, nil
}

// restore loads persisted state into the store, settings and catalog.
// Config values seed the settings on first run and fill blanks afterwards.
func (a *App) restore(ctx context.Context) {
	convs := a.State.LoadConversations(ctx)
	current := a.State.LoadCurrent(ctx)
	a.Store.Restore(convs, current)

	saved, ok := a.State.LoadSettings(ctx)
	a.FirstRun = !ok
	if !ok {
		saved.Persona = a.Config.Chat.DefaultPersona
	}
	if !saved.HasAPIKey() {
		saved.APIKey = a.Config.Cloud.APIKey
	}
	if !saved.HasModel() {
		saved.Model = a.Config.Cloud.DefaultModel
	}
	a.Settings.Restore(saved)

	a.Catalog.Restore(a.State.LoadCatalog(ctx))
}

func (a *App) watchConfig(path string) {
	ctx, cancel := context.WithCancel(context.Background())
	err := config.Watch(ctx, path, config.DefaultWatchDebounce, func(cfg *config.Config, err error) {
		if err != nil {
			a.log.Warn("config_reload_failed", zap.String("path", path), zap.Error(err))
			return
		}
		if cfg.Log.Level == a.Log.Level() {
			return
		}
		if err := a.Log.SetLevel(cfg.Log.Level); err != nil {
			a.log.Warn("log_level_rejected", zap.String("level", cfg.Log.Level), zap.Error(err))
			return
		}
		a.log.Info("log_level_changed", zap.String("level", cfg.Log.Level))
	})
	if err != nil {
		cancel()
		a.log.Warn("config_watch_failed", zap.String("path", path), zap.Error(err))
		return
	}
	a.stopWatch = cancel
}

// RefreshCatalog refreshes the model list when it is empty or when force
// is set. Failures leave the restored list in place.
func (a *App) RefreshCatalog(ctx context.Context, force bool) error {
	if !force && a.Catalog.Len() > 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultRefreshTimeout)
	defer cancel()
	_, err := a.Catalog.Refresh(ctx)
	return err
}

// Close flushes pending writes and releases the backend and the logger.
// It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.stopWatch != nil {
			a.stopWatch()
		}
		if a.Mirror != nil {
			if err := a.Mirror.Close(); err != nil {
				a.log.Warn("mirror_close_failed", zap.Error(err))
			}
		}
		if a.backend != nil {
			if err := a.backend.Close(); err != nil {
				a.closeResult = err
				a.log.Warn("backend_close_failed", zap.Error(err))
			}
		}
		a.log.Info("app_stopped")
		a.Log.Close()
	})
	return a.closeResult
}
