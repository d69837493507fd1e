// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/sessionchat/internal/app"
	"github.com/jeranaias/sessionchat/internal/catalog"
	"github.com/jeranaias/sessionchat/internal/config"
	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/server"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// Run executes cmd.
func Run(cmd Command, args Args) error {
	switch cmd {
	case CmdChat:
		return HandleChat(args)
	case CmdServe:
		return HandleServe(args)
	case CmdModels:
		return HandleModels(args, os.Stdout)
	case CmdConfig:
		return HandleConfig(args, os.Stdout)
	case CmdVersion:
		return HandleVersion(args, os.Stdout)
	default:
		fmt.Fprint(os.Stdout, UsageText)
		return nil
	}
}

// =============================================================================
// CONFIG
// =============================================================================

// loadConfig loads the config file named by args (or the default one),
// applies flag overrides and validates the result. The returned path is
// the file to watch, or "" when no config file exists.
func loadConfig(args Args) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "%s could not load .env: %v\n", WarningStyle.Render("Warning:"), err)
	}

	var (
		cfg  *config.Config
		path string
		err  error
	)
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
		if err != nil {
			return nil, "", err
		}
		path = args.ConfigPath
	} else {
		cfg, err = config.Load()
		if cfg == nil {
			return nil, "", err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v (using defaults)\n", WarningStyle.Render("Warning:"), err)
		}
		if p, perr := config.ConfigPathTOML(); perr == nil {
			if _, serr := os.Stat(p); serr == nil {
				path = p
			}
		}
	}

	if args.Backend != "" {
		cfg.Storage.Backend = args.Backend
	}
	if args.DataDir != "" {
		cfg.Storage.Dir = args.DataDir
	}
	if args.LogLevel != "" {
		cfg.Log.Level = args.LogLevel
	}
	if args.Console {
		cfg.Log.Console = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, path, nil
}

// =============================================================================
// CHAT
// =============================================================================

// HandleChat runs the interactive REPL.
func HandleChat(args Args) error {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, app.Options{Config: cfg, ConfigPath: path})
	if err != nil {
		return err
	}
	defer a.Close()

	if !args.NoRefresh {
		go func() {
			if err := a.RefreshCatalog(ctx, false); err != nil {
				a.Log.Module("cli").Warn("startup_refresh_failed", zap.Error(err))
			}
		}()
	}

	interactive := IsTTY()
	var reader LineReader
	if interactive {
		reader = NewChatCLI(cfg.Chat.HistoryFile)
	} else {
		reader = NewScanReader(os.Stdin)
	}
	defer reader.Close()

	repl := NewREPL(a, REPLOptions{
		Reader:  reader,
		Out:     os.Stdout,
		Spinner: interactive && IsStdoutTTY(),
	})

	// Ctrl+C outside the prompt stops waiting for the pending reply, which
	// still completes; with nothing pending it ends the session.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				if repl.Interrupt() {
					fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Interrupted]"))
					continue
				}
				cancel()
				return
			}
		}
	}()

	return repl.Run(ctx)
}

// =============================================================================
// SERVE
// =============================================================================

// HandleServe runs the HTTP API until SIGINT or SIGTERM.
func HandleServe(args Args) error {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{Config: cfg, ConfigPath: path})
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.Log.Module("cli")

	addr := args.Addr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	srv := server.New(a, server.Options{
		Addr:              addr,
		AuthToken:         cfg.Server.AuthToken,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		MetricsEnabled:    cfg.Server.MetricsEnabled,
		Version:           Version,
	})

	go func() {
		if err := a.RefreshCatalog(ctx, false); err != nil {
			log.Warn("startup_refresh_failed", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(os.Stderr, "%s listening on http://%s\n", TitleStyle.Render("sessionchat"), srv.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown_requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return <-errCh
}

// =============================================================================
// MODELS
// =============================================================================

// modelJSON is one row of "models --json".
type modelJSON struct {
	model.ModelData
	Capabilities catalog.Capabilities `json:"capabilities"`
	Selected     bool                 `json:"selected,omitempty"`
}

// HandleModels lists the catalog, refreshing it first unless --cached.
func HandleModels(args Args, out io.Writer) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	ctx := context.Background()

	a, err := app.New(ctx, app.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer a.Close()

	if !args.Cached {
		if err := a.RefreshCatalog(ctx, true); err != nil {
			if a.Catalog.Len() == 0 {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s could not refresh models: %v (showing %d cached)\n",
				WarningStyle.Render("Warning:"), err, a.Catalog.Len())
		}
	}

	list := catalog.Filter(a.Catalog.Models(), args.Search, catalog.Filters{
		FreeOnly:      args.Free,
		VisionOnly:    args.Vision,
		ModeratedOnly: args.Moderated,
	})
	selected := a.Settings.Get().Model

	if args.JSON {
		rows := make([]modelJSON, 0, len(list))
		for _, m := range list {
			rows = append(rows, modelJSON{
				ModelData:    m,
				Capabilities: a.Catalog.Capabilities(m.ID),
				Selected:     m.ID == selected,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	r := NewRenderer(out, 0)
	r.ModelTable(list, selected, 0)
	r.Info("%d of %d models", len(list), a.Catalog.Len())
	return nil
}

// =============================================================================
// VERSION
// =============================================================================

// HandleVersion prints build information.
func HandleVersion(args Args, out io.Writer) error {
	if args.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
			"go_version": runtime.Version(),
		})
	}
	fmt.Fprintln(out, VersionString())
	return nil
}
