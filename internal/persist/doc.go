// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist saves and restores conversations, settings, the current
// selection and the model catalog.
//
// Four JSON documents are stored under fixed keys in a pluggable Backend:
// files on disk (default), SQLite, Pebble, Redis or process memory.
//
// # Key Types
//
//   - Backend: Load/Save/Close by key
//   - State: Typed loaders that treat bad data as absent
//   - Mirror: Background writer fed by store, settings and catalog changes
//   - StorageError: Failed backend operation
//
// # Usage
//
//	backend, err := persist.Open(ctx, persist.Options{Backend: "sqlite", Dir: dataDir}, log)
//	state := persist.NewState(backend, metrics, log)
//	st.Restore(state.LoadConversations(ctx), state.LoadCurrent(ctx))
//
//	mirror := persist.NewMirror(state, st, holder, cat, log)
//	defer mirror.Close()
package persist
