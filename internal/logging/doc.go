// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the structured logger shared by every component.
//
// Entries are written as JSON lines to a size-rotated file and, optionally,
// to a console core. The level is atomic so a config reload can change it
// without rebuilding the logger.
//
// # Usage
//
//	log, err := logging.New(logging.Options{Level: "info", File: path})
//	if err != nil {
//	    return err
//	}
//	defer log.Close()
//	storeLog := log.Module("store")
package logging
