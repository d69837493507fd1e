// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog maintains the list of remote models and answers
// capability questions about them.
//
// # Key Types
//
//   - Catalog: Sorted, atomically replaced model list
//   - Capabilities: Vision, free-tier and moderation flags for one model
//   - Filters: Free, vision and moderated listing restrictions
//   - CatalogFetchError: Failed refresh; the previous list is kept
//
// # Usage
//
//	cat := catalog.New(client, holder, metrics, log)
//	if _, err := cat.Refresh(ctx); err != nil {
//	    var ferr *catalog.CatalogFetchError
//	    if errors.As(err, &ferr) {
//	        // show "catalog stale" warning
//	    }
//	}
//	vision := catalog.Filter(cat.Models(), "", catalog.Filters{VisionOnly: true})
package catalog
