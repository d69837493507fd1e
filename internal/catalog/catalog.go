// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/jeranaias/sessionchat/internal/cloud"
	"github.com/jeranaias/sessionchat/internal/metrics"
	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/settings"
	"github.com/jeranaias/sessionchat/internal/util"
)

// Source fetches the raw model list. *cloud.Client implements it.
type Source interface {
	ListModels(ctx context.Context) ([]model.ModelData, error)
}

// CatalogFetchError reports a failed refresh. The previous catalog stays
// in place and the catalog is marked stale.
type CatalogFetchError struct {
	Status int
	Err    error
}

// Error implements the error interface.
func (e *CatalogFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("model catalog fetch failed (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("model catalog fetch failed: %v", e.Err)
}

// Unwrap returns the transport or protocol error.
func (e *CatalogFetchError) Unwrap() error {
	return e.Err
}

// EventKind names a catalog change.
type EventKind string

const (
	EventUpdated EventKind = "catalog_updated"
	EventStale   EventKind = "catalog_stale"
)

// Event is published after every refresh attempt.
type Event struct {
	Kind  EventKind `json:"kind"`
	Count int       `json:"count"`
	Error string    `json:"error,omitempty"`
}

// Capabilities answers what a model can do.
type Capabilities struct {
	SupportsVision bool `json:"supports_vision"`
	IsFree         bool `json:"is_free"`
	IsModerated    bool `json:"is_moderated"`
}

// Filters restricts a listing. Active filters combine with AND.
type Filters struct {
	FreeOnly      bool
	VisionOnly    bool
	ModeratedOnly bool
}

type snapshot struct {
	list []model.ModelData
	byID map[string]int
}

// Catalog holds the sorted model list. It is the only writer of that list;
// replacement is a single atomic pointer swap.
type Catalog struct {
	source   Source
	settings *settings.Holder
	metrics  *metrics.Metrics
	log      *zap.Logger

	current   atomic.Pointer[snapshot]
	stale     atomic.Bool
	group     singleflight.Group
	observers util.Observers[Event]
}

// New creates an empty catalog. settings may be nil, in which case no
// default model is selected on refresh.
func New(source Source, holder *settings.Holder, m *metrics.Metrics, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Catalog{source: source, settings: holder, metrics: m, log: log}
	c.current.Store(newSnapshot(nil))
	return c
}

func newSnapshot(list []model.ModelData) *snapshot {
	s := &snapshot{list: list, byID: make(map[string]int, len(list))}
	for i, m := range list {
		if _, dup := s.byID[m.ID]; !dup {
			s.byID[m.ID] = i
		}
	}
	return s
}

// =============================================================================
// REFRESH
// =============================================================================

// Refresh fetches, sorts and installs the model list. Concurrent calls
// share one fetch. When no model is selected yet, the first free model (or
// the first model) is selected.
func (c *Catalog) Refresh(ctx context.Context) ([]model.ModelData, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return cloneList(v.([]model.ModelData)), nil
}

func (c *Catalog) refresh(ctx context.Context) ([]model.ModelData, error) {
	raw, err := c.source.ListModels(ctx)
	if err != nil {
		ferr := &CatalogFetchError{Status: cloud.StatusOf(err), Err: err}
		c.stale.Store(true)
		c.metrics.ObserveRefresh(false)
		c.log.Warn("catalog_refresh_failed", zap.Int("status", ferr.Status), zap.Error(err))
		c.observers.Notify(Event{Kind: EventStale, Count: len(c.current.Load().list), Error: ferr.Error()})
		return nil, ferr
	}

	sorted := Sort(raw)
	c.current.Store(newSnapshot(sorted))
	c.stale.Store(false)
	c.metrics.ObserveRefresh(true)
	c.log.Info("catalog_refreshed", zap.Int("models", len(sorted)))

	if c.settings != nil {
		if id := DefaultModel(sorted); id != "" && c.settings.SetModelIfEmpty(id) {
			c.log.Info("default_model_selected", zap.String("model", id))
		}
	}

	c.observers.Notify(Event{Kind: EventUpdated, Count: len(sorted)})
	return sorted, nil
}

// Restore installs a previously persisted list without fetching. The list
// is re-sorted, and the catalog is not marked fresh or stale.
func (c *Catalog) Restore(list []model.ModelData) {
	c.current.Store(newSnapshot(Sort(list)))
}

// Subscribe registers fn for refresh results.
func (c *Catalog) Subscribe(fn func(Event)) (unsubscribe func()) {
	return c.observers.Subscribe(fn)
}

// =============================================================================
// QUERIES
// =============================================================================

// Models returns a copy of the sorted list.
func (c *Catalog) Models() []model.ModelData {
	return cloneList(c.current.Load().list)
}

// Len returns the number of models.
func (c *Catalog) Len() int {
	return len(c.current.Load().list)
}

// Stale reports whether the last refresh failed.
func (c *Catalog) Stale() bool {
	return c.stale.Load()
}

// Lookup returns one model by id.
func (c *Catalog) Lookup(id string) (model.ModelData, bool) {
	snap := c.current.Load()
	i, ok := snap.byID[id]
	if !ok {
		return model.ModelData{}, false
	}
	return snap.list[i], true
}

// Capabilities reports what modelID supports. Unknown models support
// nothing.
func (c *Catalog) Capabilities(modelID string) Capabilities {
	m, ok := c.Lookup(modelID)
	if !ok {
		return Capabilities{}
	}
	return Capabilities{
		SupportsVision: m.SupportsVision(),
		IsFree:         m.IsFree(),
		IsModerated:    m.IsModerated(),
	}
}

// =============================================================================
// SORT AND FILTER
// =============================================================================

// Sort returns a copy of list with free models first, each tier ordered by
// display name using English collation.
func Sort(list []model.ModelData) []model.ModelData {
	out := cloneList(list)
	col := collate.New(language.English, collate.IgnoreCase)
	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := out[i].IsFree(), out[j].IsFree()
		if fi != fj {
			return fi
		}
		if cmp := col.CompareString(out[i].DisplayName(), out[j].DisplayName()); cmp != 0 {
			return cmp < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Filter returns the models matching search (case-insensitive substring of
// name or description) and every active filter, preserving list order.
func Filter(list []model.ModelData, search string, f Filters) []model.ModelData {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]model.ModelData, 0, len(list))
	for _, m := range list {
		if needle != "" &&
			!strings.Contains(strings.ToLower(m.Name), needle) &&
			!strings.Contains(strings.ToLower(m.Description), needle) {
			continue
		}
		if f.FreeOnly && !m.IsFree() {
			continue
		}
		if f.VisionOnly && !m.SupportsVision() {
			continue
		}
		if f.ModeratedOnly && !m.IsModerated() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// DefaultModel picks the first free model, or the first model, or "".
func DefaultModel(list []model.ModelData) string {
	for _, m := range list {
		if m.IsFree() {
			return m.ID
		}
	}
	if len(list) > 0 {
		return list[0].ID
	}
	return ""
}

func cloneList(list []model.ModelData) []model.ModelData {
	if list == nil {
		return []model.ModelData{}
	}
	out := make([]model.ModelData, len(list))
	copy(out, list)
	return out
}
