// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/sessionchat/internal/catalog"
	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/settings"
	"github.com/jeranaias/sessionchat/internal/store"
)

// DefaultCloseTimeout bounds the final flush in Close.
const DefaultCloseTimeout = 5 * time.Second

// Mirror writes state changes to a backend in the background. It captures
// a snapshot when a change is announced and queues it; a newer snapshot of
// the same key replaces an unwritten older one. Write failures are logged
// and counted, never returned to whoever made the change.
type Mirror struct {
	state    *State
	store    *store.Store
	settings *settings.Holder
	catalog  *catalog.Catalog
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string][]byte
	writeMu sync.Mutex

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	unsubs    []func()
	closed    bool
	closeOnce sync.Once
}

// NewMirror subscribes to every non-nil source and starts the writer.
func NewMirror(state *State, st *store.Store, holder *settings.Holder, cat *catalog.Catalog, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Mirror{
		state:    state,
		store:    st,
		settings: holder,
		catalog:  cat,
		log:      log,
		pending:  make(map[string][]byte),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if st != nil {
		m.unsubs = append(m.unsubs, st.Subscribe(m.onStoreEvent))
	}
	if holder != nil {
		m.unsubs = append(m.unsubs, holder.Subscribe(m.onSettings))
	}
	if cat != nil {
		m.unsubs = append(m.unsubs, cat.Subscribe(m.onCatalogEvent))
	}

	go m.run()
	return m
}

// =============================================================================
// CHANGE HANDLERS
// =============================================================================

func (m *Mirror) onStoreEvent(e store.Event) {
	if e.AffectsConversations() {
		m.enqueueLatest(KeyConversations, func() interface{} {
			convs, _ := m.store.Snapshot()
			return convs
		})
	}
	if e.AffectsCurrent() {
		m.enqueueLatest(KeyCurrent, func() interface{} {
			return currentValue(m.store.CurrentID())
		})
	}
}

// onSettings ignores the notified value and reads the holder, so
// notifications delivered out of order still persist the latest settings.
func (m *Mirror) onSettings(model.ChatSettings) {
	m.enqueueLatest(KeySettings, func() interface{} {
		return m.settings.Get()
	})
}

func (m *Mirror) onCatalogEvent(e catalog.Event) {
	if e.Kind == catalog.EventUpdated {
		m.enqueue(KeyCatalog, m.catalog.Models())
	}
}

func (m *Mirror) enqueueCurrent(id string) {
	m.enqueue(KeyCurrent, currentValue(id))
}

// currentValue maps "no current conversation" to JSON null.
func currentValue(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}

// SaveAll queues a snapshot of every attached source.
func (m *Mirror) SaveAll() {
	if m.store != nil {
		convs, current := m.store.Snapshot()
		if convs == nil {
			convs = []*model.Conversation{}
		}
		m.enqueue(KeyConversations, convs)
		m.enqueueCurrent(current)
	}
	if m.settings != nil {
		m.enqueue(KeySettings, m.settings.Get())
	}
	if m.catalog != nil {
		m.enqueue(KeyCatalog, m.catalog.Models())
	}
}

func (m *Mirror) enqueue(key string, v interface{}) {
	m.enqueueLatest(key, func() interface{} { return v })
}

// enqueueLatest reads the value under the queue lock, so of two racing
// notifications the one queued last also read the newer state.
func (m *Mirror) enqueueLatest(key string, read func() interface{}) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	data, err := Encode(key, read())
	if err != nil {
		m.mu.Unlock()
		m.state.metrics.ObserveStorageError("encode")
		m.log.Error("mirror_encode_failed", zap.String("key", key), zap.Error(err))
		return
	}
	m.pending[key] = data
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// =============================================================================
// WRITER
// =============================================================================

func (m *Mirror) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
			m.drain(context.Background())
		}
	}
}

// drain writes everything queued so far. Batches are taken and written
// under writeMu, so an older snapshot can never land after a newer one.
func (m *Mirror) drain(ctx context.Context) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string][]byte)
	m.mu.Unlock()

	for _, key := range Keys {
		data, ok := batch[key]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			m.requeue(key, data)
			continue
		}
		if err := m.state.write(ctx, key, data); err != nil {
			m.log.Error("mirror_write_failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// requeue puts back a value that was not written, unless a newer one is
// already waiting.
func (m *Mirror) requeue(key string, data []byte) {
	m.mu.Lock()
	if _, newer := m.pending[key]; !newer {
		m.pending[key] = data
	}
	m.mu.Unlock()
}

// Pending returns the number of keys waiting to be written.
func (m *Mirror) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Flush writes everything queued before the call. It returns ctx.Err() if
// ctx ends first; unwritten values stay queued.
func (m *Mirror) Flush(ctx context.Context) error {
	m.drain(ctx)
	return ctx.Err()
}

// Close unsubscribes, stops the writer and flushes what is left. Later
// calls return nil.
func (m *Mirror) Close() error {
	var err error
	m.closeOnce.Do(func() {
		for _, unsub := range m.unsubs {
			unsub()
		}
		close(m.stop)
		<-m.done

		ctx, cancel := context.WithTimeout(context.Background(), DefaultCloseTimeout)
		defer cancel()
		err = m.Flush(ctx)

		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
	})
	return err
}
