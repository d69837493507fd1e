// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve_Counters(t *testing.T) {
	m := New()
	m.ObserveSend(KindSend, OutcomeSuccess)
	m.ObserveSend(KindSend, OutcomeSuccess)
	m.ObserveSend(KindRetry, OutcomeError)
	m.ObserveRefresh(false)
	m.ObserveStorageError("save")
	m.ObserveStorageWrite()
	m.ObserveCompletion(300 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sends.WithLabelValues(KindSend, OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sends.WithLabelValues(KindRetry, OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogRefresh.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageErrors.WithLabelValues("save")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageWrites))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSend(KindSend, OutcomeError)
	m.ObserveCompletion(time.Second)
	m.ObserveRefresh(true)
	m.ObserveStorageError("load")
	m.ObserveStorageWrite()
}

func TestHandler_ExposesGaugeFunc(t *testing.T) {
	m := New()
	m.GaugeFunc("conversations", "Open conversations.", func() float64 { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sessionchat_conversations 3")
}
