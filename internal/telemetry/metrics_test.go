package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.FeedRequest(nil)
	m.FeedRequest(errors.New("boom"))
	m.Refresh(nil, 150*time.Millisecond, 2)
	m.DroppedTrigger()
	m.CachedDepartures(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, `departureboard_feed_requests_total{outcome="ok"} 1`)
	assert.Contains(t, out, `departureboard_feed_requests_total{outcome="error"} 1`)
	assert.Contains(t, out, `departureboard_refreshes_total{outcome="ok"} 1`)
	assert.Contains(t, out, `departureboard_refresh_triggers_dropped_total 1`)
	assert.Contains(t, out, `departureboard_cached_departures 7`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FeedRequest(nil)
		m.Refresh(nil, time.Second, 1)
		m.DroppedTrigger()
		m.CachedDepartures(1)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
