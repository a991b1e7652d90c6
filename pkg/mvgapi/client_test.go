package mvgapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"departureboard/internal/domain"
	"departureboard/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const departuresJSON = `[
  {"plannedDepartureTime": 1700000000000, "realtimeDepartureTime": 1700000060000, "realtime": true,
   "transportType": "UBAHN", "label": "U6", "destination": "Garching, Forschungszentrum", "cancelled": false},
  {"plannedDepartureTime": 1700000120000, "realtime": false,
   "transportType": "BUS", "label": "LUFTHANSA EXPRESS BUS", "destination": "Flughafen", "cancelled": true},
  {"plannedDepartureTime": 1700000180000, "realtimeDepartureTime": 1700000180000,
   "transportType": "UBAHN", "label": "U6", "destination": "Garching, Forschungszentrum", "cancelled": false}
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, []string{"UBAHN", "BUS"}, logging.Discard())
}

func TestClient_Departures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/departures", r.URL.Path)
		assert.Equal(t, "de:09162:6", r.URL.Query().Get("globalId"))
		assert.Equal(t, "12", r.URL.Query().Get("offsetInMinutes"))
		assert.Equal(t, "UBAHN,BUS", r.URL.Query().Get("transportTypes"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(departuresJSON))
	})

	entries, err := client.Departures(context.Background(), "de:09162:6", 12)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, domain.FeedEntry{
		Time:          time.UnixMilli(1700000060000),
		Line:          "U6",
		Destination:   "Garching, Forschungszentrum",
		TransportType: "UBAHN",
	}, entries[0])

	assert.True(t, entries[1].Cancelled)
	assert.Equal(t, "LH", entries[1].Line)
	assert.True(t, entries[1].Time.Equal(time.UnixMilli(1700000120000)), "planned time is used without realtime")
}

func TestClient_DepartingLines(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "80", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(departuresJSON))
	})

	lines, err := client.DepartingLines(context.Background(), "de:09162:6")
	require.NoError(t, err)
	assert.Equal(t, []domain.LineDest{
		{Line: "U6", Destination: "Garching, Forschungszentrum"},
		{Line: "LH", Destination: "Flughafen"},
	}, lines)
}

func TestClient_Stations(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/locations", r.URL.Path)
		assert.Equal(t, "Marienplatz", r.URL.Query().Get("query"))
		assert.Equal(t, "STATION", r.URL.Query().Get("locationTypes"))
		_, _ = w.Write([]byte(`[
			{"type": "STATION", "name": "Marienplatz", "place": "München", "globalId": "de:09162:2"},
			{"type": "STATION", "name": "broken"}
		]`))
	})

	stations, err := client.Stations(context.Background(), "Marienplatz")
	require.NoError(t, err)
	assert.Equal(t, []domain.Station{{ID: "de:09162:2", Name: "Marienplatz", Place: "München"}}, stations)
}

func TestClient_StatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Departures(context.Background(), "de:09162:6", 0)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestClient_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not": "a list"`))
	})

	_, err := client.Departures(context.Background(), "de:09162:6", 0)
	assert.ErrorContains(t, err, "decoding response")
}

func TestClient_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Departures(ctx, "de:09162:6", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRewriteLabel(t *testing.T) {
	assert.Equal(t, "LH", rewriteLabel("LUFTHANSA EXPRESS BUS"))
	assert.Equal(t, "S8", rewriteLabel("S8"))
}
