package handler

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	board Board
}

func NewHealthHandler(b Board) *HealthHandler {
	return &HealthHandler{board: b}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready          bool      `json:"ready"`
	StopID         string    `json:"stopId"`
	DepartureCount int       `json:"departureCount"`
	ServerTime     time.Time `json:"serverTime"`
}

// Readyz reports ready once the active stop has been refreshed successfully
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.board.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	snap := h.board.Snapshot()
	respondJSON(w, status, ReadyResponse{
		Ready:          ready,
		StopID:         snap.StopID,
		DepartureCount: len(snap.Departures),
		ServerTime:     time.Now(),
	})
}
