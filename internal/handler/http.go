package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"departureboard/internal/board"
	"departureboard/internal/domain"
	"departureboard/internal/suggest"
)

// Board is the departure cache as seen by the HTTP and websocket surface
type Board interface {
	Departures(view domain.View) ([]domain.Departure, error)
	AvailableLineDests() []domain.LineDest
	Snapshot() domain.Snapshot
	TriggerRefresh() bool
	Initialize(stopID string)
	StopID() string
	StopConfig() domain.StopConfig
	IsReady() bool
}

type Suggester interface {
	Lines(ctx context.Context, stopID, stationName string) ([]domain.LineDest, error)
	Stations(ctx context.Context, query string) ([]domain.Station, error)
}

type HTTPHandler struct {
	board   Board
	suggest Suggester
	logger  *slog.Logger
}

func NewHTTPHandler(b Board, s Suggester, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{board: b, suggest: s, logger: logger.With("component", "http")}
}

type DeparturesResponse struct {
	StopID      string             `json:"stopId"`
	Departures  []domain.Departure `json:"departures"`
	Count       int                `json:"count"`
	RefreshedAt time.Time          `json:"refreshedAt"`
	Refreshing  bool               `json:"refreshing"`
	ServerTime  time.Time          `json:"serverTime"`
}

// ListDepartures serves the cached departures narrowed by the include,
// exclude and limit query parameters.
func (h *HTTPHandler) ListDepartures(w http.ResponseWriter, r *http.Request) {
	view, err := parseView(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	deps, err := h.board.Departures(view)
	switch {
	case errors.Is(err, board.ErrNoStop):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		respondJSON(w, http.StatusServiceUnavailable, retryResponse{
			Error: err.Error(),
			Retry: "/v1/refresh",
		})
		return
	}

	snap := h.board.Snapshot()
	respondJSON(w, http.StatusOK, DeparturesResponse{
		StopID:      snap.StopID,
		Departures:  deps,
		Count:       len(deps),
		RefreshedAt: snap.LastRefreshedAt,
		Refreshing:  snap.Refreshing,
		ServerTime:  time.Now(),
	})
}

type refreshResponse struct {
	StopID  string `json:"stopId"`
	Started bool   `json:"started"`
}

// Refresh starts a refresh of the active stop. A request that arrives while
// one is running is dropped and answered with 409.
func (h *HTTPHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	stopID := h.board.StopID()
	if stopID == "" {
		respondError(w, http.StatusNotFound, board.ErrNoStop.Error())
		return
	}

	if !h.board.TriggerRefresh() {
		respondJSON(w, http.StatusConflict, refreshResponse{StopID: stopID, Started: false})
		return
	}
	respondJSON(w, http.StatusAccepted, refreshResponse{StopID: stopID, Started: true})
}

// SelectStop switches the board to the stop in the path
func (h *HTTPHandler) SelectStop(w http.ResponseWriter, r *http.Request) {
	stopID := r.PathValue("id")
	if stopID == "" {
		respondError(w, http.StatusBadRequest, "missing stop id")
		return
	}

	h.board.Initialize(stopID)
	h.logger.Info("stop selected", "stop_id", stopID, "ip", r.RemoteAddr)

	respondJSON(w, http.StatusAccepted, refreshResponse{StopID: stopID, Started: true})
}

type LinesResponse struct {
	StopID string            `json:"stopId"`
	Lines  []domain.LineDest `json:"lines"`
	Count  int               `json:"count"`
}

// ListLines serves the line/destination pairs present in the cache
func (h *HTTPHandler) ListLines(w http.ResponseWriter, r *http.Request) {
	lines := h.board.AvailableLineDests()
	if lines == nil {
		lines = []domain.LineDest{}
	}
	respondJSON(w, http.StatusOK, LinesResponse{
		StopID: h.board.StopID(),
		Lines:  lines,
		Count:  len(lines),
	})
}

// StopLines serves every line known to serve a stop, for building filters
func (h *HTTPHandler) StopLines(w http.ResponseWriter, r *http.Request) {
	stopID := r.PathValue("id")
	lines, err := h.suggest.Lines(r.Context(), stopID, r.URL.Query().Get("name"))
	if err != nil {
		h.respondUpstreamError(w, "departing lines lookup failed", err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=120")
	respondJSON(w, http.StatusOK, LinesResponse{
		StopID: stopID,
		Lines:  lines,
		Count:  len(lines),
	})
}

type StationsResponse struct {
	Stations []domain.Station `json:"stations"`
	Count    int              `json:"count"`
}

func (h *HTTPHandler) SearchStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.suggest.Stations(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respondUpstreamError(w, "station search failed", err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=600")
	respondJSON(w, http.StatusOK, StationsResponse{
		Stations: stations,
		Count:    len(stations),
	})
}

func (h *HTTPHandler) respondUpstreamError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, suggest.ErrEmptyQuery) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Warn(message, "error", err)
	respondError(w, http.StatusBadGateway, message)
}

func parseView(r *http.Request) (domain.View, error) {
	q := r.URL.Query()
	view := domain.View{
		Include: domain.ParseLineDests(q.Get("include")),
		Exclude: domain.ParseLineDests(q.Get("exclude")),
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return view, errors.New("invalid limit parameter: must be a non-negative integer")
		}
		view.Limit = limit
	}
	return view, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type retryResponse struct {
	Error string `json:"error"`
	Retry string `json:"retry"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
