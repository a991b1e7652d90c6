package handler

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"departureboard/internal/domain"
	"departureboard/internal/middleware"
)

// Stats tracks server-wide counters
type Stats struct {
	startTime        time.Time
	requestCount     atomic.Int64
	wsConnections    atomic.Int64
	wsMessagesIn     atomic.Int64
	wsMessagesOut    atomic.Int64
	rateLimitBlocked atomic.Int64
}

var ServerStats = &Stats{
	startTime: time.Now(),
}

func (s *Stats) IncRequests()         { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections()    { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections()    { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()     { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut()    { s.wsMessagesOut.Add(1) }
func (s *Stats) IncRateLimitBlocked() { s.rateLimitBlocked.Add(1) }

// ClientCounter reports the websocket clients currently registered
type ClientCounter interface {
	ClientCount() int
}

type StatsHandler struct {
	board   Board
	clients ClientCounter
	limiter *middleware.RateLimiter
	version string
}

// NewStatsHandler builds the stats endpoint. clients and limiter may be nil.
func NewStatsHandler(b Board, clients ClientCounter, limiter *middleware.RateLimiter, version string) *StatsHandler {
	return &StatsHandler{board: b, clients: clients, limiter: limiter, version: version}
}

type StatsResponse struct {
	Server    ServerStatsResponse    `json:"server"`
	Board     BoardStatsResponse     `json:"board"`
	WebSocket WebSocketStatsResponse `json:"websocket"`
	RateLimit *middleware.Stats      `json:"rate_limit,omitempty"`
	Go        GoStatsResponse        `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	RateLimited   int64     `json:"rate_limited"`
	Version       string    `json:"version"`
}

type BoardStatsResponse struct {
	StopID          string    `json:"stop_id"`
	MinCount        int       `json:"min_count"`
	Include         string    `json:"include,omitempty"`
	Exclude         string    `json:"exclude,omitempty"`
	Ready           bool      `json:"ready"`
	Refreshing      bool      `json:"refreshing"`
	Departures      int       `json:"departures"`
	Lines           int       `json:"lines"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
	LastError       string    `json:"last_error,omitempty"`
}

type WebSocketStatsResponse struct {
	Connections int64 `json:"connections"`
	Clients     int   `json:"clients"`
	MessagesIn  int64 `json:"messages_in"`
	MessagesOut int64 `json:"messages_out"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(ServerStats.startTime)
	snap := h.board.Snapshot()
	stop := h.board.StopConfig()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	boardStats := BoardStatsResponse{
		StopID:          snap.StopID,
		MinCount:        stop.MinCount,
		Include:         domain.FormatLineDests(stop.Include),
		Exclude:         domain.FormatLineDests(stop.Exclude),
		Ready:           h.board.IsReady(),
		Refreshing:      snap.Refreshing,
		Departures:      len(snap.Departures),
		Lines:           len(h.board.AvailableLineDests()),
		LastRefreshedAt: snap.LastRefreshedAt,
	}
	if snap.LastError != nil {
		boardStats.LastError = snap.LastError.Error()
	}

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     ServerStats.startTime,
			RequestCount:  ServerStats.requestCount.Load(),
			RateLimited:   ServerStats.rateLimitBlocked.Load(),
			Version:       h.version,
		},
		Board: boardStats,
		WebSocket: WebSocketStatsResponse{
			Connections: ServerStats.wsConnections.Load(),
			MessagesIn:  ServerStats.wsMessagesIn.Load(),
			MessagesOut: ServerStats.wsMessagesOut.Load(),
		},
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}
	if h.clients != nil {
		response.WebSocket.Clients = h.clients.ClientCount()
	}
	if h.limiter != nil {
		stats := h.limiter.Stats()
		response.RateLimit = &stats
	}

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, response)
}
