package handler

import (
	"net/http"

	"departureboard/internal/middleware"
)

type Routes struct {
	HTTP    *HTTPHandler
	WS      *WSHandler
	Health  *HealthHandler
	Stats   *StatsHandler
	Metrics http.Handler
	Limiter *middleware.RateLimiter
}

// NewRouter mounts the API. The websocket endpoint bypasses compression.
func NewRouter(rt Routes) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/departures", rt.HTTP.ListDepartures)
	api.HandleFunc("POST /v1/refresh", rt.HTTP.Refresh)
	api.HandleFunc("PUT /v1/stop/{id}", rt.HTTP.SelectStop)
	api.HandleFunc("GET /v1/lines", rt.HTTP.ListLines)
	api.HandleFunc("GET /v1/stops/{id}/lines", rt.HTTP.StopLines)
	api.HandleFunc("GET /v1/stations", rt.HTTP.SearchStations)
	if rt.Stats != nil {
		api.HandleFunc("GET /v1/stats", rt.Stats.GetStats)
	}

	var apiHandler http.Handler = GzipMiddleware(api)
	if rt.Limiter != nil {
		apiHandler = rt.Limiter.Middleware(apiHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", CountRequests(CORSMiddleware(apiHandler)))
	if rt.WS != nil {
		mux.HandleFunc("GET /v1/ws", rt.WS.ServeWS)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}
	mux.HandleFunc("GET /healthz", rt.Health.Healthz)
	mux.HandleFunc("GET /readyz", rt.Health.Readyz)

	return mux
}
