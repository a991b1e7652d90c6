package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"departureboard/internal/logging"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(rate int, window time.Duration, whitelist ...string) (*RateLimiter, *time.Time) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(rate, window, whitelist, logging.Discard())
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, now := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own budget")

	*now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "budget resets after the window")
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl, now := newTestLimiter(3, time.Minute)
	rl.Allow("10.0.0.1")

	*now = now.Add(90 * time.Second)
	rl.Allow("10.0.0.2")
	*now = now.Add(40 * time.Second)

	assert.Equal(t, 1, rl.evictIdle())
	assert.Equal(t, 1, rl.Stats().TrackedIPs)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute, "10.0.0.9")
	blocked := 0
	rl.OnBlocked(func() { blocked++ })

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remote, xff string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/departures", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5000", "").Code)

	rec := do("10.0.0.1:5001", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, blocked)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, do("10.0.0.9:5000", "").Code, "whitelisted")
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5002", "203.0.113.7, 10.0.0.1").Code,
		"forwarded client is limited separately")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "forwarded for", remote: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, want: "203.0.113.7"},
		{name: "forwarded with port", remote: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "203.0.113.7:443"}, want: "203.0.113.7"},
		{name: "real ip", remote: "10.0.0.1:1", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, want: "198.51.100.2"},
		{name: "bare remote", remote: "192.0.2.1", want: "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
