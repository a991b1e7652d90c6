package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingCloser struct{ closed bool }

func (f *failingCloser) Close() error {
	f.closed = true
	return errors.New("already closed")
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelWarn)

	logger.Info("hidden")
	logger.Warn("visible", "component", "test")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"visible"`)
	assert.Contains(t, out, `"component":"test"`)
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogError(logger, "fetch failed", errors.New("connection reset"), slog.String("stop_id", "de:09162:6"))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"error":"connection reset"`)
	assert.Contains(t, out, `"stop_id":"de:09162:6"`)

	assert.NotPanics(t, func() {
		LogError(nil, "ignored", errors.New("x"))
		LogError(logger, "ignored", nil)
	})
}

func TestSafeClose(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	c := &failingCloser{}
	SafeClose(c, logger, "http_response_body")

	assert.True(t, c.closed)
	assert.Contains(t, buf.String(), `"resource":"http_response_body"`)
	assert.NotPanics(t, func() { SafeClose(nil, logger, "nothing") })
}
