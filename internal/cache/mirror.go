package cache

import (
	"context"
	"log/slog"
	"time"

	"departureboard/internal/domain"
)

// SnapshotSource yields the current board state
type SnapshotSource interface {
	Snapshot() domain.Snapshot
}

// JSONSetter is the subset of RedisCache the mirror writes through
type JSONSetter interface {
	SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Mirror copies successful board snapshots into the shared cache so other
// instances and tooling can read the last known departures.
type Mirror struct {
	cache   JSONSetter
	source  SnapshotSource
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

func NewMirror(cache JSONSetter, source SnapshotSource, ttl time.Duration, logger *slog.Logger) *Mirror {
	return &Mirror{
		cache:   cache,
		source:  source,
		ttl:     ttl,
		timeout: 2 * time.Second,
		logger:  logger.With("component", "snapshot_mirror"),
	}
}

// Write stores the current snapshot. Snapshots with an outstanding error are
// skipped so the mirror keeps the last good data.
func (m *Mirror) Write(ctx context.Context) {
	snap := m.source.Snapshot()
	if snap.StopID == "" || snap.LastError != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	if err := m.cache.SetJSONCompressed(ctx, KeyDepartures(snap.StopID), snap, m.ttl); err != nil {
		m.logger.Warn("failed to mirror snapshot", "stop_id", snap.StopID, "error", err)
		return
	}
	m.logger.Debug("snapshot mirrored",
		"stop_id", snap.StopID,
		"departures", len(snap.Departures),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
