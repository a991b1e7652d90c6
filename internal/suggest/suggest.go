// Package suggest answers "which lines serve this stop" and station search
// queries for board configuration. Results are cached in process and,
// when configured, in the shared Redis cache.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"departureboard/internal/cache"
	"departureboard/internal/domain"

	"github.com/bluele/gcache"
)

var ErrEmptyQuery = errors.New("empty query")

// FeedLines lists line/destination pairs from the upcoming departures
type FeedLines interface {
	DepartingLines(ctx context.Context, stopID string) ([]domain.LineDest, error)
}

// ScrapedLines lists every line the timetable knows for a stop
type ScrapedLines interface {
	DepartingLines(ctx context.Context, stopID, stationName string) ([]domain.LineDest, error)
}

type StationSearcher interface {
	Stations(ctx context.Context, query string) ([]domain.Station, error)
}

// SharedCache is the subset of cache.RedisCache used as second level
type SharedCache interface {
	SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error)
}

type Options struct {
	LinesTTL    time.Duration
	StationsTTL time.Duration
	Size        int
}

func DefaultOptions() Options {
	return Options{
		LinesTTL:    2 * time.Minute,
		StationsTTL: 10 * time.Minute,
		Size:        1024,
	}
}

type Suggester struct {
	feed     FeedLines
	scraper  ScrapedLines
	stations StationSearcher
	shared   SharedCache
	opts     Options

	lines        gcache.Cache
	stationCache gcache.Cache
	logger       *slog.Logger
}

// New builds a Suggester. scraper and shared may be nil.
func New(feed FeedLines, scraper ScrapedLines, stations StationSearcher, shared SharedCache, opts Options, logger *slog.Logger) *Suggester {
	defaults := DefaultOptions()
	if opts.LinesTTL <= 0 {
		opts.LinesTTL = defaults.LinesTTL
	}
	if opts.StationsTTL <= 0 {
		opts.StationsTTL = defaults.StationsTTL
	}
	if opts.Size <= 0 {
		opts.Size = defaults.Size
	}

	return &Suggester{
		feed:         feed,
		scraper:      scraper,
		stations:     stations,
		shared:       shared,
		opts:         opts,
		lines:        gcache.New(opts.Size).LRU().Expiration(opts.LinesTTL).Build(),
		stationCache: gcache.New(opts.Size).LRU().Expiration(opts.StationsTTL).Build(),
		logger:       logger.With("component", "suggest"),
	}
}

// Lines returns the line/destination pairs serving stopID. With a station
// name and a scraper configured the full timetable line list is used,
// otherwise (or when scraping fails) the pairs seen in upcoming departures.
func (s *Suggester) Lines(ctx context.Context, stopID, stationName string) ([]domain.LineDest, error) {
	if stopID == "" {
		return nil, fmt.Errorf("lines: %w", ErrEmptyQuery)
	}

	if s.scraper != nil && stationName != "" {
		lines, err := s.timetableLines(ctx, stopID, stationName)
		if err == nil && len(lines) > 0 {
			return lines, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("line scrape failed, falling back to feed",
			"stop_id", stopID,
			"station", stationName,
			"error", err,
		)
	}

	return s.feedLines(ctx, stopID)
}

// timetableLines caches only non-empty scrape results
func (s *Suggester) timetableLines(ctx context.Context, stopID, stationName string) ([]domain.LineDest, error) {
	key := cache.KeyStopTimetableLines(stopID, stationName)
	if v, err := s.lines.Get(key); err == nil {
		return v.([]domain.LineDest), nil
	}

	var lines []domain.LineDest
	if s.loadShared(ctx, key, &lines) && len(lines) > 0 {
		_ = s.lines.Set(key, lines)
		return lines, nil
	}

	lines, err := s.scraper.DepartingLines(ctx, stopID, stationName)
	if err != nil || len(lines) == 0 {
		return nil, err
	}

	_ = s.lines.Set(key, lines)
	s.storeShared(ctx, key, lines, s.opts.LinesTTL)
	return lines, nil
}

func (s *Suggester) feedLines(ctx context.Context, stopID string) ([]domain.LineDest, error) {
	key := cache.KeyStopLines(stopID)
	if v, err := s.lines.Get(key); err == nil {
		return v.([]domain.LineDest), nil
	}

	var lines []domain.LineDest
	if s.loadShared(ctx, key, &lines) {
		_ = s.lines.Set(key, lines)
		return lines, nil
	}

	lines, err := s.feed.DepartingLines(ctx, stopID)
	if err != nil {
		return nil, fmt.Errorf("fetching departing lines for %s: %w", stopID, err)
	}
	if lines == nil {
		lines = []domain.LineDest{}
	}

	_ = s.lines.Set(key, lines)
	s.storeShared(ctx, key, lines, s.opts.LinesTTL)
	return lines, nil
}

// Stations searches stations by name
func (s *Suggester) Stations(ctx context.Context, query string) ([]domain.Station, error) {
	if query == "" {
		return nil, fmt.Errorf("stations: %w", ErrEmptyQuery)
	}

	key := cache.KeyStations(query)
	if v, err := s.stationCache.Get(key); err == nil {
		return v.([]domain.Station), nil
	}

	var stations []domain.Station
	if s.loadShared(ctx, key, &stations) {
		_ = s.stationCache.Set(key, stations)
		return stations, nil
	}

	stations, err := s.stations.Stations(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("searching stations %q: %w", query, err)
	}
	if stations == nil {
		stations = []domain.Station{}
	}

	_ = s.stationCache.Set(key, stations)
	s.storeShared(ctx, key, stations, s.opts.StationsTTL)
	return stations, nil
}

func (s *Suggester) loadShared(ctx context.Context, key string, dest any) bool {
	if s.shared == nil {
		return false
	}
	found, err := s.shared.GetJSONCompressed(ctx, key, dest)
	if err != nil {
		s.logger.Warn("shared cache read failed", "key", key, "error", err)
		return false
	}
	return found
}

func (s *Suggester) storeShared(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.shared == nil {
		return
	}
	if err := s.shared.SetJSONCompressed(ctx, key, value, ttl); err != nil {
		s.logger.Warn("shared cache write failed", "key", key, "error", err)
	}
}
