// Package fetcher assembles a minimum number of qualifying future
// departures from a feed that only returns a bounded page per request.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"departureboard/internal/domain"
	"departureboard/internal/filter"
	"departureboard/internal/telemetry"
)

var ErrPageTimeout = errors.New("feed page request timed out")

// Feed returns one page of raw departures starting offsetMinutes from now
type Feed interface {
	Departures(ctx context.Context, stopID string, offsetMinutes int) ([]domain.FeedEntry, error)
}

type Options struct {
	PageTimeout time.Duration
	MaxPages    int
	// Entries departing sooner than this are dropped so nothing is shown as "now".
	FutureGuard time.Duration
	Now         func() time.Time
}

func DefaultOptions() Options {
	return Options{
		PageTimeout: 15 * time.Second,
		MaxPages:    20,
		FutureGuard: 10 * time.Second,
		Now:         time.Now,
	}
}

type Fetcher struct {
	feed    Feed
	opts    Options
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func New(feed Feed, opts Options, metrics *telemetry.Metrics, logger *slog.Logger) *Fetcher {
	defaults := DefaultOptions()
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaults.PageTimeout
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaults.MaxPages
	}
	if opts.FutureGuard < 0 {
		opts.FutureGuard = 0
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}

	return &Fetcher{
		feed:    feed,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With("component", "fetcher"),
	}
}

type Result struct {
	Departures []domain.Departure
	Pages      int
	// Exhausted is set when the feed returned an empty page.
	Exhausted bool
	// Capped is set when MaxPages was reached before MinCount.
	Capped bool
}

// Fetch pages the feed until cfg.MinCount departures pass the filters, the
// feed runs dry or MaxPages is reached. The result is sorted by time.
func (f *Fetcher) Fetch(ctx context.Context, cfg domain.StopConfig) (Result, error) {
	minCount := max(cfg.MinCount, 0)
	filters := filter.NewSet(cfg.Include, cfg.Exclude)
	working := newDedupSet(minCount)

	var res Result
	offset := 0

	for {
		if res.Pages >= f.opts.MaxPages {
			res.Capped = true
			f.logger.Warn("page limit reached before minimum count",
				"stop_id", cfg.StopID,
				"pages", res.Pages,
				"collected", working.Len(),
				"min_count", minCount,
			)
			break
		}

		entries, err := f.page(ctx, cfg.StopID, offset)
		res.Pages++
		if err != nil {
			return res, fmt.Errorf("fetching page %d at offset %d: %w", res.Pages, offset, err)
		}

		if len(entries) == 0 {
			res.Exhausted = true
			break
		}

		now := f.opts.Now()
		cutoff := now.Add(f.opts.FutureGuard)
		accepted := 0

		for _, e := range entries {
			if working.Len() >= minCount {
				break
			}
			if e.Cancelled || e.Time.Before(cutoff) {
				continue
			}
			d := e.Departure()
			if !filters.Accepts(d.LineDest) {
				continue
			}
			if working.Add(d) {
				accepted++
			}
		}

		f.logger.Debug("page processed",
			"stop_id", cfg.StopID,
			"offset_minutes", offset,
			"entries", len(entries),
			"accepted", accepted,
			"collected", working.Len(),
		)

		if working.Len() >= minCount {
			break
		}

		offset = NextOffset(entries[len(entries)-1].Time, now, offset)
	}

	res.Departures = working.departures
	SortByTime(res.Departures)
	return res, nil
}

func (f *Fetcher) page(ctx context.Context, stopID string, offset int) ([]domain.FeedEntry, error) {
	pageCtx, cancel := context.WithTimeout(ctx, f.opts.PageTimeout)
	defer cancel()

	entries, err := f.feed.Departures(pageCtx, stopID, offset)
	f.metrics.FeedRequest(err)
	if err != nil {
		if ctx.Err() == nil && errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrPageTimeout, f.opts.PageTimeout, err)
		}
		return nil, err
	}
	return entries, nil
}

// NextOffset computes the offset in whole minutes (rounded up) of the last
// raw entry of a page. It always moves past current so a page whose entries
// are all in the past cannot stall the loop.
func NextOffset(last, now time.Time, current int) int {
	next := int(math.Ceil(float64(last.Sub(now)) / float64(time.Minute)))
	if next <= current {
		return current + 1
	}
	return next
}

// SortByTime orders departures ascending by time, breaking ties by line and
// destination so the order is deterministic.
func SortByTime(departures []domain.Departure) {
	sort.SliceStable(departures, func(i, j int) bool {
		a, b := departures[i], departures[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Destination < b.Destination
	})
}
