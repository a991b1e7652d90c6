package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"departureboard/internal/domain"
	"departureboard/internal/logging"
)

var testNow = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type fakeFeed struct {
	mu       sync.Mutex
	pages    map[int][]domain.FeedEntry
	fallback []domain.FeedEntry
	err      error
	offsets  []int
	block    bool
}

func (f *fakeFeed) Departures(ctx context.Context, stopID string, offset int) ([]domain.FeedEntry, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if page, ok := f.pages[offset]; ok {
		return page, nil
	}
	return f.fallback, nil
}

func (f *fakeFeed) requestedOffsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.offsets...)
}

func entry(line, dest string, in time.Duration) domain.FeedEntry {
	return domain.FeedEntry{Line: line, Destination: dest, Time: testNow.Add(in)}
}

func newTestFetcher(feed Feed, opts Options) *Fetcher {
	opts.Now = func() time.Time { return testNow }
	return New(feed, opts, nil, logging.Discard())
}

func TestFetch_PagesWithOffsetOfLastRawEntry(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]domain.FeedEntry{
		0: {
			entry("U6", "Garching", 2*time.Minute),
			entry("19", "Pasing", 3*time.Minute),
			entry("U6", "Klinikum", 5*time.Minute),
			entry("19", "Berg am Laim", 12*time.Minute),
		},
		12: {
			entry("U6", "Garching", 12*time.Minute),
			entry("U6", "Klinikum", 15*time.Minute),
			entry("U6", "Garching", 20*time.Minute),
		},
	}}

	f := newTestFetcher(feed, Options{})
	res, err := f.Fetch(context.Background(), domain.StopConfig{
		StopID:   "de:09162:6",
		Include:  []domain.LineDest{{Line: "U*", Destination: "*"}},
		MinCount: 5,
	})
	require.NoError(t, err)

	offsets := feed.requestedOffsets()
	require.GreaterOrEqual(t, len(offsets), 2)
	assert.Equal(t, 0, offsets[0])
	assert.Equal(t, 12, offsets[1], "second page must start at the last raw entry of the first page")

	assert.Len(t, res.Departures, 5)
	assertSortedAndUnique(t, res.Departures)
}

func TestFetch_OffsetRoundsUp(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]domain.FeedEntry{
		0: {entry("U6", "Garching", 11*time.Minute+time.Second)},
	}}

	f := newTestFetcher(feed, Options{MaxPages: 2})
	_, err := f.Fetch(context.Background(), domain.StopConfig{StopID: "s", MinCount: 5})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 12}, feed.requestedOffsets())
}

func TestFetch_DeduplicatesAcrossPages(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]domain.FeedEntry{
		0: {
			entry("U6", "Garching", 4*time.Minute),
			entry("U3", "Moosach", 8*time.Minute),
		},
		8: {
			entry("U3", "Moosach", 8*time.Minute),
			entry("U6", "Garching", 14*time.Minute),
		},
	}}

	f := newTestFetcher(feed, Options{})
	res, err := f.Fetch(context.Background(), domain.StopConfig{StopID: "s", MinCount: 10})
	require.NoError(t, err)

	assert.True(t, res.Exhausted)
	require.Len(t, res.Departures, 3)
	assert.Equal(t, "U6", res.Departures[0].Line)
	assert.Equal(t, "U3", res.Departures[1].Line)
	assert.Equal(t, testNow.Add(14*time.Minute), res.Departures[2].Time)
	assertSortedAndUnique(t, res.Departures)
}

func TestFetch_SkipsCancelledAndPast(t *testing.T) {
	cancelled := entry("U6", "Garching", 6*time.Minute)
	cancelled.Cancelled = true

	feed := &fakeFeed{pages: map[int][]domain.FeedEntry{
		0: {
			entry("U6", "Garching", -time.Minute),
			entry("U6", "Garching", 5*time.Second),
			entry("U6", "Garching", 10*time.Second),
			cancelled,
			entry("U6", "Garching", 7*time.Minute),
		},
	}}

	f := newTestFetcher(feed, Options{})
	res, err := f.Fetch(context.Background(), domain.StopConfig{StopID: "s", MinCount: 5})
	require.NoError(t, err)

	require.Len(t, res.Departures, 2)
	assert.Equal(t, testNow.Add(10*time.Second), res.Departures[0].Time)
	assert.Equal(t, testNow.Add(7*time.Minute), res.Departures[1].Time)
}

func TestFetch_ExcludeWins(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]domain.FeedEntry{
		0: {
			entry("U6", "Garching", 2*time.Minute),
			entry("U6", "Klinikum Großhadern", 3*time.Minute),
		},
	}}

	f := newTestFetcher(feed, Options{})
	res, err := f.Fetch(context.Background(), domain.StopConfig{
		StopID:   "s",
		Include:  []domain.LineDest{{Line: "U6", Destination: "*"}},
		Exclude:  []domain.LineDest{{Line: "*", Destination: "Garching"}},
		MinCount: 5,
	})
	require.NoError(t, err)

	require.Len(t, res.Departures, 1)
	assert.Equal(t, "Klinikum Großhadern", res.Departures[0].Destination)
}

func TestFetch_StopsAtMinCount(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]domain.FeedEntry{
		0: {
			entry("U6", "Garching", 2*time.Minute),
			entry("U3", "Moosach", time.Minute),
			entry("U6", "Garching", 4*time.Minute),
		},
	}}

	f := newTestFetcher(feed, Options{})
	res, err := f.Fetch(context.Background(), domain.StopConfig{StopID: "s", MinCount: 2})
	require.NoError(t, err)

	assert.Equal(t, []int{0}, feed.requestedOffsets())
	require.Len(t, res.Departures, 2)
	assert.Equal(t, "U3", res.Departures[0].Line, "result is sorted by time")
	assert.Equal(t, "U6", res.Departures[1].Line)
}

func TestFetch_ZeroMinCount(t *testing.T) {
	feed := &fakeFeed{fallback: []domain.FeedEntry{entry("U6", "Garching", 2*time.Minute)}}

	f := newTestFetcher(feed, Options{})
	res, err := f.Fetch(context.Background(), domain.StopConfig{StopID: "s", MinCount: 0})
	require.NoError(t, err)

	assert.Empty(t, res.Departures)
	assert.Equal(t, 1, res.Pages)
}

func TestFetch_TerminatesOnEmptyPage(t *testing.T) {
	feed := &fakeFeed{pages: map[int][]domain.FeedEntry{
		0: {entry("19", "Pasing", 3*time.Minute)},
	}}

	f := newTestFetcher(feed, Options{})
	res, err := f.Fetch(context.Background(), domain.StopConfig{
		StopID:   "s",
		Include:  []domain.LineDest{{Line: "U*", Destination: "*"}},
		MinCount: 5,
	})
	require.NoError(t, err)

	assert.True(t, res.Exhausted)
	assert.Empty(t, res.Departures)
	assert.Equal(t, []int{0, 3}, feed.requestedOffsets())
}

func TestFetch_CapsPages(t *testing.T) {
	// every page only holds departures in the past, so offsets advance one at a time
	feed := &fakeFeed{fallback: []domain.FeedEntry{entry("U6", "Garching", -time.Minute)}}

	f := newTestFetcher(feed, Options{MaxPages: 4})
	res, err := f.Fetch(context.Background(), domain.StopConfig{StopID: "s", MinCount: 5})
	require.NoError(t, err)

	assert.True(t, res.Capped)
	assert.Equal(t, 4, res.Pages)
	assert.Equal(t, []int{0, 1, 2, 3}, feed.requestedOffsets())
}

func TestFetch_FeedError(t *testing.T) {
	feed := &fakeFeed{err: errors.New("connection refused")}

	f := newTestFetcher(feed, Options{})
	_, err := f.Fetch(context.Background(), domain.StopConfig{StopID: "s", MinCount: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFetch_PageTimeout(t *testing.T) {
	feed := &fakeFeed{block: true}

	f := newTestFetcher(feed, Options{PageTimeout: 20 * time.Millisecond})
	_, err := f.Fetch(context.Background(), domain.StopConfig{StopID: "s", MinCount: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPageTimeout)
}

func TestFetch_ParentCancellationIsNotTimeout(t *testing.T) {
	feed := &fakeFeed{block: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(feed, Options{})
	_, err := f.Fetch(ctx, domain.StopConfig{StopID: "s", MinCount: 5})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPageTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextOffset(t *testing.T) {
	assert.Equal(t, 12, NextOffset(testNow.Add(12*time.Minute), testNow, 0))
	assert.Equal(t, 12, NextOffset(testNow.Add(11*time.Minute+30*time.Second), testNow, 0))
	assert.Equal(t, 6, NextOffset(testNow.Add(2*time.Minute), testNow, 5))
	assert.Equal(t, 1, NextOffset(testNow.Add(-3*time.Minute), testNow, 0))
}

func TestDedupSet(t *testing.T) {
	a := domain.Departure{LineDest: domain.LineDest{Line: "U6", Destination: "Garching"}, Time: testNow}
	b := domain.Departure{LineDest: domain.LineDest{Line: "U6", Destination: "Garching"}, Time: testNow.Add(time.Minute)}

	s := newDedupSet(4)
	for _, d := range []domain.Departure{a, b, a, b} {
		s.Add(d)
	}
	assert.Equal(t, []domain.Departure{a, b}, s.departures)
	assert.Equal(t, 2, s.Len())
}

func assertSortedAndUnique(t *testing.T, deps []domain.Departure) {
	t.Helper()
	seen := make(map[domain.DepartureKey]bool, len(deps))
	for i, d := range deps {
		assert.False(t, seen[d.Key()], "duplicate departure %v", d)
		seen[d.Key()] = true
		if i > 0 {
			assert.False(t, d.Time.Before(deps[i-1].Time), "departures out of order at %d", i)
		}
	}
}
