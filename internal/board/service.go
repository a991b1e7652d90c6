// Package board owns the departure cache of the active stop: it refreshes
// it on a fixed interval, accepts manual refresh requests and tells
// subscribers when a refresh has completed.
package board

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"departureboard/internal/domain"
	"departureboard/internal/fetcher"
	"departureboard/internal/notify"
	"departureboard/internal/store"
	"departureboard/internal/telemetry"
)

var ErrNoStop = errors.New("no stop selected")

type Fetcher interface {
	Fetch(ctx context.Context, cfg domain.StopConfig) (fetcher.Result, error)
}

type Options struct {
	RefreshInterval time.Duration
	MinCount        int
	Include         []domain.LineDest
	Exclude         []domain.LineDest
	Now             func() time.Time
}

type Service struct {
	fetcher Fetcher
	store   *store.Store
	bus     *notify.Bus
	metrics *telemetry.Metrics
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	stopID     string
	generation uint64
	stopCtx    context.Context
	stopCancel context.CancelFunc
	inflight   bool

	ready   bool
	readyMu sync.RWMutex

	closeOnce sync.Once
}

func New(f Fetcher, st *store.Store, bus *notify.Bus, opts Options, metrics *telemetry.Metrics, logger *slog.Logger) *Service {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		fetcher: f,
		store:   st,
		bus:     bus,
		metrics: metrics,
		opts:    opts,
		logger:  logger.With("component", "board"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Initialize selects the stop to poll. Selecting the active stop again is a
// no-op. Switching stops drops the old snapshot, cancels the old timer and
// any refresh still running for the old stop, then refreshes immediately
// and every RefreshInterval after that.
func (s *Service) Initialize(stopID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stopID == "" || stopID == s.stopID || s.ctx.Err() != nil {
		return
	}

	if s.stopCancel != nil {
		s.stopCancel()
	}

	s.logger.Info("initializing stop", "stop_id", stopID, "previous_stop_id", s.stopID)

	s.stopID = stopID
	s.generation++
	s.inflight = false
	s.setReady(false)
	s.store.Reset(stopID)
	s.metrics.CachedDepartures(0)

	s.stopCtx, s.stopCancel = context.WithCancel(s.ctx)

	s.startRefreshLocked("initial")

	s.wg.Add(1)
	go s.tick(s.stopCtx, s.generation)
}

// TriggerRefresh starts a refresh unless one is already running for the
// active stop, in which case the request is dropped. It reports whether a
// refresh was started.
func (s *Service) TriggerRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerLocked(s.generation, "manual")
}

func (s *Service) triggerLocked(gen uint64, reason string) bool {
	if s.stopID == "" || gen != s.generation || s.ctx.Err() != nil {
		return false
	}
	if s.inflight {
		s.metrics.DroppedTrigger()
		s.logger.Debug("refresh already running, dropping request", "stop_id", s.stopID, "reason", reason)
		return false
	}
	s.startRefreshLocked(reason)
	return true
}

func (s *Service) startRefreshLocked(reason string) {
	s.inflight = true
	s.store.SetRefreshing(s.stopID, true)

	cfg := s.stopConfigLocked()
	ctx, gen := s.stopCtx, s.generation

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refresh(ctx, gen, cfg, reason)
	}()
}

func (s *Service) tick(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.triggerLocked(gen, "scheduled")
			s.mu.Unlock()
		}
	}
}

func (s *Service) refresh(ctx context.Context, gen uint64, cfg domain.StopConfig, reason string) {
	start := time.Now()
	s.logger.Debug("starting refresh", "stop_id", cfg.StopID, "reason", reason)

	res, err := s.fetcher.Fetch(ctx, cfg)
	s.metrics.Refresh(err, time.Since(start), res.Pages)

	if !s.commit(gen, cfg.StopID, res, err) {
		s.logger.Debug("discarding result for inactive stop", "stop_id", cfg.StopID)
		return
	}

	if err != nil {
		s.logger.Error("refresh failed", "stop_id", cfg.StopID, "error", err, "pages", res.Pages)
	} else {
		s.logger.Info("refresh completed",
			"stop_id", cfg.StopID,
			"departures", len(res.Departures),
			"pages", res.Pages,
			"exhausted", res.Exhausted,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	s.bus.Notify()
}

// commit applies a refresh result if it still belongs to the active stop
func (s *Service) commit(gen uint64, stopID string, res fetcher.Result, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.ctx.Err() != nil {
		return false
	}
	s.inflight = false

	now := s.opts.Now()
	if err != nil {
		s.store.SetError(stopID, err, now)
		return true
	}

	s.store.Replace(stopID, res.Departures, now)
	s.metrics.CachedDepartures(len(res.Departures))
	s.setReady(true)
	return true
}

// Close stops the timer, cancels in-flight work and waits for it to finish
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

func (s *Service) StopID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopID
}

func (s *Service) StopConfig() domain.StopConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopConfigLocked()
}

func (s *Service) stopConfigLocked() domain.StopConfig {
	return domain.StopConfig{
		StopID:   s.stopID,
		Include:  s.opts.Include,
		Exclude:  s.opts.Exclude,
		MinCount: s.opts.MinCount,
	}
}

// IsReady reports whether the active stop has completed a successful refresh
func (s *Service) IsReady() bool {
	s.readyMu.RLock()
	defer s.readyMu.RUnlock()
	return s.ready
}

func (s *Service) setReady(ready bool) {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	s.ready = ready
}
