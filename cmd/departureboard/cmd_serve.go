package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"departureboard/internal/board"
	"departureboard/internal/cache"
	"departureboard/internal/fetcher"
	"departureboard/internal/handler"
	"departureboard/internal/hub"
	"departureboard/internal/middleware"
	"departureboard/internal/notify"
	"departureboard/internal/store"
	"departureboard/internal/suggest"
	"departureboard/internal/telemetry"
	"departureboard/pkg/mvgapi"
	"departureboard/pkg/mvv"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the departure board server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info("starting departureboard server",
		"version", version,
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"stop_id", cfg.Board.StopID,
		"refresh_interval", cfg.RefreshInterval,
		"redis_enabled", cfg.RedisEnabled,
		"mvv_enabled", cfg.MVVEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := telemetry.NewMetrics()
	mvgClient := mvgapi.New(cfg.MVGAPIBaseURL, cfg.MVGTransportTypes, logger)

	f := fetcher.New(mvgClient, fetcher.Options{
		PageTimeout: cfg.PageTimeout,
		MaxPages:    cfg.MaxPages,
		FutureGuard: cfg.FutureGuard,
	}, metrics, logger)

	svc := board.New(f, store.New(), notify.NewBus(), board.Options{
		RefreshInterval: cfg.RefreshInterval,
		MinCount:        cfg.Board.MinCount,
		Include:         cfg.Board.Include,
		Exclude:         cfg.Board.Exclude,
	}, metrics, logger)
	defer svc.Close()

	var shared suggest.SharedCache
	if cfg.RedisEnabled {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisConnectTimeout, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without shared cache", "error", err)
		} else {
			defer redisCache.Close()
			shared = redisCache

			mirror := cache.NewMirror(redisCache, svc, cfg.RefreshInterval*5, logger)
			svc.Subscribe(func() { mirror.Write(ctx) })
		}
	}

	var scraper suggest.ScrapedLines
	if cfg.MVVEnabled {
		scraper = mvv.New(cfg.MVVAPIBaseURL, logger)
	}
	suggester := suggest.New(mvgClient, scraper, mvgClient, shared, suggest.Options{
		LinesTTL: cfg.LinesCacheTTL,
	}, logger)

	wsHub := hub.NewHub(svc, logger)
	svc.Subscribe(wsHub.Broadcast)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	limiter.OnBlocked(handler.ServerStats.IncRateLimitBlocked)

	router := handler.NewRouter(handler.Routes{
		HTTP:    handler.NewHTTPHandler(svc, suggester, logger),
		WS:      handler.NewWSHandler(wsHub, svc, logger),
		Health:  handler.NewHealthHandler(svc),
		Stats:   handler.NewStatsHandler(svc, wsHub, limiter, version),
		Metrics: metrics.Handler(),
		Limiter: limiter,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)
	go limiter.Run(ctx)

	svc.Initialize(cfg.Board.StopID)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	svc.Close()
	cancel()

	logger.Info("shutdown complete")
	return nil
}
