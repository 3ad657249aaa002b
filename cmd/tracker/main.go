package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mini-rodalies-3d/bustracker/internal/backend"
	"github.com/mini-rodalies-3d/bustracker/internal/config"
	"github.com/mini-rodalies-3d/bustracker/internal/db"
	"github.com/mini-rodalies-3d/bustracker/internal/logging"
	"github.com/mini-rodalies-3d/bustracker/internal/metrics"
	"github.com/mini-rodalies-3d/bustracker/internal/observability"
	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
	"github.com/mini-rodalies-3d/bustracker/internal/server"
	"github.com/mini-rodalies-3d/bustracker/internal/tracking"
)

const cleanupInterval = 15 * time.Minute

func main() {
	// ═══════════════════════════════════════════════════════
	// PHASE 1: Configuration and logging
	// ═══════════════════════════════════════════════════════
	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.Config{}).Error(context.Background(), "failed to load configuration", logging.Err(err))
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	fatal := func(msg string, err error) {
		logger.Error(context.Background(), msg, logging.Err(err))
		os.Exit(1)
	}
	logger.Info(context.Background(), "starting bus tracker",
		logging.Duration("poll_interval", cfg.PollInterval()),
		logging.String("position_source", cfg.PositionSource),
		logging.String("db_driver", cfg.DBDriver),
		logging.Int("max_sessions", cfg.MaxSessions),
		logging.Duration("session_idle_timeout", cfg.SessionIdleTimeout()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.TracingServiceName,
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.TracingEndpoint,
		SampleRatio: cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		fatal("failed to initialise tracing", err)
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Initialize Database
	// ═══════════════════════════════════════════════════════
	store, err := db.Open(ctx, cfg.DBDriver, cfg.SQLiteDatabase, cfg.DatabaseURL,
		db.WithLogger(logger.With(logging.String("component", "db"))))
	if err != nil {
		fatal("failed to open position store", err)
	}
	defer store.Close()
	logger.Info(ctx, "database initialized")

	history := db.NewHistoryWriter(store, cfg.HistoryBuffer, logger.With(logging.String("component", "history")))
	historyCtx, stopHistory := context.WithCancel(context.Background())
	go history.Run(historyCtx)

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Backend client and position source
	// ═══════════════════════════════════════════════════════
	client := backend.NewClient(cfg.BackendURL,
		backend.WithTimeout(cfg.BackendTimeout()),
		backend.WithRouteCache(cfg.RouteCacheSize, cfg.RouteCacheTTL()),
		backend.WithLogger(logger.With(logging.String("component", "backend"))))

	var source vehicle.Source = client
	if cfg.PositionSource == config.SourceGTFSRT {
		source = vehicle.NewFeedSource(cfg.GTFSVehiclePositionsURL, &http.Client{Timeout: cfg.BackendTimeout()})
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 4: Poller and session registry
	// ═══════════════════════════════════════════════════════
	collector, err := metrics.NewCollector(nil)
	if err != nil {
		fatal("failed to register metrics", err)
	}

	poller := vehicle.NewPoller(source,
		vehicle.WithRecorder(collector),
		vehicle.WithLogger(logger.With(logging.String("component", "poller"))))

	sessions := tracking.NewRegistry(poller,
		tracking.WithInterval(cfg.PollInterval()),
		tracking.WithPrecision(cfg.PolylinePrecision),
		tracking.WithLogger(logger.With(logging.String("component", "tracking"))),
		tracking.WithVehicleUpdateHandler(func(routeID string, pos vehicle.Position) {
			if !history.Enqueue(db.RecordFromPosition(routeID, pos)) {
				logger.Warn(context.Background(), "history buffer full, position dropped",
					logging.String("vehicle_id", pos.VehicleID))
			}
		})).
		WithLimits(tracking.Limits{
			MaxSessions: cfg.MaxSessions,
			IdleTimeout: cfg.SessionIdleTimeout(),
		})

	if idle := cfg.SessionIdleTimeout(); idle > 0 {
		go sessions.RunIdleReaper(ctx, reapInterval(idle),
			logger.With(logging.String("component", "reaper")),
			func([]string) { collector.SetOpenSessions(sessions.Len()) })
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 5: HTTP server
	// ═══════════════════════════════════════════════════════
	srv := server.New(server.Deps{
		Routes:   client,
		Sessions: sessions,
		Store:    store,
		Metrics:  collector,
		Logger:   logger.With(logging.String("component", "http")),
	}, server.Config{AllowedOrigins: cfg.CORSAllowedOrigins})

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info(ctx, "http server listening", logging.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("http server failed", err)
		}
	}()

	// ═══════════════════════════════════════════════════════
	// PHASE 6: Retention cleanup loop
	// ═══════════════════════════════════════════════════════
	go func() {
		cleanup(ctx, store, cfg.Retention(), logger)

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cleanup(ctx, store, cfg.Retention(), logger)
			case <-ctx.Done():
				logger.Info(context.Background(), "cleanup loop stopped")
				return
			}
		}
	}()

	logger.Info(ctx, "tracker running", logging.Duration("retention", cfg.Retention()))

	// ═══════════════════════════════════════════════════════
	// PHASE 7: Graceful Shutdown
	// ═══════════════════════════════════════════════════════
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info(context.Background(), "shutting down")
	cancel()

	// Closing sessions ends their event streams
	sessions.CloseAll()
	collector.SetOpenSessions(0)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http server shutdown failed", logging.Err(err))
	}

	stopHistory()
	select {
	case <-history.Done():
	case <-shutdownCtx.Done():
		logger.Warn(shutdownCtx, "history writer did not drain in time")
	}
	logger.Info(context.Background(), "history writer stopped",
		logging.Any("written", history.Written()),
		logging.Any("dropped", history.Dropped()))

	observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)
	logger.Info(context.Background(), "goodbye")
}

// reapInterval checks for idle sessions a few times per timeout
func reapInterval(idle time.Duration) time.Duration {
	if every := idle / 4; every > time.Second {
		return every
	}
	return time.Second
}

func cleanup(ctx context.Context, store db.Store, retention time.Duration, logger logging.Logger) {
	deleted, err := store.Cleanup(ctx, retention)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error(ctx, "cleanup failed", logging.Err(err))
		}
		return
	}
	if deleted > 0 {
		logger.Info(ctx, "old positions removed", logging.Int("rows", deleted))
	}
}
