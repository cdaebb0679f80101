// Package main is the entry point for the snipe orchestrator API server.
// It wires together the store, the worker supervisor and the services and
// starts the HTTP server alongside the WebSocket hub and the reconcile
// scheduler.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/snipe/internal/api"
	"github.com/evetabi/snipe/internal/api/middleware"
	"github.com/evetabi/snipe/internal/app"
	"github.com/evetabi/snipe/internal/config"
	"github.com/evetabi/snipe/internal/logging"
	"github.com/evetabi/snipe/internal/metrics"
	"github.com/evetabi/snipe/internal/scheduler"
	"github.com/evetabi/snipe/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	logger := logging.New(os.Stdout, cfg.IsProd(), !cfg.IsProd())
	slog.SetDefault(logger)

	logger.Info("starting snipe orchestrator", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Store, supervisor, services ────────────────────────────────────────
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("startup failed", logging.Err(err))
		os.Exit(1)
	}
	defer a.Close()

	if !a.Auth.Enabled() {
		logger.Warn("API_TOKEN_SECRET not set; API is unauthenticated")
	}

	// ── 4. Metrics ────────────────────────────────────────────────────────────
	var metricsHandler http.Handler
	if cfg.Server.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Reconcile.SetRecorder(metrics.NewCollector(reg))
		metricsHandler = metrics.Handler(reg)
	}

	// ── 5. WebSocket Hub ──────────────────────────────────────────────────────
	hub := ws.NewHub(a.Auth, cfg.Server.AllowedOrigins, logger)
	a.Reconcile.SetBroadcaster(hub)
	a.Snipes.SetBroadcaster(hub)

	go hub.Run(ctx)
	logger.Info("websocket hub started")

	// ── 6. Rate limiter ───────────────────────────────────────────────────────
	rl := middleware.NewRateLimiter(cfg.Server.RateLimitRPS)
	go rl.RunEviction(ctx)

	// ── 7. Scheduler ──────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Reconcile.Interval > 0 {
		sched = scheduler.NewScheduler(a.Reconcile, cfg.Reconcile.Interval, logger)
		sched.Start(ctx)
	} else {
		logger.Info("built-in scheduler disabled; ticks must be triggered externally")
	}

	// ── 8. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:      a.Auth,
		SnipeSvc:     a.Snipes,
		GroupSvc:     a.Groups,
		ReconcileSvc: a.Reconcile,
		Hub:          hub,
		RateLimiter:  rl,
		Metrics:      metricsHandler,
		Cfg:          cfg,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 9. Start server ───────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", logging.Err(err))
			stop() // trigger graceful shutdown
		}
	}()

	// ── 10. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", logging.Err(err))
	}
	if sched != nil {
		select {
		case <-sched.Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduler did not stop in time")
		}
	}

	logger.Info("server stopped cleanly")
}
