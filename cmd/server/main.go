package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/eventbus"
	"github.com/gurukul/orchestration-core/internal/gateway"
	"github.com/gurukul/orchestration-core/internal/intervention"
	"github.com/gurukul/orchestration-core/internal/lesson"
	"github.com/gurukul/orchestration-core/internal/middleware"
	"github.com/gurukul/orchestration-core/internal/progress"
	"github.com/gurukul/orchestration-core/internal/store"
	"github.com/gurukul/orchestration-core/internal/taskregistry"
	"github.com/gurukul/orchestration-core/internal/upstream"
	"github.com/gurukul/orchestration-core/internal/workerpool"
	"github.com/gurukul/orchestration-core/pkg/logger"
	"github.com/gurukul/orchestration-core/pkg/metrics"
	"github.com/robfig/cron/v3"
)

func main() {
	appLogger := logger.New()
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Info(appLogger, ctx, "application_startup",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("db_path", cfg.DBPath),
	)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.ErrorWithErr(appLogger, ctx, "store_open_failed", err)
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	bus, err := eventbus.Connect(cfg.NATSURL)
	if err != nil {
		logger.Warn(appLogger, ctx, "eventbus_external_connect_failed", slog.String("error", err.Error()))
		bus, err = eventbus.StartEmbedded()
		if err != nil {
			logger.ErrorWithErr(appLogger, ctx, "eventbus_start_failed", err)
			log.Fatalf("failed to start event bus: %v", err)
		}
		logger.Info(appLogger, ctx, "eventbus_embedded_started")
	}
	defer bus.Close()

	m := metrics.GetCollector()

	registry := taskregistry.New(db, appLogger, cfg.TaskTTL)
	pool := workerpool.New(cfg.WorkerKinds, registry, appLogger, m)
	upstreamClient := upstream.New(cfg.Upstreams, appLogger, m)
	composer := lesson.New(upstreamClient, appLogger)
	lessonStore := lesson.NewStore(db)

	dispatcher := intervention.New(registry, bus)
	consumer := intervention.NewConsumer(pool, upstreamClient, appLogger)
	if _, err := bus.SubscribeTriggers(consumer.Handle); err != nil {
		logger.ErrorWithErr(appLogger, ctx, "intervention_subscribe_failed", err)
		log.Fatalf("failed to subscribe intervention consumer: %v", err)
	}

	tracker := progress.New(db, appLogger, dispatcher, cfg.Dedup)

	pool.Start()
	defer pool.Shutdown(30 * time.Second)

	kindLimiter := middleware.NewKindLimiter(cfg.WorkerKinds)
	gw := gateway.New(registry, pool, composer, lessonStore, tracker, upstreamClient, appLogger, m, kindLimiter)

	rateLimiter := middleware.DefaultRateLimiter(cfg)
	breaker := middleware.DefaultCircuitBreaker(pool, cfg)
	handler := gw.Handler(appLogger, cfg, rateLimiter, breaker)

	sched := cron.New()
	_, _ = sched.AddFunc("@every 5m", func() {
		if n, err := registry.Sweep(context.Background(), time.Now().UTC()); err != nil {
			logger.ErrorWithErr(appLogger, ctx, "task_sweep_failed", err)
		} else if n > 0 {
			logger.Info(appLogger, ctx, "task_sweep_completed", slog.Int64("removed", n))
		}
	})
	_, _ = sched.AddFunc("@every 1m", func() {
		maxRunning := 2 * longestJobTimeout(cfg)
		if n, err := registry.RecoverStale(context.Background(), maxRunning); err != nil {
			logger.ErrorWithErr(appLogger, ctx, "stale_recovery_failed", err)
		} else if n > 0 {
			logger.Info(appLogger, ctx, "stale_recovery_completed", slog.Int64("recovered", n))
		}
	})
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.ErrorWithErr(appLogger, ctx, "listener_failed_to_start", err)
		log.Fatalf("failed to listen on %s: %v", cfg.HTTPAddr, err)
	}
	limitedListener := middleware.NewConnLimiter(listener, cfg.Gateway.MaxConcurrentConns)

	go func() {
		logger.Info(appLogger, ctx, "server_starting", slog.String("addr", cfg.HTTPAddr))
		if err := srv.Serve(limitedListener); err != nil && err != http.ErrServerClosed {
			logger.ErrorWithErr(appLogger, ctx, "server_failed_to_start", err)
			log.Fatalf("server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(appLogger, ctx, "server_shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr(appLogger, ctx, "server_forced_shutdown", err)
		log.Fatalf("server forced to shutdown: %v", err)
	}

	logger.Info(appLogger, ctx, "server_exited")
}

// longestJobTimeout returns the largest configured job_timeout; the
// caller doubles it to bound stale-running recovery, so a task is never
// reclaimed while genuinely still within its own deadline.
func longestJobTimeout(cfg *config.Config) time.Duration {
	var longest time.Duration
	for _, kc := range cfg.WorkerKinds {
		if kc.JobTimeout > longest {
			longest = kc.JobTimeout
		}
	}
	if longest == 0 {
		longest = 15 * time.Minute
	}
	return longest
}
