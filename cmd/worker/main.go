// Package main is the classpoints background worker.
//
// The worker keeps the Redis projections fresh:
// - republishes every class ranking on a schedule
// - stores a daily digest of each class
// - serves /healthz, /metrics and job status for operators
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classpoints/classpoints-hub/config"
	"github.com/classpoints/classpoints-hub/internal/app"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/scheduler"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/scheduler/jobs"
	ops "github.com/classpoints/classpoints-hub/internal/interface/http"
	"github.com/classpoints/classpoints-hub/internal/interface/http/handlers"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// run blocks until ctx is cancelled, then shuts down within
// cfg.App.ShutdownTimeout.
func run(ctx context.Context, cfg *config.Config, logOutput io.Writer) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. RUNTIME (storage, event bus, metrics, Redis)
	// ─────────────────────────────────────────────────────────────────────────
	rt, err := app.Open(ctx, cfg, app.Options{LogOutput: logOutput, ProcessMetrics: true})
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Log.Error("runtime close failed", logger.Err(err))
		}
	}()

	log := rt.Log.With(logger.Component("worker"))
	log.Info("starting classpoints worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("storage", cfg.Storage.Driver),
		logger.Bool("redis", cfg.Redis.Enabled),
		logger.String("timezone", cfg.App.Zone.String()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         rt.Slog,
		Timezone:       cfg.App.Zone.Location(),
		MaxHistorySize: cfg.Scheduler.MaxHistorySize,
		JobTimeout:     cfg.Scheduler.JobTimeout,
		Recorder:       rt.Metrics,
	})
	if err := registerJobs(sched, rt); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. OPS SERVER
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("storage", rt.PingStorage)

	deps := ops.Dependencies{
		Health:   health,
		Gatherer: rt.Prometheus,
		Jobs:     sched,
		Logger:   rt.Log,
	}
	if rt.Cache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(rt.Cache))
		deps.Rankings = rt.Rankings
		deps.Digests = rt.Cache
	}

	serverCfg := ops.DefaultConfig()
	serverCfg.Addr = cfg.Observability.MetricsAddr
	serverCfg.Version = cfg.App.Version
	server := ops.NewServer(serverCfg, deps)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. START
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		log.Warn("scheduler disabled, serving status only")
	}
	serverErr := server.StartAsync()

	log.Info("classpoints worker is running",
		logger.String("ops_addr", serverCfg.Addr),
		logger.Count(len(sched.ListJobs())),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = fmt.Errorf("ops server: %w", err)
			log.Error("ops server stopped", logger.Err(err))
		}
	}

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownStart := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown ops server: %w", err))
	}
	if sched.IsRunning() {
		stopped := make(chan error, 1)
		go func() { stopped <- sched.Stop() }()
		select {
		case err := <-stopped:
			if err != nil {
				errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
			}
		case <-shutdownCtx.Done():
			errs = append(errs, fmt.Errorf("stop scheduler: %w", shutdownCtx.Err()))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info("shutdown completed", logger.Latency(time.Since(shutdownStart)))
	return nil
}

// registerJobs registers the projection jobs. Both write to Redis, so
// nothing is registered when Redis is disabled.
func registerJobs(sched *scheduler.Scheduler, rt *app.Runtime) error {
	cfg := rt.Config
	if rt.Cache == nil {
		rt.Log.Warn("redis disabled, no jobs registered")
		return nil
	}

	publish := jobs.NewPublishRankingsJob(rt.Registry, rt.Publisher, rt.Slog)
	if err := sched.Register(publish, cfg.Scheduler.PublishRankings); err != nil {
		return fmt.Errorf("register %s: %w", publish.Name(), err)
	}

	digest := jobs.NewDailyDigestJob(rt.Registry, rt.Cache, jobs.DailyDigestConfig{
		Zone: cfg.App.Zone,
	}, rt.Slog)
	if err := sched.Register(digest, cfg.Scheduler.DailyDigest); err != nil {
		return fmt.Errorf("register %s: %w", digest.Name(), err)
	}
	return nil
}
