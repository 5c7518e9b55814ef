// Package app assembles the process runtime shared by the pointsctl CLI and
// the background worker: storage, the classroom registry, the event bus,
// metrics and the optional Redis ranking projection.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/classpoints/classpoints-hub/config"
	"github.com/classpoints/classpoints-hub/internal/application/command"
	"github.com/classpoints/classpoints-hub/internal/application/eventhandler"
	"github.com/classpoints/classpoints-hub/internal/application/query"
	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/sampler"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/messaging"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/metrics"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/persistence/postgres"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/persistence/redis"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/persistence/sqlite"
	"github.com/classpoints/classpoints-hub/pkg/circuitbreaker"
	"github.com/classpoints/classpoints-hub/pkg/logger"
	"github.com/classpoints/classpoints-hub/pkg/random"
	"github.com/classpoints/classpoints-hub/pkg/retry"
)

// Options tune Open for the calling binary.
type Options struct {
	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// Seed fixes the draw sampler. Zero draws a fresh seed.
	Seed int64

	// ProcessMetrics registers Go runtime and process collectors.
	ProcessMetrics bool

	// RunID, when set, is attached to every ledger log line.
	RunID string
}

// Runtime owns every long-lived collaborator of one process.
type Runtime struct {
	Config *config.Config

	Log  *logger.Logger
	Slog *slog.Logger

	Prometheus *prometheus.Registry
	Metrics    *metrics.Collector

	Registry *classroom.Registry
	Bus      *messaging.InMemoryEventBus
	Catalog  *config.Catalog
	Items    points.ItemSet
	Sampler  *sampler.Sampler

	// Cache, Rankings and Publisher are nil when Redis is disabled.
	Cache     *redis.Cache
	Rankings  *redis.RankingCache
	Publisher *eventhandler.RankingPublisher

	storagePing func(context.Context) error
	closers     []func() error
}

// Open builds a Runtime from cfg. The caller must Close it.
func Open(ctx context.Context, cfg *config.Config, opts Options) (rt *Runtime, err error) {
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}

	rt = &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.Log = logger.New(logger.Options{
		Output: opts.LogOutput,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: logger.ParseFormat(cfg.Observability.LogFormat),
	}).With(logger.String("app", cfg.App.Name), logger.String("env", string(cfg.App.Environment)))
	if opts.RunID != "" {
		rt.Log = rt.Log.WithRunID(opts.RunID)
	}
	rt.Slog = NewSlog(opts.LogOutput, cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	rt.Prometheus = prometheus.NewRegistry()
	if opts.ProcessMetrics {
		rt.Prometheus.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	rt.Metrics = metrics.New(rt.Prometheus)

	rt.Catalog, err = config.LoadCatalog(cfg.Ledger.CatalogPath)
	if err != nil {
		return nil, err
	}
	if rt.Items, err = rt.Catalog.ItemSet(); err != nil {
		return nil, err
	}

	repo, err := rt.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	rt.Registry = classroom.NewRegistry(repo, classroom.RegistryConfig{
		Retrier: retry.StorageRetrier(shared.IsRetryable,
			retry.WithMaxAttempts(cfg.Storage.CheckpointAttempts),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				rt.Log.Warn("storage call failed, retrying",
					logger.Int("attempt", attempt), logger.Err(err), logger.Duration("delay", delay))
			}),
		),
		Logger: rt.Log,
	})

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.AsyncMode = cfg.Ledger.AsyncEvents
	busCfg.Logger = rt.Slog
	busCfg.Observer = rt.Metrics
	rt.Bus = messaging.NewInMemoryEventBus(busCfg)
	rt.closers = append(rt.closers, rt.Bus.Close)

	if cfg.Redis.Enabled {
		if err := rt.openRedis(ctx); err != nil {
			return nil, err
		}
	}

	seed := opts.Seed
	if seed == 0 {
		seed = random.MustSeed()
	}
	rt.Sampler = sampler.New(seed)

	return rt, nil
}

func (rt *Runtime) openStorage(ctx context.Context) (classroom.Repository, error) {
	cfg := rt.Config.Storage
	switch cfg.Driver {
	case config.DriverPostgres:
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.closers = append(rt.closers, func() error { conn.Close(); return nil })
		if cfg.Migrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			if len(applied) > 0 {
				rt.Log.Info("postgres schema migrated", logger.Any("versions", applied))
			}
		}
		rt.storagePing = conn.Ping
		rt.Log.Debug("storage ready", logger.String("driver", cfg.Driver))
		return postgres.NewClassroomRepository(conn), nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		rt.closers = append(rt.closers, store.Close)
		rt.storagePing = store.Ping
		rt.Log.Debug("storage ready", logger.String("driver", cfg.Driver), logger.String("path", cfg.Path))
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func (rt *Runtime) openRedis(ctx context.Context) error {
	rc := rt.Config.Redis
	redisCfg := redis.DefaultConfig()
	redisCfg.Addr = rc.Addr
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	redisCfg.PoolSize = rc.PoolSize
	redisCfg.DialTimeout = rc.DialTimeout
	redisCfg.ReadTimeout = rc.ReadTimeout
	redisCfg.WriteTimeout = rc.WriteTimeout

	cache, err := redis.NewCache(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}
	rt.AttachCache(cache)
	return nil
}

// AttachCache wires the ranking projection onto cache and subscribes it to
// the event bus. Open calls it when Redis is enabled.
func (rt *Runtime) AttachCache(cache *redis.Cache) {
	rt.Cache = cache
	rt.closers = append(rt.closers, cache.Close)
	rt.Rankings = redis.NewRankingCache(cache, rt.Config.Redis.RankingTTL)

	breaker := circuitbreaker.ProjectionBreaker(func(name string, from, to circuitbreaker.State) {
		rt.Slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	rt.Publisher = eventhandler.NewRankingPublisher(rt.Registry, rt.Rankings, eventhandler.RankingPublisherConfig{
		Timeout: rt.Config.Redis.PublishTimeout,
		Breaker: breaker,
		Logger:  rt.Slog,
	})
	if err := rt.Publisher.Register(rt.Bus); err != nil {
		rt.Log.Error("ranking publisher not subscribed", logger.Err(err))
	}
}

// CommandDeps returns the collaborators for command handlers.
func (rt *Runtime) CommandDeps() command.Deps {
	return command.Deps{
		Registry: rt.Registry,
		Events:   rt.Bus,
		Metrics:  rt.Metrics,
		Logger:   rt.Log,
	}
}

// QueryDeps returns the collaborators for query handlers.
func (rt *Runtime) QueryDeps() query.Deps {
	return query.Deps{Registry: rt.Registry, Logger: rt.Log}
}

// PingStorage checks the classroom storage alone.
func (rt *Runtime) PingStorage(ctx context.Context) error {
	if rt.storagePing == nil {
		return nil
	}
	return rt.storagePing(ctx)
}

// Ping checks storage and, when enabled, Redis.
func (rt *Runtime) Ping(ctx context.Context) error {
	var errs []error
	if err := rt.PingStorage(ctx); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if rt.Cache != nil {
		if err := rt.Cache.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases resources in reverse order of acquisition. Pending async
// events are delivered first.
func (rt *Runtime) Close() error {
	if rt.Bus != nil {
		rt.Bus.Drain()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// NewSlog builds the slog logger used by the event bus, the scheduler and
// the ranking publisher.
func NewSlog(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
