// Package eventhandler contains handlers for domain events.
// Handlers are the reactive side of the system: they run after a change
// has been checkpointed and keep read-side projections in step with it.
// A failing handler never undoes the change that triggered it.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/report"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/pkg/circuitbreaker"
	"github.com/classpoints/classpoints-hub/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// RANKING PUBLISHER
// Recomputes a class ranking whenever totals may have moved and writes it
// to the ranking store (Redis in production).
// ═══════════════════════════════════════════════════════════════════════════

// RankingStore receives published rankings. *redis.RankingCache satisfies it.
type RankingStore interface {
	PublishRanking(ctx context.Context, classID string, entries []report.RankingEntry) error
}

// RankingPublisherConfig configures a RankingPublisher.
type RankingPublisherConfig struct {
	// Timeout bounds one publication including retries.
	Timeout time.Duration

	// Retrier wraps store writes. Defaults to retry.ProjectionRetrier.
	Retrier *retry.Retrier

	// Breaker is optional. When open, publications fail fast with
	// circuitbreaker.ErrCircuitOpen.
	Breaker *circuitbreaker.CircuitBreaker

	Logger *slog.Logger
}

// RankingPublisher keeps the published ranking of each class current.
type RankingPublisher struct {
	registry *classroom.Registry
	store    RankingStore
	retrier  *retry.Retrier
	breaker  *circuitbreaker.CircuitBreaker
	timeout  time.Duration
	logger   *slog.Logger
}

// rankingEvents are the events after which totals or names may differ.
// Redemptions only touch currency and are left out.
var rankingEvents = []shared.EventType{
	shared.EventPointsAdjusted,
	shared.EventStudentSaved,
	shared.EventStudentDeleted,
	shared.EventStudentsImported,
}

// NewRankingPublisher creates a publisher.
func NewRankingPublisher(registry *classroom.Registry, store RankingStore, cfg RankingPublisherConfig) *RankingPublisher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retry.ProjectionRetrier()
	}
	return &RankingPublisher{
		registry: registry,
		store:    store,
		retrier:  cfg.Retrier,
		breaker:  cfg.Breaker,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With("handler", "ranking_publisher"),
	}
}

// Register subscribes the publisher to every ranking-relevant event.
func (p *RankingPublisher) Register(sub shared.EventSubscriber) error {
	for _, t := range rankingEvents {
		if err := sub.Subscribe(t, p.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler. The event's aggregate is the class.
func (p *RankingPublisher) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.PublishClass(ctx, event.AggregateID()); err != nil {
		p.logger.Warn("ranking publication failed",
			"class_id", event.AggregateID(),
			"event_type", event.EventType(),
			"error", err,
		)
		return err
	}
	return nil
}

// PublishClass computes and publishes one class ranking. The worker's
// scheduled job calls it directly.
func (p *RankingPublisher) PublishClass(ctx context.Context, classID string) error {
	c, err := p.registry.Open(ctx, classID)
	if err != nil {
		return fmt.Errorf("open class: %w", err)
	}

	entries := report.Rank(c.Ledger.View())
	publish := func(ctx context.Context) error {
		return p.retrier.Do(ctx, func(ctx context.Context) error {
			// every store failure is retried
			return retry.Retryable(p.store.PublishRanking(ctx, classID, entries))
		})
	}
	if p.breaker != nil {
		err = p.breaker.Execute(ctx, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		return fmt.Errorf("publish ranking: %w", err)
	}

	p.logger.Debug("ranking published", "class_id", classID, "students", len(entries))
	return nil
}
