// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHARED DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// ClassSource lists and opens classes. *classroom.Registry satisfies it.
type ClassSource interface {
	List(ctx context.Context) ([]classroom.Info, error)
	Open(ctx context.Context, id string) (*classroom.Classroom, error)
}

// RunStats summarizes one run over every class.
type RunStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Classes     int
	Succeeded   int
	Failed      int
}

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISH RANKINGS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ClassPublisher publishes one class ranking.
// *eventhandler.RankingPublisher satisfies it.
type ClassPublisher interface {
	PublishClass(ctx context.Context, classID string) error
}

// PublishRankingsJob republishes every class ranking so the published
// copies never outlive their TTL, even for classes nobody touched.
type PublishRankingsJob struct {
	classes   ClassSource
	publisher ClassPublisher
	logger    *slog.Logger

	lastRunStats atomic.Pointer[RunStats]
}

// NewPublishRankingsJob creates the job.
func NewPublishRankingsJob(classes ClassSource, publisher ClassPublisher, logger *slog.Logger) *PublishRankingsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishRankingsJob{
		classes:   classes,
		publisher: publisher,
		logger:    logger.With("job", "publish-rankings"),
	}
}

// Name returns the job name.
func (j *PublishRankingsJob) Name() string { return "publish-rankings" }

// Description returns a human-readable description.
func (j *PublishRankingsJob) Description() string {
	return "Recomputes and publishes the ranking of every class"
}

// Run publishes each class in id order. One failing class does not stop
// the others; the joined error reports all of them.
func (j *PublishRankingsJob) Run(ctx context.Context) error {
	stats := &RunStats{StartedAt: time.Now()}
	defer func() {
		stats.CompletedAt = time.Now()
		stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	infos, err := j.classes.List(ctx)
	if err != nil {
		return fmt.Errorf("list classes: %w", err)
	}
	stats.Classes = len(infos)

	var errs []error
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := j.publisher.PublishClass(ctx, info.ID); err != nil {
			stats.Failed++
			errs = append(errs, fmt.Errorf("class %s: %w", info.ID, err))
			j.logger.Warn("class ranking not published", "class_id", info.ID, "error", err)
			continue
		}
		stats.Succeeded++
	}

	j.logger.Info("rankings published",
		"classes", stats.Classes,
		"failed", stats.Failed,
	)
	return errors.Join(errs...)
}

// LastRunStats returns statistics from the last run, or nil.
func (j *PublishRankingsJob) LastRunStats() *RunStats {
	return j.lastRunStats.Load()
}
