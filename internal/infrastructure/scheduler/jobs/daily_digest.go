package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/report"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/persistence/redis"
	"github.com/classpoints/classpoints-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY DIGEST JOB
// ══════════════════════════════════════════════════════════════════════════════

// DigestStore stores one JSON digest. *redis.Cache satisfies it.
type DigestStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Digest is the stored summary of one class for one calendar day.
type Digest struct {
	ClassID     string                 `json:"class_id"`
	ClassName   string                 `json:"class_name"`
	Date        string                 `json:"date"`
	GeneratedAt time.Time              `json:"generated_at"`
	Day         report.TrendPoint      `json:"day"`
	Categories  report.CategorySummary `json:"categories"`
	Podium      []report.RankingEntry  `json:"podium"`
}

// DailyDigestConfig configures the digest job.
type DailyDigestConfig struct {
	// Zone decides what "yesterday" means.
	Zone timeutil.Zone

	// TTL of each stored digest. Zero means redis.TTLDigest.
	TTL time.Duration
}

// DailyDigestJob stores yesterday's activity and current standings of
// every class under redis.DigestKey.
type DailyDigestJob struct {
	classes ClassSource
	store   DigestStore
	config  DailyDigestConfig
	logger  *slog.Logger
	now     func() time.Time

	lastRunStats atomic.Pointer[RunStats]
}

// NewDailyDigestJob creates the job.
func NewDailyDigestJob(classes ClassSource, store DigestStore, config DailyDigestConfig, logger *slog.Logger) *DailyDigestJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TTL <= 0 {
		config.TTL = redis.TTLDigest
	}
	return &DailyDigestJob{
		classes: classes,
		store:   store,
		config:  config,
		logger:  logger.With("job", "daily-digest"),
		now:     time.Now,
	}
}

// Name returns the job name.
func (j *DailyDigestJob) Name() string { return "daily-digest" }

// Description returns a human-readable description.
func (j *DailyDigestJob) Description() string {
	return "Stores yesterday's point activity and podium for every class"
}

// Run builds and stores one digest per class.
func (j *DailyDigestJob) Run(ctx context.Context) error {
	stats := &RunStats{StartedAt: time.Now()}
	defer func() {
		stats.CompletedAt = time.Now()
		stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	from, to := j.config.Zone.PreviousDay(j.now())
	date := j.config.Zone.FormatDate(from)

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
		if err := j.digestClass(ctx, info.ID, date, from, to); err != nil {
			stats.Failed++
			errs = append(errs, fmt.Errorf("class %s: %w", info.ID, err))
			j.logger.Warn("digest not stored", "class_id", info.ID, "error", err)
			continue
		}
		stats.Succeeded++
	}

	j.logger.Info("digests stored", "date", date, "classes", stats.Classes, "failed", stats.Failed)
	return errors.Join(errs...)
}

// BuildDigest computes the digest of one class for the day [from, to].
func (j *DailyDigestJob) BuildDigest(ctx context.Context, classID, date string, from, to time.Time) (Digest, error) {
	c, err := j.classes.Open(ctx, classID)
	if err != nil {
		return Digest{}, err
	}
	view := c.Ledger.View()

	trend, err := report.DailyTrend(view, report.TrendQuery{
		From:     from,
		To:       to,
		Location: j.config.Zone.Location(),
	})
	if err != nil {
		return Digest{}, err
	}

	d := Digest{
		ClassID:     classID,
		ClassName:   c.Info.Name,
		Date:        date,
		GeneratedAt: j.now().UTC(),
		Day:         report.TrendPoint{Date: date},
		Categories:  report.SummarizeCategories(view),
	}
	if len(trend) > 0 {
		d.Day = trend[0]
	}
	for _, e := range report.Rank(view) {
		if !e.Podium {
			break
		}
		d.Podium = append(d.Podium, e)
	}
	return d, nil
}

func (j *DailyDigestJob) digestClass(ctx context.Context, classID, date string, from, to time.Time) error {
	d, err := j.BuildDigest(ctx, classID, date, from, to)
	if err != nil {
		return err
	}
	return j.store.Set(ctx, redis.DigestKey(classID, date), d, j.config.TTL)
}

// LastRunStats returns statistics from the last run, or nil.
func (j *DailyDigestJob) LastRunStats() *RunStats {
	return j.lastRunStats.Load()
}
