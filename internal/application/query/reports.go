// Package query contains read operations following CQRS pattern.
// Queries never modify state; every report is computed from one consistent
// ledger view, so concurrent writers never produce a torn result.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/report"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/pkg/logger"
	"github.com/classpoints/classpoints-hub/pkg/timeutil"
)

// Deps are the collaborators shared by query handlers.
type Deps struct {
	Registry *classroom.Registry
	Logger   *logger.Logger
}

func (d Deps) withDefaults(component string) Deps {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	d.Logger = d.Logger.With(logger.Component(component))
	return d
}

func requireClassID(id string) error {
	if strings.TrimSpace(id) == "" {
		return shared.ErrInvalidClassID
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY SUMMARY
// ══════════════════════════════════════════════════════════════════════════════

// CategorySummaryQuery asks for class-wide per-category totals.
type CategorySummaryQuery struct {
	ClassID string
}

// CategorySummaryHandler handles CategorySummaryQuery.
type CategorySummaryHandler struct {
	deps Deps
}

// NewCategorySummaryHandler creates a handler.
func NewCategorySummaryHandler(deps Deps) *CategorySummaryHandler {
	return &CategorySummaryHandler{deps: deps.withDefaults("category_summary")}
}

// Handle executes the query.
func (h *CategorySummaryHandler) Handle(ctx context.Context, q CategorySummaryQuery) (*report.CategorySummary, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}
	sum := report.SummarizeCategories(class.Ledger.View())
	return &sum, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP SUMMARY
// ══════════════════════════════════════════════════════════════════════════════

// GroupSummaryQuery asks for per-group totals.
type GroupSummaryQuery struct {
	ClassID string
}

// GroupSummaryHandler handles GroupSummaryQuery.
type GroupSummaryHandler struct {
	deps Deps
}

// NewGroupSummaryHandler creates a handler.
func NewGroupSummaryHandler(deps Deps) *GroupSummaryHandler {
	return &GroupSummaryHandler{deps: deps.withDefaults("group_summary")}
}

// Handle returns groups ordered by total points descending.
func (h *GroupSummaryHandler) Handle(ctx context.Context, q GroupSummaryQuery) ([]report.GroupLine, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}
	return report.SummarizeGroups(class.Ledger.View()), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY TREND
// ══════════════════════════════════════════════════════════════════════════════

// DailyTrendQuery selects a date range in the handler's time zone.
type DailyTrendQuery struct {
	ClassID string

	// From and To are YYYY-MM-DD, both inclusive. Empty To means today and
	// empty From means six days before To.
	From string
	To   string

	// Category restricts the series when non-empty.
	Category points.Category

	// ThisWeek starts the range on the Monday of To's week. From must be
	// empty.
	ThisWeek bool
}

// DailyTrendHandler handles DailyTrendQuery.
type DailyTrendHandler struct {
	deps Deps
	zone timeutil.Zone
	now  func() time.Time
}

// NewDailyTrendHandler creates a handler that buckets days in zone.
func NewDailyTrendHandler(deps Deps, zone timeutil.Zone) *DailyTrendHandler {
	return &DailyTrendHandler{deps: deps.withDefaults("daily_trend"), zone: zone, now: time.Now}
}

// Handle returns one point per day with activity, ascending by date.
func (h *DailyTrendHandler) Handle(ctx context.Context, q DailyTrendQuery) ([]report.TrendPoint, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	if q.ThisWeek && q.From != "" {
		return nil, shared.NewDomainError("query", "DailyTrend", shared.ErrInvalidArgument, "from cannot be combined with this week")
	}
	from, to, err := h.zone.DayRange(q.From, q.To, h.now())
	if err != nil {
		return nil, shared.WrapError("query", "DailyTrend", shared.ErrInvalidArgument, "bad date range", err)
	}
	if q.ThisWeek {
		from = h.zone.StartOfWeek(to)
	}

	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}
	return report.DailyTrend(class.Ledger.View(), report.TrendQuery{
		From:     from,
		To:       to,
		Category: q.Category,
		Location: h.zone.Location(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// RankingQuery asks for the class ranking.
type RankingQuery struct {
	ClassID string

	// Limit truncates the list when positive.
	Limit int
}

// RankingHandler handles RankingQuery.
type RankingHandler struct {
	deps Deps
}

// NewRankingHandler creates a handler.
func NewRankingHandler(deps Deps) *RankingHandler {
	return &RankingHandler{deps: deps.withDefaults("ranking")}
}

// Handle returns students ordered by total descending with shared ranks.
func (h *RankingHandler) Handle(ctx context.Context, q RankingQuery) ([]report.RankingEntry, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	if q.Limit < 0 {
		return nil, shared.NewDomainError("query", "Ranking", shared.ErrNegativeValue, "limit cannot be negative")
	}
	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}
	entries := report.Rank(class.Ledger.View())
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER EXPORT
// ══════════════════════════════════════════════════════════════════════════════

// ExportRosterQuery asks for the importable roster of a class.
type ExportRosterQuery struct {
	ClassID string
}

// ExportRosterHandler handles ExportRosterQuery.
type ExportRosterHandler struct {
	deps Deps
}

// NewExportRosterHandler creates a handler.
func NewExportRosterHandler(deps Deps) *ExportRosterHandler {
	return &ExportRosterHandler{deps: deps.withDefaults("export_roster")}
}

// Handle returns one row per student ordered by student number.
func (h *ExportRosterHandler) Handle(ctx context.Context, q ExportRosterQuery) ([]report.RosterRow, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}
	rows := report.ExportRoster(class.Ledger.View())
	h.deps.Logger.Debug("roster exported", logger.ClassID(q.ClassID), logger.Count(len(rows)))
	return rows, nil
}
