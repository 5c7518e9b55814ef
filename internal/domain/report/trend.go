package report

import (
	"sort"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
)

// DateLayout is the bucket key format.
const DateLayout = "2006-01-02"

// TrendQuery selects log entries for DailyTrend.
type TrendQuery struct {
	// From and To bound entry timestamps, both inclusive.
	From time.Time
	To   time.Time

	// Category restricts the series when non-empty.
	Category points.Category

	// Location decides calendar days. Nil means UTC.
	Location *time.Location
}

// Validate checks the range and filter.
func (q TrendQuery) Validate() error {
	if q.From.IsZero() || q.To.IsZero() {
		return shared.NewDomainError("report", "DailyTrend", shared.ErrInvalidArgument, "date range is required")
	}
	if q.To.Before(q.From) {
		return shared.NewDomainError("report", "DailyTrend", shared.ErrInvalidArgument, "range end precedes start")
	}
	if q.Category != "" && !q.Category.IsValid() {
		return shared.ErrInvalidCategory
	}
	return nil
}

// TrendPoint is one calendar day with activity.
type TrendPoint struct {
	Date string `json:"date"`

	// Net is the sum of signed effective deltas.
	Net        int `json:"net"`
	Added      int `json:"added"`
	Subtracted int `json:"subtracted"`
	Entries    int `json:"entries"`
}

// DailyTrend buckets log entries by calendar day, ascending. Days without
// entries are omitted; callers that need a dense series fill gaps.
func DailyTrend(v ledger.View, q TrendQuery) ([]TrendPoint, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}

	buckets := make(map[string]*TrendPoint)
	for _, e := range v.Entries {
		if e.CreatedAt.Before(q.From) || e.CreatedAt.After(q.To) {
			continue
		}
		if q.Category != "" && e.Category != q.Category {
			continue
		}
		key := e.CreatedAt.In(loc).Format(DateLayout)
		p, ok := buckets[key]
		if !ok {
			p = &TrendPoint{Date: key}
			buckets[key] = p
		}
		p.Net += e.Delta
		p.Entries++
		if e.Direction() == points.Credit {
			p.Added += e.Magnitude()
		} else {
			p.Subtracted += e.Magnitude()
		}
	}

	out := make([]TrendPoint, 0, len(buckets))
	for _, p := range buckets {
		out = append(out, *p)
	}
	// DateLayout sorts lexically in calendar order.
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
