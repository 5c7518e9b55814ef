// Package timeutil provides calendar helpers bound to a configurable time
// zone. Log timestamps are stored in UTC; a Zone decides which calendar
// day an instant belongs to for trends and digests.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Layouts used for calendar days and log timestamps.
const (
	FormatDate     = "2006-01-02"
	FormatDateTime = "2006-01-02 15:04"
)

// Zone wraps a location with day-boundary helpers.
type Zone struct {
	loc *time.Location
}

// UTC is the default zone.
var UTC = Zone{loc: time.UTC}

// LoadZone resolves an IANA zone name. Empty means UTC.
func LoadZone(name string) (Zone, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return Zone{loc: loc}, nil
}

// FixedZone builds a zone with a constant offset, mostly for tests.
func FixedZone(name string, offset time.Duration) Zone {
	return Zone{loc: time.FixedZone(name, int(offset.Seconds()))}
}

// Location returns the wrapped location.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// String returns the zone name.
func (z Zone) String() string {
	return z.Location().String()
}

// StartOfDay returns 00:00:00 of t's day in the zone.
func (z Zone) StartOfDay(t time.Time) time.Time {
	local := t.In(z.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, z.Location())
}

// EndOfDay returns 23:59:59.999999999 of t's day in the zone.
func (z Zone) EndOfDay(t time.Time) time.Time {
	local := t.In(z.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 999999999, z.Location())
}

// StartOfWeek returns Monday 00:00:00 of t's week in the zone.
func (z Zone) StartOfWeek(t time.Time) time.Time {
	local := t.In(z.Location())
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return z.StartOfDay(local.AddDate(0, 0, -(weekday - 1)))
}

// FormatDate renders t's calendar day as YYYY-MM-DD.
func (z Zone) FormatDate(t time.Time) string {
	return t.In(z.Location()).Format(FormatDate)
}

// FormatDateTime renders t as YYYY-MM-DD HH:MM in the zone.
func (z Zone) FormatDateTime(t time.Time) string {
	return t.In(z.Location()).Format(FormatDateTime)
}

// ParseDate parses YYYY-MM-DD as midnight in the zone.
func (z Zone) ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(FormatDate, strings.TrimSpace(value), z.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

// DayRange turns two inclusive calendar days into [start of from, end of to].
// Empty strings default to the last 7 days ending today.
func (z Zone) DayRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	end := z.EndOfDay(now)
	if to != "" {
		t, err := z.ParseDate(to)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = z.EndOfDay(t)
	}

	start := z.StartOfDay(end.AddDate(0, 0, -6))
	if from != "" {
		f, err := z.ParseDate(from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = f
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("date range %s..%s is reversed", z.FormatDate(start), z.FormatDate(end))
	}
	return start, end, nil
}

// PreviousDay returns the full calendar day before t.
func (z Zone) PreviousDay(t time.Time) (time.Time, time.Time) {
	y := z.StartOfDay(t).AddDate(0, 0, -1)
	return y, z.EndOfDay(y)
}

// FormatRelative renders the age of t at now, such as "3 hours ago".
func FormatRelative(t, now time.Time) string {
	diff := now.Sub(t)
	if diff < 0 {
		return "in the future"
	}
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return pluralize(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return pluralize(int(diff.Hours()), "hour") + " ago"
	default:
		return pluralize(int(diff.Hours()/24), "day") + " ago"
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
