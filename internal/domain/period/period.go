// Package period provides calendar bucketing for review timestamps. Every
// timestamp maps to the UTC start of its enclosing day, ISO week, or month;
// the rest of the engine only ever sees those period-start instants.
package period

import (
	"fmt"
	"time"
)

// Granularity selects the calendar bucket size for aggregation.
type Granularity string

const (
	// Day buckets by UTC calendar day.
	Day Granularity = "day"
	// Week buckets by ISO week, starting Monday 00:00 UTC.
	Week Granularity = "week"
	// Month buckets by calendar month.
	Month Granularity = "month"
)

// Parse converts a configuration string into a Granularity.
func Parse(s string) (Granularity, error) {
	switch Granularity(s) {
	case Day, Week, Month:
		return Granularity(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

// Valid reports whether g is one of the known granularities.
func (g Granularity) Valid() bool {
	switch g {
	case Day, Week, Month:
		return true
	}
	return false
}

// Truncate returns the UTC start of the period containing t. Weeks start on
// Monday so that the same timestamp always lands in the same ISO week
// regardless of the host locale.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Week:
		// Weekday() is Sunday=0; shift so Monday=0.
		offset := (int(t.Weekday()) + 6) % 7
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Add returns the start of the period n steps after start. start must already
// be a period start; n may be negative.
func (g Granularity) Add(start time.Time, n int) time.Time {
	switch g {
	case Day:
		return start.AddDate(0, 0, n)
	case Week:
		return start.AddDate(0, 0, 7*n)
	case Month:
		return start.AddDate(0, n, 0)
	default:
		return start
	}
}

// StepsBetween counts the whole periods from one period start to another.
// Both arguments must be period starts produced by Truncate. The result is
// negative when to precedes from.
func (g Granularity) StepsBetween(from, to time.Time) int {
	switch g {
	case Day:
		return int(to.Sub(from).Hours() / 24)
	case Week:
		return int(to.Sub(from).Hours() / (24 * 7))
	case Month:
		years := to.Year() - from.Year()
		months := int(to.Month()) - int(from.Month())
		return years*12 + months
	default:
		return 0
	}
}
