// Package recurrence computes the next due instant of a recurring task.
// It is the single authority for recurrence math: deterministic, no side
// effects.
package recurrence

import (
	"fmt"
	"time"

	"mailcron/internal/task"
)

// Next returns current advanced by value units. Minutes, hours and days are
// fixed durations. Weeks and months use calendar arithmetic: a month add
// lands on the same day-of-month in the target month, clamped to the last
// day when the target month is shorter (Jan 31 + 1 month = Feb 29 in a leap
// year, Feb 28 otherwise).
func Next(current time.Time, value int, unit task.Unit) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, fmt.Errorf("recurrence value must be positive, got %d", value)
	}

	switch unit {
	case task.UnitMinutes:
		return current.Add(time.Duration(value) * time.Minute), nil
	case task.UnitHours:
		return current.Add(time.Duration(value) * time.Hour), nil
	case task.UnitDays:
		return current.Add(time.Duration(value) * 24 * time.Hour), nil
	case task.UnitWeeks:
		return current.AddDate(0, 0, value*7), nil
	case task.UnitMonths:
		return addMonthsClamped(current, value), nil
	default:
		return time.Time{}, fmt.Errorf("unrecognized recurrence unit %q", unit)
	}
}

// addMonthsClamped adds months without the day-overflow normalization of
// time.AddDate, clamping the day to the target month's length instead.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	total := int(month) - 1 + months
	year += total / 12
	month = time.Month(total%12 + 1)

	if last := daysIn(year, month); day > last {
		day = last
	}

	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
