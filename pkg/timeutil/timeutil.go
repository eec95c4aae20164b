// Package timeutil provides UTC period windows and period identifiers for
// the gamification engine. Leaderboard periods and scheduler lock keys are
// derived from these helpers so every server instance agrees on the window
// boundaries. No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// StartOfDay returns midnight UTC of the day containing t.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfWeek returns Monday midnight UTC of the ISO week containing t.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// StartOfMonth returns the first day of the month containing t, midnight UTC.
func StartOfMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DayWindow returns the half-open day window [start, end) containing t.
func DayWindow(t time.Time) (start, end time.Time) {
	start = StartOfDay(t)
	return start, start.AddDate(0, 0, 1)
}

// WeekWindow returns the half-open ISO week window [start, end) containing t.
func WeekWindow(t time.Time) (start, end time.Time) {
	start = StartOfWeek(t)
	return start, start.AddDate(0, 0, 7)
}

// MonthWindow returns the half-open month window [start, end) containing t.
func MonthWindow(t time.Time) (start, end time.Time) {
	start = StartOfMonth(t)
	return start, start.AddDate(0, 1, 0)
}

// DayID returns the identifier of the day period containing t, e.g.
// "2026-03-02".
func DayID(t time.Time) string {
	return StartOfDay(t).Format("2006-01-02")
}

// WeekID returns the identifier of the ISO week period containing t, e.g.
// "2026-W10".
func WeekID(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// MonthID returns the identifier of the month period containing t, e.g.
// "2026-03".
func MonthID(t time.Time) string {
	return StartOfMonth(t).Format("2006-01")
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return StartOfDay(a).Equal(StartOfDay(b))
}
