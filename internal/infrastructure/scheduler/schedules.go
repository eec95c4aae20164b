// Package scheduler implements background job scheduling for the
// gamification engine.
package scheduler

import (
	"fmt"
	"time"

	"github.com/brightmind-edu/gamification/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule fires at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an IntervalSchedule.
func Every(interval time.Duration) IntervalSchedule {
	return IntervalSchedule{Interval: interval}
}

// Next implements Schedule.
func (s IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String implements Schedule.
func (s IntervalSchedule) String() string {
	return fmt.Sprintf("every %s", s.Interval)
}

// DailySchedule fires once a day at the given UTC time.
type DailySchedule struct {
	Hour   int
	Minute int
}

// DailyAt creates a DailySchedule.
func DailyAt(hour, minute int) DailySchedule {
	return DailySchedule{Hour: hour, Minute: minute}
}

// Next implements Schedule.
func (s DailySchedule) Next(t time.Time) time.Time {
	day := timeutil.StartOfDay(t)
	at := day.Add(time.Duration(s.Hour)*time.Hour + time.Duration(s.Minute)*time.Minute)
	if at.After(t) {
		return at
	}
	return at.AddDate(0, 0, 1)
}

// String implements Schedule.
func (s DailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d UTC", s.Hour, s.Minute)
}

// WeeklySchedule fires once a week, on Monday at the given UTC time. Weekly
// periods start Monday midnight, so rotation jobs run just after.
type WeeklySchedule struct {
	Hour   int
	Minute int
}

// WeeklyAt creates a WeeklySchedule.
func WeeklyAt(hour, minute int) WeeklySchedule {
	return WeeklySchedule{Hour: hour, Minute: minute}
}

// Next implements Schedule.
func (s WeeklySchedule) Next(t time.Time) time.Time {
	week := timeutil.StartOfWeek(t)
	at := week.Add(time.Duration(s.Hour)*time.Hour + time.Duration(s.Minute)*time.Minute)
	if at.After(t) {
		return at
	}
	return timeutil.StartOfWeek(week.AddDate(0, 0, 7)).
		Add(time.Duration(s.Hour)*time.Hour + time.Duration(s.Minute)*time.Minute)
}

// String implements Schedule.
func (s WeeklySchedule) String() string {
	return fmt.Sprintf("weekly on Monday at %02d:%02d UTC", s.Hour, s.Minute)
}

// MonthlySchedule fires once a month, on the first day at the given UTC time.
type MonthlySchedule struct {
	Hour   int
	Minute int
}

// MonthlyAt creates a MonthlySchedule.
func MonthlyAt(hour, minute int) MonthlySchedule {
	return MonthlySchedule{Hour: hour, Minute: minute}
}

// Next implements Schedule.
func (s MonthlySchedule) Next(t time.Time) time.Time {
	month := timeutil.StartOfMonth(t)
	at := month.Add(time.Duration(s.Hour)*time.Hour + time.Duration(s.Minute)*time.Minute)
	if at.After(t) {
		return at
	}
	return timeutil.StartOfMonth(month.AddDate(0, 1, 0)).
		Add(time.Duration(s.Hour)*time.Hour + time.Duration(s.Minute)*time.Minute)
}

// String implements Schedule.
func (s MonthlySchedule) String() string {
	return fmt.Sprintf("monthly on day 1 at %02d:%02d UTC", s.Hour, s.Minute)
}
