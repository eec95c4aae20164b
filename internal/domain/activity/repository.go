package activity

import (
	"context"
	"time"
)

// Repository is the store contract for activity aggregates.
type Repository interface {
	// RecordAttempt inserts a problem attempt and folds it into the
	// student's Stats in one atomic unit. A duplicate attempt id is a no-op
	// and returns recorded=false.
	RecordAttempt(ctx context.Context, attempt ProblemAttempt) (recorded bool, err error)

	// AddMinutes accumulates learning minutes for the given calendar day and
	// updates Stats.TotalMinutes.
	AddMinutes(ctx context.Context, studentID int64, date time.Time, minutes int) error

	// SetStreak stores the externally computed streak length. The longest
	// streak only ever grows.
	SetStreak(ctx context.Context, studentID int64, currentStreakDays int, at time.Time) error

	// GetStats returns the student's activity summary, zero-valued when the
	// student has no recorded activity.
	GetStats(ctx context.Context, studentID int64) (Stats, error)

	// GetSubjectMastery returns the derived mastery for one subject.
	GetSubjectMastery(ctx context.Context, studentID int64, subject string) (SubjectMastery, error)

	// AccuracyInWindow returns the student's accuracy percentage over
	// attempts inside [from, to), together with the attempt count.
	AccuracyInWindow(ctx context.Context, studentID int64, from, to time.Time) (pct float64, attempts int, err error)

	// UpsertScope places a student in the class/grade/school hierarchy.
	UpsertScope(ctx context.Context, ref ScopeRef) error

	// GetScope returns the student's scope placement.
	GetScope(ctx context.Context, studentID int64) (ScopeRef, error)

	// ListClassIDs returns the distinct class ids with at least one student,
	// used by the scheduler when rotating per-class leaderboards.
	ListClassIDs(ctx context.Context) ([]int64, error)
}
