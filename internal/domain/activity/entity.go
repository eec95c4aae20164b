// Package activity contains the derived aggregates of student learning
// activity: problem attempts, daily time, streaks, and mastery. Badge
// criteria and leaderboard strategies read these aggregates instead of
// client-supplied values.
package activity

import "time"

// Difficulty of a problem, as reported by the learning-session collaborator.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ProblemAttempt is one solved-or-failed problem. AttemptID is unique, which
// makes event intake idempotent: replaying the same attempt is a no-op.
type ProblemAttempt struct {
	ID         int64
	StudentID  int64
	AttemptID  string
	Subject    string
	Difficulty Difficulty
	HintsUsed  int
	IsCorrect  bool
	OccurredAt time.Time
}

// IsPerfect reports whether the attempt was correct without hints.
func (p ProblemAttempt) IsPerfect() bool {
	return p.IsCorrect && p.HintsUsed == 0
}

// DailyActivity accumulates learning minutes per student per calendar day.
type DailyActivity struct {
	StudentID    int64
	Date         time.Time // midnight UTC
	MinutesSpent int
}

// Stats is the per-student activity summary. It is maintained transactionally
// with attempt/time intake and queried freshly on every criteria evaluation.
type Stats struct {
	StudentID         int64
	CurrentStreakDays int
	LongestStreakDays int
	ProblemsSolved    int
	ProblemsAttempted int
	PerfectSolves     int
	TotalMinutes      int
	LastActivityAt    time.Time
}

// Accuracy returns the student's lifetime accuracy in percent, 0 when the
// student has no attempts yet.
func (s Stats) Accuracy() float64 {
	if s.ProblemsAttempted == 0 {
		return 0
	}
	return float64(s.ProblemsSolved) / float64(s.ProblemsAttempted) * 100
}

// SubjectMastery is the derived mastery percentage for one subject,
// computed from the student's correct/attempted ratio in that subject.
type SubjectMastery struct {
	StudentID  int64
	Subject    string
	MasteryPct float64
	Attempts   int
}

// ScopeRef places a student in the class/grade/institution hierarchy.
// Maintained from roster data owned by the external platform.
type ScopeRef struct {
	StudentID  int64
	ClassID    int64
	GradeLevel int
	SchoolID   int64
}
