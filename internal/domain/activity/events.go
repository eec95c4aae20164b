package activity

import (
	"strconv"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/shared"
)

// ProblemCompletedEvent carries one solved-or-failed problem from the
// learning-session collaborator into the intake.
type ProblemCompletedEvent struct {
	shared.BaseEvent
	Attempt ProblemAttempt `json:"attempt"`
}

// Payload implements shared.Event.
func (e ProblemCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.Attempt.StudentID,
		"attempt_id": e.Attempt.AttemptID,
		"subject":    e.Attempt.Subject,
		"difficulty": string(e.Attempt.Difficulty),
		"hints_used": e.Attempt.HintsUsed,
		"is_correct": e.Attempt.IsCorrect,
	}
}

// NewProblemCompletedEvent creates the inbound event for a problem attempt.
func NewProblemCompletedEvent(attempt ProblemAttempt) ProblemCompletedEvent {
	return ProblemCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProblemCompleted, strconv.FormatInt(attempt.StudentID, 10)),
		Attempt:   attempt,
	}
}

// TimeSpentEvent reports learning minutes accumulated on a calendar day.
type TimeSpentEvent struct {
	shared.BaseEvent
	StudentID int64     `json:"student_id"`
	Date      time.Time `json:"date"`
	Minutes   int       `json:"minutes"`
}

// Payload implements shared.Event.
func (e TimeSpentEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"date":       e.Date,
		"minutes":    e.Minutes,
	}
}

// NewTimeSpentEvent creates the inbound event for a learning-time delta.
func NewTimeSpentEvent(studentID int64, date time.Time, minutes int) TimeSpentEvent {
	return TimeSpentEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventTimeSpent, strconv.FormatInt(studentID, 10)),
		StudentID: studentID,
		Date:      date,
		Minutes:   minutes,
	}
}

// StreakUpdatedEvent reports the externally computed daily streak.
type StreakUpdatedEvent struct {
	shared.BaseEvent
	StudentID         int64 `json:"student_id"`
	CurrentStreakDays int   `json:"current_streak_days"`
}

// Payload implements shared.Event.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":          e.StudentID,
		"current_streak_days": e.CurrentStreakDays,
	}
}

// NewStreakUpdatedEvent creates the inbound event for a streak change.
func NewStreakUpdatedEvent(studentID int64, currentStreakDays int) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:         shared.NewBaseEvent(shared.EventStreakUpdated, strconv.FormatInt(studentID, 10)),
		StudentID:         studentID,
		CurrentStreakDays: currentStreakDays,
	}
}
