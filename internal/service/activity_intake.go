package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/activity"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/internal/domain/xp"
)

// IntakeConfig holds the XP amounts the intake credits for learning activity.
type IntakeConfig struct {
	// XPByDifficulty is the base XP per correct solve.
	XPByDifficulty map[activity.Difficulty]int

	// HintPenalty is subtracted per hint used, down to MinProblemXP.
	HintPenalty  int
	MinProblemXP int

	// StreakBonusEvery awards StreakBonusXP each time the streak reaches a
	// multiple of this many days.
	StreakBonusEvery int
	StreakBonusXP    int
}

// DefaultIntakeConfig returns the standard award table.
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{
		XPByDifficulty: map[activity.Difficulty]int{
			activity.DifficultyEasy:   25,
			activity.DifficultyMedium: 50,
			activity.DifficultyHard:   100,
		},
		HintPenalty:      5,
		MinProblemXP:     10,
		StreakBonusEvery: 7,
		StreakBonusXP:    50,
	}
}

// ActivityIntake is the inbound surface the learning-session collaborator
// feeds events into. Every handler is idempotent end to end: the attempt id
// dedupes problem events, deterministic ledger keys dedupe XP, and the badge
// and challenge engines tolerate replays by construction.
type ActivityIntake struct {
	activities activity.Repository
	ledger     *Ledger
	badges     *BadgeEngine
	challenges *ChallengeEngine
	config     IntakeConfig
	logger     *slog.Logger
}

// NewActivityIntake creates an ActivityIntake.
func NewActivityIntake(
	activities activity.Repository,
	ledger *Ledger,
	badges *BadgeEngine,
	challenges *ChallengeEngine,
	config IntakeConfig,
	logger *slog.Logger,
) *ActivityIntake {
	if config.XPByDifficulty == nil {
		config = DefaultIntakeConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityIntake{
		activities: activities,
		ledger:     ledger,
		badges:     badges,
		challenges: challenges,
		config:     config,
		logger:     logger.With("component", "activity_intake"),
	}
}

// problemXP computes the XP for a correct solve: base by difficulty minus a
// per-hint penalty, floored.
func (a *ActivityIntake) problemXP(difficulty activity.Difficulty, hintsUsed int) int {
	base, ok := a.config.XPByDifficulty[difficulty]
	if !ok {
		base = a.config.XPByDifficulty[activity.DifficultyMedium]
	}
	amount := base - hintsUsed*a.config.HintPenalty
	if amount < a.config.MinProblemXP {
		amount = a.config.MinProblemXP
	}
	return amount
}

// ProblemCompleted records a solved-or-failed problem and drives the reward
// pipeline: XP for correct solves, badge re-evaluation, challenge fan-out.
// A replayed attempt id is dropped before any side effect.
func (a *ActivityIntake) ProblemCompleted(ctx context.Context, attempt activity.ProblemAttempt) error {
	if attempt.StudentID == 0 || attempt.AttemptID == "" {
		return shared.NewDomainError("intake", "ProblemCompleted", shared.ErrInvalidInput,
			"student id and attempt id are required")
	}
	if attempt.OccurredAt.IsZero() {
		attempt.OccurredAt = time.Now().UTC()
	}

	recorded, err := a.activities.RecordAttempt(ctx, attempt)
	if err != nil {
		return err
	}
	if !recorded {
		a.logger.Debug("duplicate attempt dropped",
			"student_id", attempt.StudentID,
			"attempt_id", attempt.AttemptID,
		)
		return nil
	}

	if attempt.IsCorrect {
		_, err := a.ledger.Earn(ctx, xp.EarnRequest{
			StudentID:      attempt.StudentID,
			Amount:         a.problemXP(attempt.Difficulty, attempt.HintsUsed),
			Source:         xp.SourceProblemCompletion,
			Description:    fmt.Sprintf("Solved a %s problem", attempt.Difficulty),
			IdempotencyKey: "attempt:" + attempt.AttemptID,
			SessionID:      attempt.AttemptID,
		})
		if err != nil {
			return err
		}
	}

	if err := a.badges.Evaluate(ctx, attempt.StudentID); err != nil {
		return err
	}
	if attempt.IsCorrect {
		if err := a.challenges.AutoAdvance(ctx, attempt.StudentID, ActivityProblemSolved, 1, attempt.AttemptID); err != nil {
			return err
		}
	}
	return nil
}

// TimeSpent accumulates learning minutes for a calendar day and advances
// time-based challenges.
func (a *ActivityIntake) TimeSpent(ctx context.Context, studentID int64, date time.Time, minutesDelta int) error {
	if studentID == 0 {
		return shared.NewDomainError("intake", "TimeSpent", shared.ErrInvalidInput,
			"student id is required")
	}
	if minutesDelta <= 0 {
		return shared.NewDomainError("intake", "TimeSpent", shared.ErrInvalidAmount,
			"minutes delta must be positive")
	}

	if err := a.activities.AddMinutes(ctx, studentID, date, minutesDelta); err != nil {
		return err
	}
	return a.challenges.AutoAdvance(ctx, studentID, ActivityTimeSpent, float64(minutesDelta), "")
}

// StreakUpdated stores the externally computed streak and credits the streak
// bonus when the streak reaches a multiple of the bonus interval. The bonus
// ledger key is derived from (student, streak length), so a replayed event
// credits nothing twice.
func (a *ActivityIntake) StreakUpdated(ctx context.Context, studentID int64, currentStreakDays int) error {
	if studentID == 0 {
		return shared.NewDomainError("intake", "StreakUpdated", shared.ErrInvalidInput,
			"student id is required")
	}
	if currentStreakDays < 0 {
		return shared.NewDomainError("intake", "StreakUpdated", shared.ErrValueOutOfRange,
			"streak days cannot be negative")
	}

	if err := a.activities.SetStreak(ctx, studentID, currentStreakDays, time.Now().UTC()); err != nil {
		return err
	}

	if a.config.StreakBonusEvery > 0 && currentStreakDays > 0 &&
		currentStreakDays%a.config.StreakBonusEvery == 0 {
		_, err := a.ledger.Earn(ctx, xp.EarnRequest{
			StudentID:      studentID,
			Amount:         a.config.StreakBonusXP,
			Source:         xp.SourceStreakBonus,
			Description:    fmt.Sprintf("%d-day streak bonus", currentStreakDays),
			IdempotencyKey: fmt.Sprintf("streak:%d:%d", studentID, currentStreakDays),
		})
		if err != nil {
			return err
		}
	}

	if err := a.badges.Evaluate(ctx, studentID); err != nil {
		return err
	}
	return a.challenges.AutoAdvance(ctx, studentID, ActivityStreak, float64(currentStreakDays), "")
}

// RegisterStudentScope places a student in the class/grade/school hierarchy
// from roster data owned by the external platform.
func (a *ActivityIntake) RegisterStudentScope(ctx context.Context, ref activity.ScopeRef) error {
	if ref.StudentID == 0 {
		return shared.NewDomainError("intake", "RegisterStudentScope", shared.ErrInvalidInput,
			"student id is required")
	}
	return a.activities.UpsertScope(ctx, ref)
}
