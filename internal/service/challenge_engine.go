package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/activity"
	"github.com/brightmind-edu/gamification/internal/domain/challenge"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/internal/domain/xp"
	"github.com/brightmind-edu/gamification/pkg/retry"
)

// baselineWindow is how far back the accuracy baseline for relative metrics
// looks at join time.
const baselineWindow = 30 * 24 * time.Hour

// ActivityKind classifies an inbound activity event for challenge fan-out.
type ActivityKind string

const (
	ActivityProblemSolved ActivityKind = "problem_solved"
	ActivityTimeSpent     ActivityKind = "time_spent"
	ActivityStreak        ActivityKind = "streak"
)

// ChallengeEngine tracks participation in time-boxed goals, advances progress
// monotonically, and distributes completion rewards exactly once.
type ChallengeEngine struct {
	challenges challenge.Repository
	activities activity.Repository
	ledger     *Ledger
	badges     *BadgeEngine
	publisher  shared.EventPublisher
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewChallengeEngine creates a ChallengeEngine.
func NewChallengeEngine(
	challenges challenge.Repository,
	activities activity.Repository,
	ledger *Ledger,
	badges *BadgeEngine,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *ChallengeEngine {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChallengeEngine{
		challenges: challenges,
		activities: activities,
		ledger:     ledger,
		badges:     badges,
		publisher:  publisher,
		retrier:    retry.StoreRetrier(shared.IsTransient),
		logger:     logger.With("component", "challenge_engine"),
	}
}

// challengeIdempotencyKey derives the deterministic ledger key for a
// challenge's XP reward.
func challengeIdempotencyKey(challengeID, studentID int64) string {
	return fmt.Sprintf("challenge:%d:student:%d", challengeID, studentID)
}

// Publish validates and creates a challenge.
func (e *ChallengeEngine) Publish(ctx context.Context, c *challenge.Challenge) error {
	if err := c.Validate(); err != nil {
		return shared.WrapError("challenge", "Publish", shared.ErrInvalidEntity, "invalid challenge", err)
	}
	if err := e.challenges.Create(ctx, c); err != nil {
		return err
	}
	e.logger.Info("challenge published",
		"challenge_id", c.ID,
		"metric", string(c.Metric),
		"target", c.TargetValue,
		"window_start", c.StartDate,
		"window_end", c.EndDate,
	)
	return nil
}

// GetChallenges returns challenges matching the filter.
func (e *ChallengeEngine) GetChallenges(ctx context.Context, f challenge.Filter) ([]challenge.Challenge, error) {
	return e.challenges.List(ctx, f)
}

// GetStudentChallenges returns all of the student's participations with
// their challenges.
func (e *ChallengeEngine) GetStudentChallenges(ctx context.Context, studentID int64) ([]challenge.ParticipationView, error) {
	return e.challenges.ListStudentParticipations(ctx, studentID)
}

// Join enrolls the student in a challenge. A refused join (inactive, outside
// the window, at capacity, already joined) is a result, not an error; all
// four checks and the insert are evaluated against one locked view of the
// challenge row so the participant cap holds under concurrency. For relative
// metrics a starting baseline is captured at join time.
func (e *ChallengeEngine) Join(ctx context.Context, challengeID, studentID int64) (challenge.JoinResult, error) {
	c, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return challenge.JoinResult{}, err
	}

	now := time.Now().UTC()
	var baseline float64
	if c.Metric.IsRelative() {
		pct, attempts, err := e.activities.AccuracyInWindow(ctx, studentID, now.Add(-baselineWindow), now)
		if err != nil && !shared.IsNotFound(err) {
			return challenge.JoinResult{}, err
		}
		if attempts > 0 {
			baseline = pct
		}
	}

	result, err := e.challenges.TryJoin(ctx, challengeID, studentID, baseline, now)
	if err != nil {
		return challenge.JoinResult{}, err
	}
	if result.Joined {
		e.logger.Info("challenge joined",
			"challenge_id", challengeID,
			"student_id", studentID,
			"baseline", baseline,
		)
		event := shared.NewChallengeJoinedEvent(studentID, challengeID, c.Title)
		if err := e.publisher.Publish(event); err != nil {
			e.logger.Warn("failed to publish join event", "challenge_id", challengeID, "error", err)
		}
	} else {
		e.logger.Debug("join refused",
			"challenge_id", challengeID,
			"student_id", studentID,
			"reason", string(result.Reason),
		)
	}
	return result, nil
}

// UpdateProgress applies an absolute progress observation. Non-increasing
// values and completed participations are no-ops, so a retried call with the
// same observed value is harmless. Crossing the target triggers reward
// distribution.
func (e *ChallengeEngine) UpdateProgress(ctx context.Context, challengeID, studentID int64, newValue float64, note string) (challenge.AdvanceResult, error) {
	result, err := e.challenges.Advance(ctx, challenge.AdvanceRequest{
		ChallengeID: challengeID,
		StudentID:   studentID,
		Mode:        challenge.AdvanceAbsolute,
		Value:       newValue,
		Note:        note,
	}, time.Now().UTC())
	if err != nil {
		return challenge.AdvanceResult{}, err
	}
	if result.Crossed {
		if err := e.CompleteChallenge(ctx, challengeID, studentID); err != nil {
			return result, err
		}
	}
	return result, nil
}

// CompleteChallenge distributes the completion rewards. The XP and badge
// flags are claimed independently with conditional false→true updates, so
// even two concurrent invocations produce exactly one ledger credit and one
// badge award.
func (e *ChallengeEngine) CompleteChallenge(ctx context.Context, challengeID, studentID int64) error {
	c, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return err
	}

	wonXP, err := e.challenges.ClaimReward(ctx, challengeID, studentID, challenge.RewardXP)
	if err != nil {
		return err
	}
	if wonXP && c.XPReward > 0 {
		err := e.retrier.Do(ctx, func(ctx context.Context) error {
			_, err := e.ledger.Earn(ctx, xp.EarnRequest{
				StudentID:      studentID,
				Amount:         c.XPReward,
				Source:         xp.SourceChallengeReward,
				Description:    fmt.Sprintf("Challenge completed: %s", c.Title),
				IdempotencyKey: challengeIdempotencyKey(challengeID, studentID),
			})
			return err
		})
		if err != nil {
			return err
		}
	}

	wonBadge, err := e.challenges.ClaimReward(ctx, challengeID, studentID, challenge.RewardBadge)
	if err != nil {
		return err
	}
	if wonBadge && c.BadgeID != 0 {
		if _, err := e.badges.Award(ctx, studentID, c.BadgeID); err != nil {
			return err
		}
	}

	if wonXP || wonBadge {
		e.logger.Info("challenge completed",
			"challenge_id", challengeID,
			"student_id", studentID,
			"xp_reward", c.XPReward,
			"badge_id", c.BadgeID,
		)
		event := shared.NewChallengeCompletedEvent(studentID, c.Title, c.Description, c.XPReward)
		if err := e.publisher.Publish(event); err != nil {
			e.logger.Warn("failed to publish completion event", "challenge_id", challengeID, "error", err)
		}
	}
	return nil
}

// AutoAdvance fans an activity event out to every active, incomplete
// participation of the student, mapping the activity kind onto each
// challenge's metric.
func (e *ChallengeEngine) AutoAdvance(ctx context.Context, studentID int64, kind ActivityKind, delta float64, note string) error {
	now := time.Now().UTC()
	views, err := e.challenges.ListActiveParticipations(ctx, studentID, now)
	if err != nil {
		return err
	}

	for _, view := range views {
		req, ok, err := e.advanceRequestFor(ctx, view, kind, delta, note, now)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		result, err := e.challenges.Advance(ctx, req, now)
		if err != nil {
			if shared.IsTransient(err) {
				e.logger.Warn("dropping progress update after transient failure",
					"challenge_id", view.Challenge.ID,
					"student_id", studentID,
					"error", err,
				)
				continue
			}
			return err
		}
		if result.Crossed {
			if err := e.CompleteChallenge(ctx, view.Challenge.ID, studentID); err != nil {
				return err
			}
		}
	}
	return nil
}

// advanceRequestFor maps an activity kind to a progress update for one
// participation, or ok=false when the challenge's metric is unrelated.
func (e *ChallengeEngine) advanceRequestFor(
	ctx context.Context,
	view challenge.ParticipationView,
	kind ActivityKind,
	delta float64,
	note string,
	now time.Time,
) (challenge.AdvanceRequest, bool, error) {
	req := challenge.AdvanceRequest{
		ChallengeID: view.Challenge.ID,
		StudentID:   view.Participation.StudentID,
		Note:        note,
	}

	switch view.Challenge.Metric {
	case challenge.MetricProblemCount:
		if kind != ActivityProblemSolved {
			return req, false, nil
		}
		req.Mode = challenge.AdvanceIncrement
		req.Value = delta

	case challenge.MetricTimeMinutes:
		if kind != ActivityTimeSpent {
			return req, false, nil
		}
		req.Mode = challenge.AdvanceIncrement
		req.Value = delta

	case challenge.MetricStreakDays:
		if kind != ActivityStreak {
			return req, false, nil
		}
		req.Mode = challenge.AdvanceAbsolute
		req.Value = delta

	case challenge.MetricAccuracyImprovement:
		if kind != ActivityProblemSolved {
			return req, false, nil
		}
		pct, attempts, err := e.activities.AccuracyInWindow(ctx,
			view.Participation.StudentID, view.Participation.JoinedAt, now)
		if err != nil && !shared.IsNotFound(err) {
			return req, false, err
		}
		if attempts == 0 {
			return req, false, nil
		}
		improvement := pct - view.Participation.StartingBaseline
		if improvement <= 0 {
			// Progress never regresses: a dip below the baseline is ignored.
			return req, false, nil
		}
		req.Mode = challenge.AdvanceAbsolute
		req.Value = improvement

	default:
		return req, false, nil
	}
	return req, true, nil
}
