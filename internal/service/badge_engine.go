package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/activity"
	"github.com/brightmind-edu/gamification/internal/domain/badge"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/internal/domain/xp"
	"github.com/brightmind-edu/gamification/pkg/retry"
)

// BadgeEngine evaluates reward criteria against derived student state and
// awards badges at most once, crediting XP bonuses through the Ledger.
type BadgeEngine struct {
	badges     badge.Repository
	activities activity.Repository
	ledger     *Ledger
	publisher  shared.EventPublisher
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewBadgeEngine creates a BadgeEngine.
func NewBadgeEngine(
	badges badge.Repository,
	activities activity.Repository,
	ledger *Ledger,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *BadgeEngine {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgeEngine{
		badges:     badges,
		activities: activities,
		ledger:     ledger,
		publisher:  publisher,
		retrier:    retry.StoreRetrier(shared.IsTransient),
		logger:     logger.With("component", "badge_engine"),
	}
}

// badgeIdempotencyKey derives the deterministic ledger key for a badge's XP
// bonus, so concurrent award paths credit it at most once.
func badgeIdempotencyKey(badgeID, studentID int64) string {
	return fmt.Sprintf("badge:%d:student:%d", badgeID, studentID)
}

// Evaluate re-checks every badge definition relevant to the student against
// freshly queried aggregates and awards the satisfied ones. Already earned
// badges are skipped; progress on the rest is upserted so dashboards can show
// partial completion.
func (e *BadgeEngine) Evaluate(ctx context.Context, studentID int64) error {
	scope, err := e.activities.GetScope(ctx, studentID)
	if err != nil && !shared.IsNotFound(err) {
		return err
	}

	defs, err := e.badges.ListDefinitions(ctx, badge.DefinitionFilter{
		Role:       badge.RoleStudent,
		GradeLevel: scope.GradeLevel,
	})
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}

	earned, err := e.badges.ListEarnedBadgeIDs(ctx, studentID)
	if err != nil {
		return err
	}

	ec, err := e.buildEvaluationContext(ctx, studentID, defs)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, def := range defs {
		if earned[def.ID] {
			continue
		}
		criteria, err := badge.ParseCriteria(def.CriteriaJSON)
		if err != nil {
			// A broken catalog entry must not block the rest of the batch.
			e.logger.Warn("skipping badge with malformed criteria",
				"badge_id", def.ID, "error", err)
			continue
		}

		if criteria.Satisfied(ec) {
			if _, err := e.Award(ctx, studentID, def.ID); err != nil {
				return err
			}
			continue
		}

		if _, err := e.badges.UpsertProgress(ctx, studentID, def.ID, criteria.Progress(ec), now); err != nil {
			return err
		}
	}
	return nil
}

// Award earns the badge for the student at most once. Only the caller whose
// conditional insert created the earned row credits the XP bonus and emits
// the reward event; every other caller gets newly=false. Losing the race is
// not an error.
func (e *BadgeEngine) Award(ctx context.Context, studentID, badgeID int64) (newly bool, err error) {
	def, err := e.badges.GetDefinition(ctx, badgeID)
	if err != nil {
		return false, err
	}

	newly, err = e.badges.MarkEarned(ctx, studentID, badgeID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if !newly {
		return false, nil
	}

	if def.XPReward > 0 {
		err := e.retrier.Do(ctx, func(ctx context.Context) error {
			_, err := e.ledger.Earn(ctx, xp.EarnRequest{
				StudentID:      studentID,
				Amount:         def.XPReward,
				Source:         xp.SourceBadgeReward,
				Description:    fmt.Sprintf("Badge earned: %s", def.Name),
				IdempotencyKey: badgeIdempotencyKey(badgeID, studentID),
			})
			return err
		})
		if err != nil {
			return true, err
		}
	}

	e.logger.Info("badge awarded",
		"student_id", studentID,
		"badge_id", badgeID,
		"badge_code", def.Code,
		"xp_reward", def.XPReward,
	)

	if err := e.publisher.Publish(shared.NewBadgeAwardedEvent(studentID, def.Name, def.Description, def.XPReward)); err != nil {
		e.logger.Warn("failed to publish badge event", "badge_id", badgeID, "error", err)
	}
	return true, nil
}

// UpdateProgress upserts the student's progress toward a badge. Crossing 100
// routes through the award path exactly once.
func (e *BadgeEngine) UpdateProgress(ctx context.Context, studentID, badgeID int64, progress float64) (awarded bool, err error) {
	if progress < 0 || progress > 100 {
		return false, shared.NewDomainError("badge", "UpdateProgress", shared.ErrValueOutOfRange,
			"progress must be between 0 and 100")
	}
	if progress >= 100 {
		return e.Award(ctx, studentID, badgeID)
	}
	_, err = e.badges.UpsertProgress(ctx, studentID, badgeID, progress, time.Now().UTC())
	return false, err
}

// GetStudentBadges returns the student's badges, optionally including
// unearned rows with partial progress.
func (e *BadgeEngine) GetStudentBadges(ctx context.Context, studentID int64, includeProgress bool) ([]badge.StudentBadge, error) {
	return e.badges.ListStudentBadges(ctx, studentID, includeProgress)
}

// buildEvaluationContext gathers the aggregates the batch of definitions
// needs: activity stats, account level, and mastery for every referenced
// subject.
func (e *BadgeEngine) buildEvaluationContext(ctx context.Context, studentID int64, defs []badge.Definition) (badge.EvaluationContext, error) {
	stats, err := e.activities.GetStats(ctx, studentID)
	if err != nil && !shared.IsNotFound(err) {
		return badge.EvaluationContext{}, err
	}

	account, err := e.ledger.GetBalance(ctx, studentID)
	if err != nil {
		return badge.EvaluationContext{}, err
	}

	subjects := map[string]bool{}
	for _, def := range defs {
		c, err := badge.ParseCriteria(def.CriteriaJSON)
		if err == nil && c.Kind == badge.KindTopicMastery {
			subjects[c.Subject] = true
		}
	}

	mastery := make(map[string]float64, len(subjects))
	for subject := range subjects {
		m, err := e.activities.GetSubjectMastery(ctx, studentID, subject)
		if err != nil {
			if shared.IsNotFound(err) {
				continue
			}
			return badge.EvaluationContext{}, err
		}
		mastery[subject] = m.MasteryPct
	}

	return badge.EvaluationContext{
		Stats:            stats,
		Level:            account.Level,
		MasteryBySubject: mastery,
	}, nil
}
