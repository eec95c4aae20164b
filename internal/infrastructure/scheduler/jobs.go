// Package scheduler implements background job scheduling for the
// gamification engine.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/challenge"
	"github.com/brightmind-edu/gamification/internal/domain/leaderboard"
	"github.com/brightmind-edu/gamification/internal/service"
	"github.com/brightmind-edu/gamification/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD JOBS
// ══════════════════════════════════════════════════════════════════════════════

// ClassLister supplies the class population for per-class rotation.
type ClassLister interface {
	ListClassIDs(ctx context.Context) ([]int64, error)
}

// weeklyBoardTypes are the leaderboard types rotated on the week boundary.
// Monthly accuracy rotates on its own monthly job.
var weeklyBoardTypes = []leaderboard.Type{
	leaderboard.TypeWeeklyXP,
	leaderboard.TypeChallengeCompletions,
	leaderboard.TypeStreak,
	leaderboard.TypeBadges,
}

// WeeklyRotationJob creates fresh per-class leaderboards for the new week and
// zeroes the weekly XP counters. Runs under the cluster lock keyed by week, so
// one worker instance rotates and the rest skip.
type WeeklyRotationJob struct {
	Boards  *service.LeaderboardEngine
	Ledger  *service.Ledger
	Classes ClassLister
	Lock    Lock
	Logger  *slog.Logger
}

// Name implements Job.
func (j *WeeklyRotationJob) Name() string { return "leaderboard_rotate_weekly" }

// Description implements Job.
func (j *WeeklyRotationJob) Description() string {
	return "rotates weekly leaderboards and resets weekly XP counters"
}

// Run implements Job.
func (j *WeeklyRotationJob) Run(ctx context.Context) error {
	now := time.Now().UTC()
	acquired, err := j.Lock.RunExclusive(ctx, j.Name(), timeutil.WeekID(now), func(ctx context.Context) error {
		start, end := timeutil.WeekWindow(now)
		period := leaderboard.Period{Start: start, End: end}

		classIDs, err := j.Classes.ListClassIDs(ctx)
		if err != nil {
			return err
		}
		for _, classID := range classIDs {
			for _, t := range weeklyBoardTypes {
				if _, err := j.Boards.CreateLeaderboard(ctx, t, leaderboard.ScopeClass, classID, period); err != nil {
					return err
				}
			}
		}

		_, err = j.Ledger.ResetWeeklyXP(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if !acquired {
		j.Logger.Debug("rotation already handled by another instance", "job", j.Name())
	}
	return nil
}

// MonthlyRotationJob creates fresh per-class accuracy leaderboards for the new
// month and zeroes the monthly XP counters.
type MonthlyRotationJob struct {
	Boards  *service.LeaderboardEngine
	Ledger  *service.Ledger
	Classes ClassLister
	Lock    Lock
	Logger  *slog.Logger
}

// Name implements Job.
func (j *MonthlyRotationJob) Name() string { return "leaderboard_rotate_monthly" }

// Description implements Job.
func (j *MonthlyRotationJob) Description() string {
	return "rotates monthly accuracy leaderboards and resets monthly XP counters"
}

// Run implements Job.
func (j *MonthlyRotationJob) Run(ctx context.Context) error {
	now := time.Now().UTC()
	acquired, err := j.Lock.RunExclusive(ctx, j.Name(), timeutil.MonthID(now), func(ctx context.Context) error {
		start, end := timeutil.MonthWindow(now)
		period := leaderboard.Period{Start: start, End: end}

		classIDs, err := j.Classes.ListClassIDs(ctx)
		if err != nil {
			return err
		}
		for _, classID := range classIDs {
			if _, err := j.Boards.CreateLeaderboard(ctx, leaderboard.TypeMonthlyAccuracy,
				leaderboard.ScopeClass, classID, period); err != nil {
				return err
			}
		}

		_, err = j.Ledger.ResetMonthlyXP(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if !acquired {
		j.Logger.Debug("rotation already handled by another instance", "job", j.Name())
	}
	return nil
}

// RefreshJob recomputes every current leaderboard. Cheap enough to run
// frequently; the per-board lock is unnecessary because recomputation is
// idempotent, but the job lock still keeps instances from duplicating work.
type RefreshJob struct {
	Boards *service.LeaderboardEngine
	Lock   Lock
	Logger *slog.Logger
}

// Name implements Job.
func (j *RefreshJob) Name() string { return "leaderboard_refresh" }

// Description implements Job.
func (j *RefreshJob) Description() string {
	return "recomputes all current leaderboards"
}

// Run implements Job. The lock period is a ten minute bucket: instances that
// wake up in the same bucket dedupe, later buckets refresh again.
func (j *RefreshJob) Run(ctx context.Context) error {
	bucket := time.Now().UTC().Truncate(10 * time.Minute).Format(time.RFC3339)
	_, err := j.Lock.RunExclusive(ctx, j.Name(), bucket, func(ctx context.Context) error {
		return j.Boards.RefreshCurrent(ctx)
	})
	return err
}

// ArchiveJob demotes leaderboards whose period has ended. Entries stay
// queryable as history.
type ArchiveJob struct {
	Boards *service.LeaderboardEngine
	Lock   Lock
	Logger *slog.Logger
}

// Name implements Job.
func (j *ArchiveJob) Name() string { return "leaderboard_archive" }

// Description implements Job.
func (j *ArchiveJob) Description() string {
	return "archives leaderboards whose period has ended"
}

// Run implements Job.
func (j *ArchiveJob) Run(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := j.Lock.RunExclusive(ctx, j.Name(), timeutil.DayID(now), func(ctx context.Context) error {
		_, err := j.Boards.Archive(ctx, now)
		return err
	})
	return err
}

// ChallengeTemplate describes one recurring weekly challenge.
type ChallengeTemplate struct {
	Title       string
	Description string
	Metric      challenge.Metric
	TargetValue float64
	XPReward    int
	Tier        challenge.Tier
}

// DefaultWeeklyChallenges is the standard weekly rotation published when no
// custom templates are configured.
func DefaultWeeklyChallenges() []ChallengeTemplate {
	return []ChallengeTemplate{
		{
			Title:       "Problem Crusher",
			Description: "Solve 20 problems this week",
			Metric:      challenge.MetricProblemCount,
			TargetValue: 20,
			XPReward:    150,
			Tier:        challenge.TierStandard,
		},
		{
			Title:       "Deep Focus",
			Description: "Spend 150 minutes learning this week",
			Metric:      challenge.MetricTimeMinutes,
			TargetValue: 150,
			XPReward:    150,
			Tier:        challenge.TierStandard,
		},
		{
			Title:       "Full Week Streak",
			Description: "Keep your streak alive all seven days",
			Metric:      challenge.MetricStreakDays,
			TargetValue: 7,
			XPReward:    250,
			Tier:        challenge.TierAdvanced,
		},
		{
			Title:       "Sharper Than Ever",
			Description: "Raise your accuracy by 10 percentage points",
			Metric:      challenge.MetricAccuracyImprovement,
			TargetValue: 10,
			XPReward:    400,
			Tier:        challenge.TierEpic,
		},
	}
}

// ChallengeGenerationJob publishes the weekly challenge rotation at the start
// of each week.
type ChallengeGenerationJob struct {
	Challenges *service.ChallengeEngine
	Templates  []ChallengeTemplate
	Lock       Lock
	Logger     *slog.Logger
}

// Name implements Job.
func (j *ChallengeGenerationJob) Name() string { return "challenge_generate_weekly" }

// Description implements Job.
func (j *ChallengeGenerationJob) Description() string {
	return "publishes the weekly challenge rotation"
}

// Run implements Job.
func (j *ChallengeGenerationJob) Run(ctx context.Context) error {
	now := time.Now().UTC()
	templates := j.Templates
	if len(templates) == 0 {
		templates = DefaultWeeklyChallenges()
	}

	acquired, err := j.Lock.RunExclusive(ctx, j.Name(), timeutil.WeekID(now), func(ctx context.Context) error {
		start, end := timeutil.WeekWindow(now)
		for _, t := range templates {
			c := &challenge.Challenge{
				Title:       t.Title,
				Description: t.Description,
				Metric:      t.Metric,
				TargetValue: t.TargetValue,
				XPReward:    t.XPReward,
				Tier:        t.Tier,
				ScopeKind:   challenge.ScopeGlobal,
				StartDate:   start,
				EndDate:     end,
				IsActive:    true,
			}
			if err := j.Challenges.Publish(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if acquired {
		j.Logger.Info("weekly challenges published",
			"week", timeutil.WeekID(now), "count", len(templates))
	}
	return nil
}
