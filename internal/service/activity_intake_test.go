package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightmind-edu/gamification/internal/domain/activity"
	"github.com/brightmind-edu/gamification/internal/domain/badge"
	"github.com/brightmind-edu/gamification/internal/domain/challenge"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/internal/domain/xp"
)

type intakeFixture struct {
	intake     *ActivityIntake
	ledger     *Ledger
	xpRepo     *memXPRepo
	badgeRepo  *memBadgeRepo
	chRepo     *memChallengeRepo
	activities *memActivityRepo
}

func newIntakeFixture() *intakeFixture {
	xpRepo := newMemXPRepo()
	badgeRepo := newMemBadgeRepo()
	chRepo := newMemChallengeRepo()
	activities := newMemActivityRepo()
	ledger := NewLedger(xpRepo, nil, nil)
	badges := NewBadgeEngine(badgeRepo, activities, ledger, nil, nil)
	challenges := NewChallengeEngine(chRepo, activities, ledger, badges, nil, nil)
	return &intakeFixture{
		intake:     NewActivityIntake(activities, ledger, badges, challenges, DefaultIntakeConfig(), nil),
		ledger:     ledger,
		xpRepo:     xpRepo,
		badgeRepo:  badgeRepo,
		chRepo:     chRepo,
		activities: activities,
	}
}

func TestProblemCompletedCreditsXPByDifficulty(t *testing.T) {
	f := newIntakeFixture()
	ctx := context.Background()

	cases := []struct {
		difficulty activity.Difficulty
		hints      int
		wantXP     int
	}{
		{activity.DifficultyEasy, 0, 25},
		{activity.DifficultyMedium, 0, 50},
		{activity.DifficultyHard, 0, 100},
		{activity.DifficultyMedium, 3, 35},
		{activity.DifficultyEasy, 9, 10}, // floored
	}

	total := 0
	for i, tc := range cases {
		err := f.intake.ProblemCompleted(ctx, activity.ProblemAttempt{
			StudentID:  1,
			AttemptID:  string(rune('a' + i)),
			Subject:    "math",
			Difficulty: tc.difficulty,
			HintsUsed:  tc.hints,
			IsCorrect:  true,
		})
		require.NoError(t, err)
		total += tc.wantXP

		account, err := f.ledger.GetBalance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, total, account.TotalXP, "case %d", i)
	}
}

func TestProblemCompletedIncorrectEarnsNothing(t *testing.T) {
	f := newIntakeFixture()
	ctx := context.Background()

	err := f.intake.ProblemCompleted(ctx, activity.ProblemAttempt{
		StudentID: 1, AttemptID: "a1", Difficulty: activity.DifficultyHard, IsCorrect: false,
	})
	require.NoError(t, err)

	account, err := f.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, account.TotalXP)

	stats, err := f.activities.GetStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ProblemsAttempted, "the attempt itself is still recorded")
	assert.Equal(t, 0, stats.ProblemsSolved)
}

func TestProblemCompletedReplayIsDropped(t *testing.T) {
	f := newIntakeFixture()
	ctx := context.Background()

	attempt := activity.ProblemAttempt{
		StudentID: 1, AttemptID: "dup-1", Difficulty: activity.DifficultyMedium, IsCorrect: true,
	}
	require.NoError(t, f.intake.ProblemCompleted(ctx, attempt))
	require.NoError(t, f.intake.ProblemCompleted(ctx, attempt))

	account, err := f.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, account.TotalXP, "replay credits nothing")

	stats, err := f.activities.GetStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ProblemsAttempted)
	assert.Len(t, f.xpRepo.transactionsFor(1), 1)
}

func TestProblemCompletedRejectsMissingIDs(t *testing.T) {
	f := newIntakeFixture()
	err := f.intake.ProblemCompleted(context.Background(), activity.ProblemAttempt{StudentID: 1})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	err = f.intake.ProblemCompleted(context.Background(), activity.ProblemAttempt{AttemptID: "x"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestProblemCompletedDrivesBadgesAndChallenges(t *testing.T) {
	f := newIntakeFixture()
	ctx := context.Background()

	f.badgeRepo.addDefinition(badge.Definition{
		ID: 1, Code: "first_steps", Category: badge.CategoryMilestone, Tier: badge.TierBronze,
		XPReward: 50, CriteriaJSON: `{"kind":"first_activity"}`, TargetRole: badge.RoleStudent,
	})

	now := time.Now().UTC()
	c := &challenge.Challenge{
		Title: "Solve 2", Metric: challenge.MetricProblemCount, TargetValue: 2,
		XPReward: 100, Tier: challenge.TierStandard, ScopeKind: challenge.ScopeGlobal,
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), IsActive: true,
	}
	require.NoError(t, f.chRepo.Create(ctx, c))
	_, err := f.chRepo.TryJoin(ctx, c.ID, 1, 0, now)
	require.NoError(t, err)

	require.NoError(t, f.intake.ProblemCompleted(ctx, activity.ProblemAttempt{
		StudentID: 1, AttemptID: "p1", Difficulty: activity.DifficultyEasy, IsCorrect: true,
	}))

	earned, err := f.badgeRepo.ListEarnedBadgeIDs(ctx, 1)
	require.NoError(t, err)
	assert.True(t, earned[1], "first-activity badge awarded on the first solve")

	require.NoError(t, f.intake.ProblemCompleted(ctx, activity.ProblemAttempt{
		StudentID: 1, AttemptID: "p2", Difficulty: activity.DifficultyEasy, IsCorrect: true,
	}))

	p, err := f.chRepo.GetParticipation(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.True(t, p.IsCompleted, "second solve completes the counter challenge")

	// 2 solves + badge + challenge reward.
	account, err := f.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 25+25+50+100, account.TotalXP)
}

func TestTimeSpent(t *testing.T) {
	f := newIntakeFixture()
	ctx := context.Background()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.intake.TimeSpent(ctx, 1, day, 30))
	require.NoError(t, f.intake.TimeSpent(ctx, 1, day, 15))

	stats, err := f.activities.GetStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 45, stats.TotalMinutes)

	err = f.intake.TimeSpent(ctx, 1, day, 0)
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	err = f.intake.TimeSpent(ctx, 0, day, 10)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestStreakUpdatedBonus(t *testing.T) {
	f := newIntakeFixture()
	ctx := context.Background()

	require.NoError(t, f.intake.StreakUpdated(ctx, 1, 6))
	account, err := f.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, account.TotalXP, "no bonus below the interval")

	require.NoError(t, f.intake.StreakUpdated(ctx, 1, 7))
	account, err = f.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, account.TotalXP)
	assert.Equal(t, xp.SourceStreakBonus, f.xpRepo.transactionsFor(1)[0].Source)

	// Replaying the same streak event credits nothing.
	require.NoError(t, f.intake.StreakUpdated(ctx, 1, 7))
	assert.Len(t, f.xpRepo.transactionsFor(1), 1)

	require.NoError(t, f.intake.StreakUpdated(ctx, 1, 14))
	account, err = f.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, account.TotalXP, "each multiple of the interval pays once")

	err = f.intake.StreakUpdated(ctx, 1, -1)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}

func TestRegisterStudentScope(t *testing.T) {
	f := newIntakeFixture()
	ctx := context.Background()

	require.NoError(t, f.intake.RegisterStudentScope(ctx, activity.ScopeRef{
		StudentID: 1, ClassID: 10, GradeLevel: 5, SchoolID: 3,
	}))

	ref, err := f.activities.GetScope(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), ref.ClassID)

	err = f.intake.RegisterStudentScope(ctx, activity.ScopeRef{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
