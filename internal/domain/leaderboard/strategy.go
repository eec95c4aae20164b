package leaderboard

import (
	"context"
	"fmt"
)

// ScopeFilter selects the student population an aggregation runs over.
type ScopeFilter struct {
	Scope   Scope
	ScopeID int64
}

// StatsSource provides the per-metric aggregations strategies rank by. The
// Postgres implementation computes these with SQL; tests substitute an
// in-memory double.
type StatsSource interface {
	// WeeklyXPTotals returns weekly XP per student in scope, with total XP as
	// the tie-break.
	WeeklyXPTotals(ctx context.Context, scope ScopeFilter) ([]Score, error)

	// AccuracyRates returns accuracy percentages over attempts inside the
	// period for students in scope with at least minAttempts attempts, with
	// the attempt count as the tie-break.
	AccuracyRates(ctx context.Context, scope ScopeFilter, period Period, minAttempts int) ([]Score, error)

	// ChallengeCompletions returns tier-weighted completed-challenge counts
	// inside the period, with earlier total completion time as the tie-break.
	ChallengeCompletions(ctx context.Context, scope ScopeFilter, period Period) ([]Score, error)

	// StreakLengths returns current consecutive-day streaks, with the longest
	// streak as the tie-break.
	StreakLengths(ctx context.Context, scope ScopeFilter) ([]Score, error)

	// BadgeCounts returns tier-weighted earned badge counts, with the plain
	// badge count as the tie-break.
	BadgeCounts(ctx context.Context, scope ScopeFilter) ([]Score, error)
}

// Strategy computes the ranked score list for one leaderboard type. One
// strategy exists per metric type; new types are additive.
type Strategy interface {
	// Type returns the leaderboard type this strategy serves.
	Type() Type

	// Compute returns the raw scores for the scope and period. Scopes with no
	// qualifying students produce an empty list, not an error.
	Compute(ctx context.Context, src StatsSource, scope ScopeFilter, period Period) ([]Score, error)
}

// DefaultMinAccuracyAttempts is the minimum-attempts floor below which a
// student does not qualify for the accuracy leaderboard.
const DefaultMinAccuracyAttempts = 20

// StrategyFor returns the strategy for a leaderboard type.
func StrategyFor(t Type) (Strategy, error) {
	switch t {
	case TypeWeeklyXP:
		return weeklyXPStrategy{}, nil
	case TypeMonthlyAccuracy:
		return accuracyStrategy{MinAttempts: DefaultMinAccuracyAttempts}, nil
	case TypeChallengeCompletions:
		return completionsStrategy{}, nil
	case TypeStreak:
		return streakStrategy{}, nil
	case TypeBadges:
		return badgesStrategy{}, nil
	default:
		return nil, fmt.Errorf("leaderboard: no strategy for type %q", t)
	}
}

// AllTypes lists every ranked metric type.
func AllTypes() []Type {
	return []Type{TypeWeeklyXP, TypeMonthlyAccuracy, TypeChallengeCompletions, TypeStreak, TypeBadges}
}

type weeklyXPStrategy struct{}

func (weeklyXPStrategy) Type() Type { return TypeWeeklyXP }

func (weeklyXPStrategy) Compute(ctx context.Context, src StatsSource, scope ScopeFilter, _ Period) ([]Score, error) {
	return src.WeeklyXPTotals(ctx, scope)
}

type accuracyStrategy struct {
	MinAttempts int
}

func (accuracyStrategy) Type() Type { return TypeMonthlyAccuracy }

func (s accuracyStrategy) Compute(ctx context.Context, src StatsSource, scope ScopeFilter, period Period) ([]Score, error) {
	return src.AccuracyRates(ctx, scope, period, s.MinAttempts)
}

type completionsStrategy struct{}

func (completionsStrategy) Type() Type { return TypeChallengeCompletions }

func (completionsStrategy) Compute(ctx context.Context, src StatsSource, scope ScopeFilter, period Period) ([]Score, error) {
	return src.ChallengeCompletions(ctx, scope, period)
}

type streakStrategy struct{}

func (streakStrategy) Type() Type { return TypeStreak }

func (streakStrategy) Compute(ctx context.Context, src StatsSource, scope ScopeFilter, _ Period) ([]Score, error) {
	return src.StreakLengths(ctx, scope)
}

type badgesStrategy struct{}

func (badgesStrategy) Type() Type { return TypeBadges }

func (badgesStrategy) Compute(ctx context.Context, src StatsSource, scope ScopeFilter, _ Period) ([]Score, error) {
	return src.BadgeCounts(ctx, scope)
}
