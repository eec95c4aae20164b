package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrendBetween(t *testing.T) {
	assert.Equal(t, TrendNew, TrendBetween(0, 3))
	assert.Equal(t, TrendUp, TrendBetween(5, 2))
	assert.Equal(t, TrendDown, TrendBetween(1, 4))
	assert.Equal(t, TrendSame, TrendBetween(2, 2))
}

func TestPeriod(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	p := Period{Start: start, End: start.AddDate(0, 0, 7)}

	assert.True(t, p.Contains(start))
	assert.True(t, p.Contains(start.AddDate(0, 0, 6)))
	assert.False(t, p.Contains(p.End), "period is half-open")
	assert.False(t, p.EndedBefore(p.End))
	assert.True(t, p.EndedBefore(p.End.Add(time.Second)))
}

func TestBuildRanking_DenseDeterministic(t *testing.T) {
	scores := []Score{
		{StudentID: 1, Value: 100},
		{StudentID: 2, Value: 300},
		{StudentID: 3, Value: 100, TieBreak: 5},
		{StudentID: 4, Value: 100},
	}

	entries := BuildRanking(10, scores, nil)
	require.Len(t, entries, 4)

	// Ranks are a dense permutation 1..K.
	seen := map[int]bool{}
	for _, e := range entries {
		seen[e.Rank] = true
	}
	for rank := 1; rank <= len(entries); rank++ {
		assert.True(t, seen[rank], "missing rank %d", rank)
	}

	// Score is non-increasing, ties broken by tie-break then student id.
	assert.Equal(t, int64(2), entries[0].StudentID)
	assert.Equal(t, int64(3), entries[1].StudentID, "higher tie-break wins")
	assert.Equal(t, int64(1), entries[2].StudentID, "lower student id wins the final tie-break")
	assert.Equal(t, int64(4), entries[3].StudentID)
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i].Score, entries[i-1].Score)
	}

	// No previous snapshot: everyone is new.
	for _, e := range entries {
		assert.Equal(t, TrendNew, e.Trend)
		assert.Equal(t, 0, e.PreviousRank)
	}
}

func TestBuildRanking_TrendDiff(t *testing.T) {
	previous := []Entry{
		{StudentID: 1, Rank: 1},
		{StudentID: 2, Rank: 2},
		{StudentID: 3, Rank: 3},
	}

	// Student 2 surges, student 1 idles, student 4 appears.
	scores := []Score{
		{StudentID: 1, Value: 0},
		{StudentID: 2, Value: 200},
		{StudentID: 3, Value: 50},
		{StudentID: 4, Value: 100},
	}

	entries := BuildRanking(10, scores, previous)
	require.Len(t, entries, 4)

	byStudent := map[int64]Entry{}
	for _, e := range entries {
		byStudent[e.StudentID] = e
	}

	assert.Equal(t, 1, byStudent[2].Rank)
	assert.Equal(t, TrendUp, byStudent[2].Trend)
	assert.Equal(t, 2, byStudent[2].PreviousRank)

	assert.Equal(t, TrendNew, byStudent[4].Trend)
	assert.Equal(t, 0, byStudent[4].PreviousRank)

	assert.Equal(t, 4, byStudent[1].Rank)
	assert.Equal(t, TrendDown, byStudent[1].Trend, "rank 1 with no activity trends down")
	assert.Equal(t, 1, byStudent[1].PreviousRank)

	assert.Equal(t, TrendSame, byStudent[3].Trend)
}

func TestBuildRanking_Empty(t *testing.T) {
	entries := BuildRanking(10, nil, nil)
	assert.Empty(t, entries, "a scope with no qualifying students is an empty ranking, not an error")
}

func TestStrategyFor(t *testing.T) {
	for _, typ := range AllTypes() {
		s, err := StrategyFor(typ)
		require.NoError(t, err, "type %s", typ)
		assert.Equal(t, typ, s.Type())
	}

	_, err := StrategyFor(Type("shoe_size"))
	assert.Error(t, err)
}

// stubSource records which aggregation a strategy asked for.
type stubSource struct {
	called string
	scores []Score
}

func (s *stubSource) WeeklyXPTotals(context.Context, ScopeFilter) ([]Score, error) {
	s.called = "weekly_xp"
	return s.scores, nil
}

func (s *stubSource) AccuracyRates(_ context.Context, _ ScopeFilter, _ Period, minAttempts int) ([]Score, error) {
	s.called = "accuracy"
	if minAttempts != DefaultMinAccuracyAttempts {
		s.called = "accuracy_wrong_floor"
	}
	return s.scores, nil
}

func (s *stubSource) ChallengeCompletions(context.Context, ScopeFilter, Period) ([]Score, error) {
	s.called = "completions"
	return s.scores, nil
}

func (s *stubSource) StreakLengths(context.Context, ScopeFilter) ([]Score, error) {
	s.called = "streaks"
	return s.scores, nil
}

func (s *stubSource) BadgeCounts(context.Context, ScopeFilter) ([]Score, error) {
	s.called = "badges"
	return s.scores, nil
}

func TestStrategies_DispatchToSource(t *testing.T) {
	ctx := context.Background()
	scope := ScopeFilter{Scope: ScopeClass, ScopeID: 7}
	period := Period{Start: time.Now().UTC(), End: time.Now().UTC().AddDate(0, 0, 7)}

	tests := []struct {
		typ  Type
		want string
	}{
		{TypeWeeklyXP, "weekly_xp"},
		{TypeMonthlyAccuracy, "accuracy"},
		{TypeChallengeCompletions, "completions"},
		{TypeStreak, "streaks"},
		{TypeBadges, "badges"},
	}

	for _, tt := range tests {
		src := &stubSource{scores: []Score{{StudentID: 1, Value: 1}}}
		strategy, err := StrategyFor(tt.typ)
		require.NoError(t, err)

		scores, err := strategy.Compute(ctx, src, scope, period)
		require.NoError(t, err)
		assert.Equal(t, tt.want, src.called)
		assert.Len(t, scores, 1)
	}
}
