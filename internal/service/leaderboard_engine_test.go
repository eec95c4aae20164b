package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightmind-edu/gamification/internal/domain/leaderboard"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/pkg/timeutil"
)

type leaderboardFixture struct {
	engine *LeaderboardEngine
	boards *memBoardRepo
	source *memStatsSource
	cache  *memCache
}

func newLeaderboardFixture(cache *memCache) *leaderboardFixture {
	boards := newMemBoardRepo()
	source := &memStatsSource{}
	var c leaderboard.Cache
	if cache != nil {
		c = cache
	}
	return &leaderboardFixture{
		engine: NewLeaderboardEngine(boards, source, c, nil, nil),
		boards: boards,
		source: source,
		cache:  cache,
	}
}

func weekPeriod(at time.Time) leaderboard.Period {
	start, end := timeutil.WeekWindow(at)
	return leaderboard.Period{Start: start, End: end}
}

func TestCreateLeaderboardComputesDenseRanks(t *testing.T) {
	f := newLeaderboardFixture(nil)
	ctx := context.Background()

	f.source.weeklyXP = []leaderboard.Score{
		{StudentID: 1, Value: 300, TieBreak: 1000},
		{StudentID: 2, Value: 500, TieBreak: 2000},
		{StudentID: 3, Value: 300, TieBreak: 4000},
		{StudentID: 4, Value: 100, TieBreak: 500},
	}

	l, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeClass, 11, weekPeriod(time.Now().UTC()))
	require.NoError(t, err)

	entries, err := f.engine.GetLeaderboard(ctx, l.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank, "dense ranks starting at 1")
		assert.Equal(t, leaderboard.TrendNew, e.Trend, "first snapshot has no prior ranks")
	}
	assert.Equal(t, int64(2), entries[0].StudentID)
	assert.Equal(t, int64(3), entries[1].StudentID, "tie broken by higher secondary metric")
	assert.Equal(t, int64(1), entries[2].StudentID)
	assert.Equal(t, int64(4), entries[3].StudentID)
}

func TestCreateLeaderboardRejectsUnknownType(t *testing.T) {
	f := newLeaderboardFixture(nil)
	_, err := f.engine.CreateLeaderboard(context.Background(), leaderboard.Type("bogus"),
		leaderboard.ScopeClass, 1, weekPeriod(time.Now().UTC()))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCreateLeaderboardDemotesPredecessor(t *testing.T) {
	f := newLeaderboardFixture(nil)
	ctx := context.Background()

	now := time.Now().UTC()
	first, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeClass, 11, weekPeriod(now.AddDate(0, 0, -7)))
	require.NoError(t, err)
	second, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeClass, 11, weekPeriod(now))
	require.NoError(t, err)

	current, err := f.engine.GetCurrent(ctx, leaderboard.TypeWeeklyXP, leaderboard.ScopeClass, 11)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	demoted, err := f.boards.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, demoted.IsCurrent, "at most one current board per scope key")
}

func TestRecomputeTracksTrends(t *testing.T) {
	f := newLeaderboardFixture(nil)
	ctx := context.Background()

	f.source.weeklyXP = []leaderboard.Score{
		{StudentID: 1, Value: 500},
		{StudentID: 2, Value: 300},
	}
	l, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeClass, 11, weekPeriod(time.Now().UTC()))
	require.NoError(t, err)

	// Student 2 overtakes while student 1 idles; student 3 appears.
	f.source.weeklyXP = []leaderboard.Score{
		{StudentID: 1, Value: 500},
		{StudentID: 2, Value: 700},
		{StudentID: 3, Value: 100},
	}
	require.NoError(t, f.engine.Recompute(ctx, l.ID))

	entries, err := f.engine.GetLeaderboard(ctx, l.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byStudent := make(map[int64]leaderboard.Entry)
	for _, e := range entries {
		byStudent[e.StudentID] = e
	}
	assert.Equal(t, 1, byStudent[2].Rank)
	assert.Equal(t, leaderboard.TrendUp, byStudent[2].Trend)
	assert.Equal(t, 2, byStudent[1].Rank)
	assert.Equal(t, leaderboard.TrendDown, byStudent[1].Trend, "idle former leader trends down")
	assert.Equal(t, 1, byStudent[1].PreviousRank)
	assert.Equal(t, leaderboard.TrendNew, byStudent[3].Trend)
}

func TestRecomputeKeepsZeroScoreStudentsRanked(t *testing.T) {
	f := newLeaderboardFixture(nil)
	ctx := context.Background()

	f.source.weeklyXP = []leaderboard.Score{
		{StudentID: 1, Value: 500},
		{StudentID: 2, Value: 300},
	}
	l, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeClass, 11, weekPeriod(time.Now().UTC()))
	require.NoError(t, err)

	// The leader goes fully idle. The stats source reports them at zero
	// rather than dropping the row, so the board still carries them.
	f.source.weeklyXP = []leaderboard.Score{
		{StudentID: 1, Value: 0},
		{StudentID: 2, Value: 300},
	}
	require.NoError(t, f.engine.Recompute(ctx, l.ID))

	entries, err := f.engine.GetLeaderboard(ctx, l.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2, "zero-score students keep their entries")

	assert.Equal(t, int64(1), entries[1].StudentID)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, leaderboard.TrendDown, entries[1].Trend, "idle former leader shows a demotion, not a disappearance")
	assert.Equal(t, 1, entries[1].PreviousRank)
	assert.Equal(t, float64(0), entries[1].Score)
}

func TestRecomputeSeedsTrendsFromPredecessorBoard(t *testing.T) {
	f := newLeaderboardFixture(nil)
	ctx := context.Background()

	now := time.Now().UTC()
	f.source.weeklyXP = []leaderboard.Score{
		{StudentID: 1, Value: 500},
		{StudentID: 2, Value: 300},
	}
	_, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeClass, 11, weekPeriod(now.AddDate(0, 0, -7)))
	require.NoError(t, err)

	// The fresh week's board has no entries of its own; trends diff against
	// last week's board.
	f.source.weeklyXP = []leaderboard.Score{
		{StudentID: 1, Value: 50},
		{StudentID: 2, Value: 90},
	}
	fresh, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeClass, 11, weekPeriod(now))
	require.NoError(t, err)

	entries, err := f.engine.GetLeaderboard(ctx, fresh.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].StudentID)
	assert.Equal(t, leaderboard.TrendUp, entries[0].Trend)
	assert.Equal(t, leaderboard.TrendDown, entries[1].Trend)
}

func TestRecomputeDiffsDeepBoardsBeyondPageLimits(t *testing.T) {
	f := newLeaderboardFixture(nil)
	ctx := context.Background()

	const students = 1200
	scores := make([]leaderboard.Score, 0, students)
	for i := 1; i <= students; i++ {
		scores = append(scores, leaderboard.Score{StudentID: int64(i), Value: float64(students + 1 - i)})
	}
	f.source.weeklyXP = scores

	l, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeSchool, 1, weekPeriod(time.Now().UTC()))
	require.NoError(t, err)

	// An unchanged recompute must diff against the whole previous snapshot,
	// not a page-capped slice of it.
	require.NoError(t, f.engine.Recompute(ctx, l.ID))

	entries, err := f.boards.AllEntries(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, entries, students)

	deep := entries[students-1]
	assert.Equal(t, int64(students), deep.StudentID)
	assert.Equal(t, students, deep.Rank)
	assert.Equal(t, leaderboard.TrendSame, deep.Trend, "bottom-ranked student must not be relabeled new")
}

func TestCreateLeaderboardPublishesRotationEvent(t *testing.T) {
	boards := newMemBoardRepo()
	publisher := &recordingPublisher{}
	engine := NewLeaderboardEngine(boards, &memStatsSource{}, nil, publisher, nil)
	ctx := context.Background()

	l, err := engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeClass, 11, weekPeriod(time.Now().UTC()))
	require.NoError(t, err)

	events := publisher.byType(shared.EventLeaderboardRotated)
	require.Len(t, events, 1)
	rotated, ok := events[0].(shared.LeaderboardRotatedEvent)
	require.True(t, ok)
	assert.Equal(t, l.ID, rotated.LeaderboardID)
	assert.Equal(t, string(leaderboard.TypeWeeklyXP), rotated.BoardType)
	assert.Equal(t, string(leaderboard.ScopeClass), rotated.ScopeKind)
	assert.Equal(t, int64(11), rotated.ScopeID)
}

func TestRecomputeEmptyScope(t *testing.T) {
	f := newLeaderboardFixture(nil)
	ctx := context.Background()

	l, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeMonthlyAccuracy,
		leaderboard.ScopeGrade, 5, weekPeriod(time.Now().UTC()))
	require.NoError(t, err, "a scope with no qualifying students is not an error")

	entries, err := f.engine.GetLeaderboard(ctx, l.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRefreshCurrent(t *testing.T) {
	f := newLeaderboardFixture(nil)
	ctx := context.Background()

	period := weekPeriod(time.Now().UTC())
	_, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP, leaderboard.ScopeClass, 1, period)
	require.NoError(t, err)
	_, err = f.engine.CreateLeaderboard(ctx, leaderboard.TypeStreak, leaderboard.ScopeClass, 1, period)
	require.NoError(t, err)

	f.source.weeklyXP = []leaderboard.Score{{StudentID: 1, Value: 10}}
	f.source.streaks = []leaderboard.Score{{StudentID: 1, Value: 3}}
	require.NoError(t, f.engine.RefreshCurrent(ctx))

	boards, err := f.boards.ListCurrent(ctx)
	require.NoError(t, err)
	for _, l := range boards {
		entries, err := f.engine.GetLeaderboard(ctx, l.ID, 10, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	}
}

func TestGetLeaderboardReadsThroughCache(t *testing.T) {
	cache := newMemCache()
	f := newLeaderboardFixture(cache)
	ctx := context.Background()

	f.source.weeklyXP = []leaderboard.Score{{StudentID: 1, Value: 10}}
	l, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP,
		leaderboard.ScopeClass, 1, weekPeriod(time.Now().UTC()))
	require.NoError(t, err)

	first, err := f.engine.GetLeaderboard(ctx, l.ID, 10, 0)
	require.NoError(t, err)
	second, err := f.engine.GetLeaderboard(ctx, l.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits, "second read served from cache")
	assert.Equal(t, 1, cache.sets)

	// Recompute invalidates cached pages.
	require.NoError(t, f.engine.Recompute(ctx, l.ID))
	_, err = f.engine.GetLeaderboard(ctx, l.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits, "post-invalidation read misses")
}

func TestStudentPositionsAndArchive(t *testing.T) {
	f := newLeaderboardFixture(nil)
	ctx := context.Background()

	now := time.Now().UTC()
	f.source.weeklyXP = []leaderboard.Score{{StudentID: 1, Value: 10}}
	f.source.badges = []leaderboard.Score{{StudentID: 1, Value: 3}}

	oldPeriod := weekPeriod(now.AddDate(0, 0, -14))
	_, err := f.engine.CreateLeaderboard(ctx, leaderboard.TypeWeeklyXP, leaderboard.ScopeClass, 1, oldPeriod)
	require.NoError(t, err)
	_, err = f.engine.CreateLeaderboard(ctx, leaderboard.TypeBadges, leaderboard.ScopeSchool, 9, weekPeriod(now))
	require.NoError(t, err)

	positions, err := f.engine.GetStudentPositions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, positions, 2)

	archived, err := f.engine.Archive(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived)

	positions, err = f.engine.GetStudentPositions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, positions, 1, "archived boards drop out of current positions")
}
