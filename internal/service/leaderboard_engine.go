package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/leaderboard"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
)

const (
	defaultPageLimit = 25
	maxPageLimit     = 100
)

// LeaderboardEngine maintains scoped, dated rankings. Recomputation rebuilds
// a board's entry set wholesale from the aggregation strategies and diffs the
// result against the previous snapshot for trend arrows.
type LeaderboardEngine struct {
	boards    leaderboard.Repository
	source    leaderboard.StatsSource
	cache     leaderboard.Cache
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewLeaderboardEngine creates a LeaderboardEngine. The cache is optional;
// pass nil to read entries from the store on every request.
func NewLeaderboardEngine(
	boards leaderboard.Repository,
	source leaderboard.StatsSource,
	cache leaderboard.Cache,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *LeaderboardEngine {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardEngine{
		boards:    boards,
		source:    source,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With("component", "leaderboard_engine"),
	}
}

// CreateLeaderboard opens a new board as the current one for its scope key,
// demoting any predecessor, then computes its first entry set.
func (e *LeaderboardEngine) CreateLeaderboard(ctx context.Context, t leaderboard.Type, scope leaderboard.Scope, scopeID int64, period leaderboard.Period) (*leaderboard.Leaderboard, error) {
	if _, err := leaderboard.StrategyFor(t); err != nil {
		return nil, shared.WrapError("leaderboard", "CreateLeaderboard", shared.ErrInvalidInput,
			"unknown leaderboard type", err)
	}

	l := &leaderboard.Leaderboard{
		Type:      t,
		Scope:     scope,
		ScopeID:   scopeID,
		Period:    period,
		IsCurrent: true,
	}
	if err := e.boards.InsertAsCurrent(ctx, l); err != nil {
		return nil, err
	}
	e.logger.Info("leaderboard created",
		"leaderboard_id", l.ID,
		"type", string(t),
		"scope", string(scope),
		"scope_id", scopeID,
		"period_start", period.Start,
		"period_end", period.End,
	)

	if err := e.Recompute(ctx, l.ID); err != nil {
		return nil, err
	}

	event := shared.NewLeaderboardRotatedEvent(l.ID, string(t), string(scope), scopeID)
	if err := e.publisher.Publish(event); err != nil {
		e.logger.Warn("failed to publish rotation event", "leaderboard_id", l.ID, "error", err)
	}
	return l, nil
}

// Recompute rebuilds the board's entries from the aggregation strategy for
// its type. The previous snapshot used for trend diffs is the board's own
// existing entry set, falling back to the most recent earlier board with the
// same scope key when the board is fresh.
func (e *LeaderboardEngine) Recompute(ctx context.Context, leaderboardID int64) error {
	l, err := e.boards.Get(ctx, leaderboardID)
	if err != nil {
		return err
	}

	strategy, err := leaderboard.StrategyFor(l.Type)
	if err != nil {
		return shared.WrapError("leaderboard", "Recompute", shared.ErrInvalidInput,
			"unknown leaderboard type", err)
	}

	scores, err := strategy.Compute(ctx, e.source, leaderboard.ScopeFilter{
		Scope:   l.Scope,
		ScopeID: l.ScopeID,
	}, l.Period)
	if err != nil {
		return err
	}

	previous, err := e.boards.AllEntries(ctx, leaderboardID)
	if err != nil && !shared.IsNotFound(err) {
		return err
	}
	if len(previous) == 0 {
		previous, err = e.boards.PreviousEntries(ctx, *l)
		if err != nil && !shared.IsNotFound(err) {
			return err
		}
	}

	entries := leaderboard.BuildRanking(leaderboardID, scores, previous)
	if err := e.boards.ReplaceEntries(ctx, leaderboardID, entries); err != nil {
		return err
	}

	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, leaderboardID); err != nil {
			e.logger.Warn("cache invalidation failed", "leaderboard_id", leaderboardID, "error", err)
		}
	}

	e.logger.Info("leaderboard recomputed",
		"leaderboard_id", leaderboardID,
		"type", string(l.Type),
		"entries", len(entries),
	)
	return nil
}

// RefreshCurrent recomputes every current board. Individual board failures
// are logged and do not stop the sweep; the first error is reported after
// all boards were attempted.
func (e *LeaderboardEngine) RefreshCurrent(ctx context.Context) error {
	boards, err := e.boards.ListCurrent(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, l := range boards {
		if err := e.Recompute(ctx, l.ID); err != nil {
			e.logger.Error("recompute failed",
				"leaderboard_id", l.ID,
				"type", string(l.Type),
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// GetLeaderboard returns a rank-ordered page of a board's entries, reading
// through the cache when one is configured. Cache errors fall through to the
// store.
func (e *LeaderboardEngine) GetLeaderboard(ctx context.Context, leaderboardID int64, limit, offset int) ([]leaderboard.Entry, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	if e.cache != nil {
		entries, ok, err := e.cache.GetPage(ctx, leaderboardID, limit, offset)
		if err != nil {
			e.logger.Warn("cache read failed", "leaderboard_id", leaderboardID, "error", err)
		} else if ok {
			return entries, nil
		}
	}

	entries, err := e.boards.ListEntries(ctx, leaderboardID, limit, offset)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetPage(ctx, leaderboardID, limit, offset, entries); err != nil {
			e.logger.Warn("cache write failed", "leaderboard_id", leaderboardID, "error", err)
		}
	}
	return entries, nil
}

// GetCurrent returns the current board for a scope key.
func (e *LeaderboardEngine) GetCurrent(ctx context.Context, t leaderboard.Type, scope leaderboard.Scope, scopeID int64) (*leaderboard.Leaderboard, error) {
	return e.boards.GetCurrent(ctx, t, scope, scopeID)
}

// GetStudentPositions returns the student's entries on all current boards.
func (e *LeaderboardEngine) GetStudentPositions(ctx context.Context, studentID int64) ([]leaderboard.Position, error) {
	return e.boards.ListStudentPositions(ctx, studentID)
}

// Archive demotes boards whose period ended before the cutoff. Entry rows
// are kept for history.
func (e *LeaderboardEngine) Archive(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := e.boards.Archive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("leaderboards archived", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
