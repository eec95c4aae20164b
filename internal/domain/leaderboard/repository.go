package leaderboard

import (
	"context"
	"time"
)

// Cache is an optional read-path cache for leaderboard pages. Implementations
// must treat misses and errors identically: the caller falls through to the
// store.
type Cache interface {
	// GetPage returns a cached page, or ok=false on a miss.
	GetPage(ctx context.Context, leaderboardID int64, limit, offset int) (entries []Entry, ok bool, err error)

	// SetPage stores a page with the cache's TTL.
	SetPage(ctx context.Context, leaderboardID int64, limit, offset int, entries []Entry) error

	// Invalidate drops all cached pages of a leaderboard.
	Invalidate(ctx context.Context, leaderboardID int64) error
}

// Repository is the store contract for the leaderboard engine.
type Repository interface {
	// Get returns one leaderboard.
	Get(ctx context.Context, leaderboardID int64) (*Leaderboard, error)

	// GetCurrent returns the current leaderboard for a scope key.
	GetCurrent(ctx context.Context, t Type, scope Scope, scopeID int64) (*Leaderboard, error)

	// ListCurrent returns every current leaderboard.
	ListCurrent(ctx context.Context) ([]Leaderboard, error)

	// InsertAsCurrent demotes any existing current leaderboard for the same
	// (type, scope, scope id) and inserts the new one as current, in one
	// atomic unit.
	InsertAsCurrent(ctx context.Context, l *Leaderboard) error

	// ReplaceEntries replaces the leaderboard's entry set wholesale. The
	// delete and reinsert commit as one atomic operation.
	ReplaceEntries(ctx context.Context, leaderboardID int64, entries []Entry) error

	// ListEntries returns a rank-ordered page of entries.
	ListEntries(ctx context.Context, leaderboardID int64, limit, offset int) ([]Entry, error)

	// AllEntries returns the board's complete rank-ordered entry set. Used
	// for trend diffs, which must see every previous entry regardless of
	// board size.
	AllEntries(ctx context.Context, leaderboardID int64) ([]Entry, error)

	// PreviousEntries returns the entry set of the most recent leaderboard
	// with the same scope key whose period started before the given one.
	// Used to seed trend diffs when a fresh board has no entries yet.
	PreviousEntries(ctx context.Context, l Leaderboard) ([]Entry, error)

	// ListStudentPositions returns the student's entries on all current
	// leaderboards.
	ListStudentPositions(ctx context.Context, studentID int64) ([]Position, error)

	// Archive marks leaderboards whose period ended before the cutoff as not
	// current. Historical rows are kept, never deleted. Returns the number of
	// boards archived.
	Archive(ctx context.Context, cutoff time.Time) (int64, error)
}
