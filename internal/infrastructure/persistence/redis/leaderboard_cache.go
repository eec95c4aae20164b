// Package redis implements the Redis caching layer: a general-purpose client
// wrapper and the leaderboard page cache built on top of it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD PAGE CACHE
// ══════════════════════════════════════════════════════════════════════════════

// TTLLeaderboardPage is how long a cached ranking page stays fresh. Pages are
// also invalidated eagerly after every recomputation, so the TTL is only a
// backstop.
const TTLLeaderboardPage = 5 * time.Minute

// keyLeaderboardPage is the key prefix for cached pages.
const keyLeaderboardPage = "leaderboard:page:"

// LeaderboardCache caches rank-ordered pages keyed by (leaderboard, limit,
// offset). It implements leaderboard.Cache; the engine treats every cache
// error as a miss and falls through to the store.
type LeaderboardCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewLeaderboardCache creates a new LeaderboardCache.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache, ttl: TTLLeaderboardPage}
}

var _ leaderboard.Cache = (*LeaderboardCache)(nil)

func pageKey(leaderboardID int64, limit, offset int) string {
	return fmt.Sprintf("%s%d:%d:%d", keyLeaderboardPage, leaderboardID, limit, offset)
}

// GetPage returns a cached page, or ok=false on a miss.
func (l *LeaderboardCache) GetPage(ctx context.Context, leaderboardID int64, limit, offset int) ([]leaderboard.Entry, bool, error) {
	var entries []leaderboard.Entry
	err := l.cache.Get(ctx, pageKey(leaderboardID, limit, offset), &entries)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entries, true, nil
}

// SetPage stores a page with the cache TTL.
func (l *LeaderboardCache) SetPage(ctx context.Context, leaderboardID int64, limit, offset int, entries []leaderboard.Entry) error {
	return l.cache.Set(ctx, pageKey(leaderboardID, limit, offset), entries, l.ttl)
}

// Invalidate drops all cached pages of a leaderboard.
func (l *LeaderboardCache) Invalidate(ctx context.Context, leaderboardID int64) error {
	pattern := fmt.Sprintf("%s%d:*", keyLeaderboardPage, leaderboardID)
	return l.cache.DeleteByPattern(ctx, pattern)
}
