// Package leaderboard contains scoped, dated rankings with trend tracking.
// A leaderboard's entry set is rebuilt wholesale on every recomputation;
// exactly one leaderboard per (type, scope, scope id) is current at a time.
package leaderboard

import (
	"fmt"
	"sort"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Type is the metric a leaderboard ranks by.
type Type string

const (
	TypeWeeklyXP             Type = "weekly_xp"
	TypeMonthlyAccuracy      Type = "monthly_accuracy"
	TypeChallengeCompletions Type = "challenge_completions"
	TypeStreak               Type = "streak"
	TypeBadges               Type = "badges"
)

// Scope is the population a leaderboard applies to.
type Scope string

const (
	ScopeClass  Scope = "class"
	ScopeGrade  Scope = "grade"
	ScopeSchool Scope = "school"
)

// Trend is the direction a student's rank moved relative to the previous
// snapshot.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendSame Trend = "same"
	TrendNew  Trend = "new"
)

// TrendBetween derives the trend from a previous rank (0 = no prior entry).
func TrendBetween(previousRank, rank int) Trend {
	switch {
	case previousRank == 0:
		return TrendNew
	case previousRank > rank:
		return TrendUp
	case previousRank < rank:
		return TrendDown
	default:
		return TrendSame
	}
}

// Period is the half-open time window [Start, End) a leaderboard covers.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// EndedBefore reports whether the period finished before the cutoff.
func (p Period) EndedBefore(cutoff time.Time) bool {
	return p.End.Before(cutoff)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Leaderboard is one scoped, dated ranking definition.
type Leaderboard struct {
	ID        int64
	Type      Type
	Scope     Scope
	ScopeID   int64
	Period    Period
	IsCurrent bool
	CreatedAt time.Time
}

// Key identifies the scope slot a leaderboard occupies; at most one current
// leaderboard exists per key.
func (l Leaderboard) Key() string {
	return fmt.Sprintf("%s/%s/%d", l.Type, l.Scope, l.ScopeID)
}

// Entry is one ranked row. Entries are replaced wholesale on recomputation.
type Entry struct {
	ID            int64
	LeaderboardID int64
	StudentID     int64
	Rank          int
	Score         float64
	PreviousRank  int // 0 = not present in the previous snapshot
	Trend         Trend
}

// Position pairs an entry with its leaderboard for per-student queries.
type Position struct {
	Leaderboard Leaderboard
	Entry       Entry
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Score is one student's raw aggregation result before ranking. TieBreak is
// the secondary stable metric (more attempts, earlier completion); higher
// wins. StudentID is the final tie-break so ranking is deterministic.
type Score struct {
	StudentID int64
	Value     float64
	TieBreak  float64
}

// BuildRanking orders scores by (value desc, tie-break desc, student id asc),
// assigns dense ranks starting at 1, and diffs against the previous entries
// to fill PreviousRank and Trend. An empty score list yields an empty ranking.
func BuildRanking(leaderboardID int64, scores []Score, previous []Entry) []Entry {
	sorted := make([]Score, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value > sorted[j].Value
		}
		if sorted[i].TieBreak != sorted[j].TieBreak {
			return sorted[i].TieBreak > sorted[j].TieBreak
		}
		return sorted[i].StudentID < sorted[j].StudentID
	})

	prevRanks := make(map[int64]int, len(previous))
	for _, e := range previous {
		prevRanks[e.StudentID] = e.Rank
	}

	entries := make([]Entry, 0, len(sorted))
	for i, s := range sorted {
		rank := i + 1
		previousRank := prevRanks[s.StudentID]
		entries = append(entries, Entry{
			LeaderboardID: leaderboardID,
			StudentID:     s.StudentID,
			Rank:          rank,
			Score:         s.Value,
			PreviousRank:  previousRank,
			Trend:         TrendBetween(previousRank, rank),
		})
	}
	return entries
}
