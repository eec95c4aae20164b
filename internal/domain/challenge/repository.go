package challenge

import (
	"context"
	"time"
)

// Filter narrows challenge listings. Zero values mean "no filter"; the
// implementation combines the set predicates into one parameterized query.
type Filter struct {
	Metric     Metric
	ScopeKind  ScopeKind
	ScopeID    int64
	ActiveOnly bool
	OpenAt     *time.Time // only challenges whose window contains this instant
	Limit      int
	Offset     int
}

// JoinResult is the outcome of a join attempt.
type JoinResult struct {
	Joined        bool
	Reason        NotJoinableReason
	Participation *Participation // set when Joined
}

// AdvanceMode selects how a progress update combines with the stored value.
type AdvanceMode string

const (
	// AdvanceIncrement adds the delta to the stored value (counters, time).
	AdvanceIncrement AdvanceMode = "increment"

	// AdvanceAbsolute replaces the stored value when larger (streaks,
	// baseline-relative improvements). Smaller values are ignored.
	AdvanceAbsolute AdvanceMode = "absolute"
)

// AdvanceRequest is one progress update against a participation.
type AdvanceRequest struct {
	ChallengeID int64
	StudentID   int64
	Mode        AdvanceMode
	Value       float64
	Note        string
}

// AdvanceResult reports what a progress update did.
type AdvanceResult struct {
	Changed       bool
	Crossed       bool // target reached by this update
	Participation *Participation
}

// RewardKind selects which one-way reward flag a claim targets.
type RewardKind string

const (
	RewardXP    RewardKind = "xp"
	RewardBadge RewardKind = "badge"
)

// ParticipationView joins a participation with its challenge for fan-out.
type ParticipationView struct {
	Participation Participation
	Challenge     Challenge
}

// Repository is the store contract for the challenge engine. Join, Advance
// and ClaimReward are single atomic units with row-level locking on the
// contended rows.
type Repository interface {
	// Create publishes a challenge.
	Create(ctx context.Context, c *Challenge) error

	// Get returns one challenge.
	Get(ctx context.Context, challengeID int64) (*Challenge, error)

	// List returns challenges matching the filter.
	List(ctx context.Context, f Filter) ([]Challenge, error)

	// TryJoin evaluates all four join preconditions and the participation
	// insert plus participant-counter increment against a single locked view
	// of the challenge row. A refused join is a result, not an error.
	TryJoin(ctx context.Context, challengeID, studentID int64, baseline float64, now time.Time) (JoinResult, error)

	// GetParticipation returns one participation row.
	GetParticipation(ctx context.Context, challengeID, studentID int64) (*Participation, error)

	// ListActiveParticipations returns the student's joined, incomplete
	// participations whose challenge window contains now.
	ListActiveParticipations(ctx context.Context, studentID int64, now time.Time) ([]ParticipationView, error)

	// ListStudentParticipations returns all of the student's participations.
	ListStudentParticipations(ctx context.Context, studentID int64) ([]ParticipationView, error)

	// Advance applies a monotonic progress update under the participation row
	// lock. Completed participations and non-increasing values are no-ops.
	Advance(ctx context.Context, req AdvanceRequest, now time.Time) (AdvanceResult, error)

	// ClaimReward conditionally flips one reward flag from false to true.
	// Exactly one caller wins regardless of interleaving; everyone else gets
	// won=false.
	ClaimReward(ctx context.Context, challengeID, studentID int64, kind RewardKind) (won bool, err error)

	// CompletionsWeighted returns per-student completed-challenge counts
	// weighted by tier inside [from, to), for the completion leaderboard.
	CompletionsWeighted(ctx context.Context, from, to time.Time) (map[int64]int, error)
}
