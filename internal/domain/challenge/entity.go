// Package challenge contains time-boxed goals and per-student participation
// state. A participation moves NotJoined → Joined → Completed and never back;
// its progress value is monotonically non-decreasing.
package challenge

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Metric is the quantity a challenge measures.
type Metric string

const (
	// MetricProblemCount counts solved problems during the challenge window.
	MetricProblemCount Metric = "problem_count"

	// MetricTimeMinutes accumulates learning minutes.
	MetricTimeMinutes Metric = "time_minutes"

	// MetricStreakDays tracks the consecutive-day streak length.
	MetricStreakDays Metric = "streak_days"

	// MetricAccuracyImprovement tracks accuracy percentage points gained over
	// the baseline captured at join time.
	MetricAccuracyImprovement Metric = "accuracy_improvement"
)

// IsRelative reports whether the metric is measured against a join-time
// baseline rather than an absolute quantity.
func (m Metric) IsRelative() bool {
	return m == MetricAccuracyImprovement
}

// ScopeKind limits who may join a challenge.
type ScopeKind string

const (
	ScopeGlobal ScopeKind = "global"
	ScopeClass  ScopeKind = "class"
	ScopeGrade  ScopeKind = "grade"
	ScopeSchool ScopeKind = "school"
)

// Tier weighs the challenge on the completion-count leaderboard.
type Tier string

const (
	TierStandard Tier = "standard"
	TierAdvanced Tier = "advanced"
	TierEpic     Tier = "epic"
)

// Weight returns the leaderboard weight of the tier.
func (t Tier) Weight() int {
	switch t {
	case TierStandard:
		return 1
	case TierAdvanced:
		return 2
	case TierEpic:
		return 3
	default:
		return 1
	}
}

// NotJoinableReason explains a refused Join. It is a typed result, not an
// error: hitting any of these under concurrency is expected control flow.
type NotJoinableReason string

const (
	ReasonNone          NotJoinableReason = ""
	ReasonInactive      NotJoinableReason = "inactive"
	ReasonOutsideWindow NotJoinableReason = "outside_window"
	ReasonAtCapacity    NotJoinableReason = "at_capacity"
	ReasonAlreadyJoined NotJoinableReason = "already_joined"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Challenge is one time-boxed goal with an active window [StartDate, EndDate).
type Challenge struct {
	ID              int64
	Title           string
	Description     string
	Metric          Metric
	TargetValue     float64
	XPReward        int
	BadgeID         int64 // 0 = no badge reward
	Tier            Tier
	ScopeKind       ScopeKind
	ScopeID         int64 // class/school id, or grade level for ScopeGrade; 0 for global
	MaxParticipants int   // 0 = unlimited
	Participants    int   // current participant counter
	StartDate       time.Time
	EndDate         time.Time
	IsActive        bool
	CreatedAt       time.Time
}

// IsOpenAt reports whether the challenge window contains t. The window is
// half-open: EndDate itself is already outside.
func (c Challenge) IsOpenAt(t time.Time) bool {
	return !t.Before(c.StartDate) && t.Before(c.EndDate)
}

// Joinable checks the four join preconditions against this view of the
// challenge row. The store must evaluate it under a row lock so the answer
// stays true through the insert.
func (c Challenge) Joinable(now time.Time, alreadyJoined bool) NotJoinableReason {
	if !c.IsActive {
		return ReasonInactive
	}
	if !c.IsOpenAt(now) {
		return ReasonOutsideWindow
	}
	if c.MaxParticipants > 0 && c.Participants >= c.MaxParticipants {
		return ReasonAtCapacity
	}
	if alreadyJoined {
		return ReasonAlreadyJoined
	}
	return ReasonNone
}

// Validate checks a challenge before it is published.
func (c Challenge) Validate() error {
	if c.Title == "" {
		return fmt.Errorf("challenge: title is required")
	}
	if c.TargetValue <= 0 {
		return fmt.Errorf("challenge: target value must be positive")
	}
	if !c.EndDate.After(c.StartDate) {
		return fmt.Errorf("challenge: end date must be after start date")
	}
	switch c.Metric {
	case MetricProblemCount, MetricTimeMinutes, MetricStreakDays, MetricAccuracyImprovement:
	default:
		return fmt.Errorf("challenge: unknown metric %q", c.Metric)
	}
	return nil
}

// ProgressEntry is one append-only progress history record.
type ProgressEntry struct {
	Value      float64   `json:"value"`
	Note       string    `json:"note,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Participation is the join of (challenge, student).
//
// Invariants: CurrentValue never decreases; IsCompleted implies
// CurrentValue ≥ the challenge target; XPAwarded and BadgeAwarded flip
// false→true exactly once.
type Participation struct {
	ID               int64
	ChallengeID      int64
	StudentID        int64
	CurrentValue     float64
	StartingBaseline float64
	ProgressHistory  []ProgressEntry
	IsCompleted      bool
	CompletedAt      *time.Time
	XPAwarded        bool
	BadgeAwarded     bool
	JoinedAt         time.Time
}

// Advance applies a monotonic progress update in memory and reports whether
// anything changed and whether the target was crossed by this update. The
// store calls it under the participation row lock.
func (p *Participation) Advance(newValue, target float64, note string, now time.Time) (changed, crossed bool) {
	if p.IsCompleted || newValue <= p.CurrentValue {
		return false, false
	}
	p.CurrentValue = newValue
	p.ProgressHistory = append(p.ProgressHistory, ProgressEntry{
		Value:      newValue,
		Note:       note,
		RecordedAt: now,
	})
	if newValue >= target {
		p.IsCompleted = true
		completedAt := now
		p.CompletedAt = &completedAt
		return true, true
	}
	return true, false
}
