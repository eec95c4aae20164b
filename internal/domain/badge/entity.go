// Package badge contains the badge catalog and per-student award state.
// Definitions are administered externally and read-only to the core; a
// StudentBadge row exists at most once per (student, badge) and once earned
// never reverts.
package badge

import (
	"time"
)

// Category groups badges in the catalog.
type Category string

const (
	CategoryMilestone   Category = "milestone"
	CategoryConsistency Category = "consistency"
	CategoryMastery     Category = "mastery"
	CategoryExcellence  Category = "excellence"
)

// Tier orders badges within a category. Higher tiers weigh more on the
// badge-count leaderboard.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Weight returns the leaderboard weight of the tier.
func (t Tier) Weight() int {
	switch t {
	case TierBronze:
		return 1
	case TierSilver:
		return 2
	case TierGold:
		return 3
	case TierPlatinum:
		return 5
	default:
		return 1
	}
}

// Role scopes a badge to the audience it can be awarded to.
type Role string

const (
	RoleStudent Role = "student"
	RoleAny     Role = "any"
)

// Definition is one static catalog entry. CriteriaJSON holds the declarative
// predicate evaluated by the engine (see Criteria).
type Definition struct {
	ID           int64
	Code         string // stable human-readable identifier, e.g. "streak_7"
	Name         string
	Description  string
	Category     Category
	Tier         Tier
	XPReward     int
	CriteriaJSON string
	TargetRole   Role
	GradeLevel   int    // 0 = all grades
	Subject      string // "" = all subjects
	IsSecret     bool   // hidden from students until earned
	CreatedAt    time.Time
}

// AppliesTo reports whether the definition is in scope for a student with the
// given role and grade.
func (d Definition) AppliesTo(role Role, gradeLevel int) bool {
	if d.TargetRole != RoleAny && d.TargetRole != role {
		return false
	}
	if d.GradeLevel != 0 && gradeLevel != 0 && d.GradeLevel != gradeLevel {
		return false
	}
	return true
}

// StudentBadge is the join of (student, badge): progress toward the badge and
// the one-way earned flag.
type StudentBadge struct {
	ID        int64
	StudentID int64
	BadgeID   int64
	Progress  float64 // 0–100
	IsEarned  bool
	EarnedAt  *time.Time
	UpdatedAt time.Time
}
