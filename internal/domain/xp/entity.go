// Package xp contains the domain model of the experience-point ledger:
// per-student accounts, the immutable transaction log, and the level table.
// Accounts are mutated only through ledger operations; every change appends
// exactly one transaction row.
package xp

import (
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Source tags where an XP change came from.
type Source string

const (
	SourceProblemCompletion Source = "problem_completion"
	SourceStreakBonus       Source = "streak_bonus"
	SourceBadgeReward       Source = "badge_reward"
	SourceChallengeReward   Source = "challenge_reward"
	SourceRewardStore       Source = "reward_store"
	SourceAdminAdjustment   Source = "admin_adjustment"
)

// Level is a derived tier computed from cumulative total XP.
type Level int

// levelThresholds is the fixed ascending table of cumulative XP required to
// reach each level. Index i holds the threshold for level i+1. A fixed-size
// array keeps len usable in constant expressions.
var levelThresholds = [25]int{
	0,      // level 1
	100,    // level 2
	250,    // level 3
	500,    // level 4
	1000,   // level 5
	1750,   // level 6
	2750,   // level 7
	4000,   // level 8
	5500,   // level 9
	7500,   // level 10
	10000,  // level 11
	13000,  // level 12
	16500,  // level 13
	20500,  // level 14
	25000,  // level 15
	30000,  // level 16
	36000,  // level 17
	43000,  // level 18
	51000,  // level 19
	60000,  // level 20
	75000,  // level 21
	95000,  // level 22
	120000, // level 23
	150000, // level 24
	200000, // level 25
}

// MaxLevel is the highest reachable level.
const MaxLevel = Level(len(levelThresholds))

// LevelFor returns the highest level whose threshold is ≤ totalXP.
func LevelFor(totalXP int) Level {
	level := Level(1)
	for i, threshold := range levelThresholds {
		if totalXP < threshold {
			break
		}
		level = Level(i + 1)
	}
	return level
}

// ThresholdFor returns the cumulative XP required to reach the given level.
func ThresholdFor(level Level) (int, bool) {
	if level < 1 || int(level) > len(levelThresholds) {
		return 0, false
	}
	return levelThresholds[level-1], true
}

// XPToNextLevel returns how much XP is missing to the next level,
// or 0 when the account already sits at the top of the table.
func XPToNextLevel(totalXP int) int {
	next := LevelFor(totalXP) + 1
	threshold, ok := ThresholdFor(next)
	if !ok {
		return 0
	}
	return threshold - totalXP
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Account is the per-student XP balance. Created lazily on the first XP event.
//
// Invariants: AvailableXP = TotalXP - SpentXP, and Level = LevelFor(TotalXP).
type Account struct {
	ID          int64
	StudentID   int64
	TotalXP     int
	AvailableXP int
	SpentXP     int
	Level       Level
	WeeklyXP    int
	MonthlyXP   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewAccount returns a zeroed account for a student.
func NewAccount(studentID int64) *Account {
	now := time.Now().UTC()
	return &Account{
		StudentID: studentID,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyEarn credits amount to the account and returns the available balance
// before and after. The caller is responsible for holding the account row lock
// and for appending the matching transaction in the same atomic unit.
func (a *Account) ApplyEarn(amount int, now time.Time) (before, after int) {
	before = a.AvailableXP
	a.TotalXP += amount
	a.AvailableXP += amount
	a.WeeklyXP += amount
	a.MonthlyXP += amount
	a.Level = LevelFor(a.TotalXP)
	a.UpdatedAt = now
	return before, a.AvailableXP
}

// ApplySpend debits amount from the available balance. Total XP and level are
// untouched: spending never demotes a student.
func (a *Account) ApplySpend(amount int, now time.Time) (before, after int, err error) {
	if a.AvailableXP < amount {
		return a.AvailableXP, a.AvailableXP, shared.ErrInsufficientBalance
	}
	before = a.AvailableXP
	a.AvailableXP -= amount
	a.SpentXP += amount
	a.UpdatedAt = now
	return before, a.AvailableXP, nil
}

// CheckInvariants verifies the account's balance equation.
func (a *Account) CheckInvariants() error {
	if a.AvailableXP != a.TotalXP-a.SpentXP {
		return shared.NewDomainError("ledger", "CheckInvariants", shared.ErrInvalidEntity,
			"availableXP does not equal totalXP - spentXP")
	}
	if a.AvailableXP < 0 {
		return shared.NewDomainError("ledger", "CheckInvariants", shared.ErrInvalidEntity,
			"availableXP is negative")
	}
	if a.Level != LevelFor(a.TotalXP) {
		return shared.NewDomainError("ledger", "CheckInvariants", shared.ErrInvalidEntity,
			"level does not match the threshold table")
	}
	return nil
}

// Transaction is one immutable row of the XP log. Rows are never updated or
// deleted; the sum of all amounts for a student equals the account's TotalXP.
type Transaction struct {
	ID             int64
	StudentID      int64
	Amount         int // signed: positive for earns, negative for spends
	Source         Source
	Description    string
	BalanceBefore  int
	BalanceAfter   int
	IdempotencyKey string // optional, globally unique when present
	SessionID      string // optional link to the learning session
	CreatedAt      time.Time
}
