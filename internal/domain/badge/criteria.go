package badge

import (
	"encoding/json"
	"fmt"

	"github.com/brightmind-edu/gamification/internal/domain/activity"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/internal/domain/xp"
)

// CriteriaKind enumerates the declarative predicate kinds the engine can
// evaluate. Every kind reads derived aggregates, never client-supplied values.
type CriteriaKind string

const (
	// KindFirstActivity is satisfied by the first recorded activity.
	KindFirstActivity CriteriaKind = "first_activity"

	// KindStreakDays requires a consecutive-day streak of at least Threshold.
	KindStreakDays CriteriaKind = "streak_days"

	// KindCumulativeCount requires at least Threshold solved problems.
	KindCumulativeCount CriteriaKind = "cumulative_count"

	// KindTopicMastery requires mastery of Subject at or above Threshold percent.
	KindTopicMastery CriteriaKind = "topic_mastery"

	// KindLevelReached requires the account level to be at least Threshold.
	KindLevelReached CriteriaKind = "level_reached"

	// KindPerfectScores requires at least Threshold perfect solves
	// (correct, no hints).
	KindPerfectScores CriteriaKind = "perfect_scores"
)

// Criteria is the JSON-encoded predicate stored on a Definition.
type Criteria struct {
	Kind      CriteriaKind `json:"kind"`
	Threshold float64      `json:"threshold,omitempty"`
	Subject   string       `json:"subject,omitempty"`
}

// ParseCriteria decodes and validates a definition's criteria expression.
func ParseCriteria(raw string) (Criteria, error) {
	var c Criteria
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Criteria{}, shared.WrapError("badge", "ParseCriteria", shared.ErrInvalidEntity,
			"malformed criteria expression", err)
	}
	if err := c.Validate(); err != nil {
		return Criteria{}, err
	}
	return c, nil
}

// Validate checks the criteria for internal consistency.
func (c Criteria) Validate() error {
	switch c.Kind {
	case KindFirstActivity:
		return nil
	case KindStreakDays, KindCumulativeCount, KindLevelReached, KindPerfectScores:
		if c.Threshold <= 0 {
			return shared.NewDomainError("badge", "Validate", shared.ErrValueOutOfRange,
				fmt.Sprintf("criteria %q requires a positive threshold", c.Kind))
		}
		return nil
	case KindTopicMastery:
		if c.Subject == "" {
			return shared.NewDomainError("badge", "Validate", shared.ErrInvalidInput,
				"topic_mastery criteria requires a subject")
		}
		if c.Threshold <= 0 || c.Threshold > 100 {
			return shared.NewDomainError("badge", "Validate", shared.ErrValueOutOfRange,
				"topic_mastery threshold must be in (0, 100]")
		}
		return nil
	default:
		return shared.NewDomainError("badge", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown criteria kind %q", c.Kind))
	}
}

// EvaluationContext is the freshly queried student state a predicate runs
// against.
type EvaluationContext struct {
	Stats            activity.Stats
	Level            xp.Level
	MasteryBySubject map[string]float64
}

// Satisfied evaluates the predicate against the context.
func (c Criteria) Satisfied(ec EvaluationContext) bool {
	switch c.Kind {
	case KindFirstActivity:
		return ec.Stats.ProblemsAttempted > 0 || ec.Stats.TotalMinutes > 0
	case KindStreakDays:
		return float64(ec.Stats.CurrentStreakDays) >= c.Threshold
	case KindCumulativeCount:
		return float64(ec.Stats.ProblemsSolved) >= c.Threshold
	case KindTopicMastery:
		return ec.MasteryBySubject[c.Subject] >= c.Threshold
	case KindLevelReached:
		return float64(ec.Level) >= c.Threshold
	case KindPerfectScores:
		return float64(ec.Stats.PerfectSolves) >= c.Threshold
	default:
		return false
	}
}

// Progress returns how far along the student is toward the predicate, in
// percent clamped to [0, 100].
func (c Criteria) Progress(ec EvaluationContext) float64 {
	var current float64
	switch c.Kind {
	case KindFirstActivity:
		if c.Satisfied(ec) {
			return 100
		}
		return 0
	case KindStreakDays:
		current = float64(ec.Stats.CurrentStreakDays)
	case KindCumulativeCount:
		current = float64(ec.Stats.ProblemsSolved)
	case KindTopicMastery:
		current = ec.MasteryBySubject[c.Subject]
	case KindLevelReached:
		current = float64(ec.Level)
	case KindPerfectScores:
		current = float64(ec.Stats.PerfectSolves)
	default:
		return 0
	}
	if c.Threshold <= 0 {
		return 0
	}
	pct := current / c.Threshold * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}
