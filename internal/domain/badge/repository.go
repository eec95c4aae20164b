package badge

import (
	"context"
	"time"
)

// DefinitionFilter narrows catalog queries. Zero values mean "no filter".
type DefinitionFilter struct {
	Role       Role
	GradeLevel int
	Subject    string
	Category   Category
}

// Repository is the store contract for the badge engine.
type Repository interface {
	// GetDefinition returns one catalog entry.
	GetDefinition(ctx context.Context, badgeID int64) (*Definition, error)

	// ListDefinitions returns the catalog entries matching the filter.
	ListDefinitions(ctx context.Context, f DefinitionFilter) ([]Definition, error)

	// ListStudentBadges returns the student's badge rows. When
	// includeProgress is false, only earned badges are returned.
	ListStudentBadges(ctx context.Context, studentID int64, includeProgress bool) ([]StudentBadge, error)

	// ListEarnedBadgeIDs returns the ids of badges the student already earned.
	ListEarnedBadgeIDs(ctx context.Context, studentID int64) (map[int64]bool, error)

	// MarkEarned flips the (student, badge) row to earned, inserting it if
	// absent. The flip is conditional: it succeeds for exactly one caller no
	// matter how many race, and newly is true only for that caller.
	MarkEarned(ctx context.Context, studentID, badgeID int64, at time.Time) (newly bool, err error)

	// UpsertProgress stores progress (0–100) without touching the earned
	// flag. Returns the stored row.
	UpsertProgress(ctx context.Context, studentID, badgeID int64, progress float64, at time.Time) (*StudentBadge, error)

	// CountEarnedWeighted returns per-student earned badge counts weighted by
	// tier, for the badge-count leaderboard.
	CountEarnedWeighted(ctx context.Context, studentIDs []int64) (map[int64]int, error)
}
