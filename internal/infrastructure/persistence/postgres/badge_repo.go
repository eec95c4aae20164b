// Package postgres implements the PostgreSQL persistence layer of the
// gamification core.
package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brightmind-edu/gamification/internal/domain/badge"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRepository implements badge.Repository for PostgreSQL.
type BadgeRepository struct {
	conn *Connection
}

// NewBadgeRepository creates a new BadgeRepository.
func NewBadgeRepository(conn *Connection) *BadgeRepository {
	return &BadgeRepository{conn: conn}
}

const definitionColumns = `
	id, code, name, description, category, tier, xp_reward, criteria,
	target_role, grade_level, subject, is_secret, created_at
`

func scanDefinition(row pgx.Row) (*badge.Definition, error) {
	var d badge.Definition
	var category, tier, role string
	err := row.Scan(
		&d.ID, &d.Code, &d.Name, &d.Description, &category, &tier, &d.XPReward,
		&d.CriteriaJSON, &role, &d.GradeLevel, &d.Subject, &d.IsSecret, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Category = badge.Category(category)
	d.Tier = badge.Tier(tier)
	d.TargetRole = badge.Role(role)
	return &d, nil
}

// GetDefinition returns one catalog entry.
func (r *BadgeRepository) GetDefinition(ctx context.Context, badgeID int64) (*badge.Definition, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM badge_definitions WHERE id = $1`, badgeID)
	d, err := scanDefinition(row)
	if err != nil {
		return nil, mapStoreError("badge", "GetDefinition", err)
	}
	return d, nil
}

// ListDefinitions returns the catalog entries matching the filter.
func (r *BadgeRepository) ListDefinitions(ctx context.Context, f badge.DefinitionFilter) ([]badge.Definition, error) {
	var conditions []string
	var args []interface{}

	addArg := func(condition string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, strings.Replace(condition, "?", placeholder(len(args)), 1))
	}

	if f.Role != "" {
		addArg("(target_role = ? OR target_role = 'any')", string(f.Role))
	}
	if f.GradeLevel != 0 {
		addArg("(grade_level = 0 OR grade_level = ?)", f.GradeLevel)
	}
	if f.Subject != "" {
		addArg("(subject = '' OR subject = ?)", f.Subject)
	}
	if f.Category != "" {
		addArg("category = ?", string(f.Category))
	}

	query := `SELECT ` + definitionColumns + ` FROM badge_definitions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, mapStoreError("badge", "ListDefinitions", err)
	}
	defer rows.Close()

	var defs []badge.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, mapStoreError("badge", "ListDefinitions", err)
		}
		defs = append(defs, *d)
	}
	return defs, rows.Err()
}

// ListStudentBadges returns the student's badge rows.
func (r *BadgeRepository) ListStudentBadges(ctx context.Context, studentID int64, includeProgress bool) ([]badge.StudentBadge, error) {
	query := `
		SELECT id, student_id, badge_id, progress, is_earned, earned_at, updated_at
		FROM student_badges
		WHERE student_id = $1
	`
	if !includeProgress {
		query += " AND is_earned"
	}
	query += " ORDER BY badge_id"

	rows, err := r.conn.Query(ctx, query, studentID)
	if err != nil {
		return nil, mapStoreError("badge", "ListStudentBadges", err)
	}
	defer rows.Close()

	var out []badge.StudentBadge
	for rows.Next() {
		var sb badge.StudentBadge
		err := rows.Scan(&sb.ID, &sb.StudentID, &sb.BadgeID, &sb.Progress,
			&sb.IsEarned, &sb.EarnedAt, &sb.UpdatedAt)
		if err != nil {
			return nil, mapStoreError("badge", "ListStudentBadges", err)
		}
		out = append(out, sb)
	}
	return out, rows.Err()
}

// ListEarnedBadgeIDs returns the ids of badges the student already earned.
func (r *BadgeRepository) ListEarnedBadgeIDs(ctx context.Context, studentID int64) (map[int64]bool, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT badge_id FROM student_badges WHERE student_id = $1 AND is_earned`, studentID)
	if err != nil {
		return nil, mapStoreError("badge", "ListEarnedBadgeIDs", err)
	}
	defer rows.Close()

	earned := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapStoreError("badge", "ListEarnedBadgeIDs", err)
		}
		earned[id] = true
	}
	return earned, rows.Err()
}

// MarkEarned flips the (student, badge) row to earned. The upsert's DO UPDATE
// is guarded by WHERE NOT is_earned, so no matter how many callers race the
// RETURNING clause yields a row for exactly one of them.
func (r *BadgeRepository) MarkEarned(ctx context.Context, studentID, badgeID int64, at time.Time) (bool, error) {
	query := `
		INSERT INTO student_badges (student_id, badge_id, progress, is_earned, earned_at, updated_at)
		VALUES ($1, $2, 100, TRUE, $3, $3)
		ON CONFLICT (student_id, badge_id) DO UPDATE
		SET is_earned = TRUE, progress = 100, earned_at = $3, updated_at = $3
		WHERE NOT student_badges.is_earned
		RETURNING id
	`
	var id int64
	err := r.conn.QueryRow(ctx, query, studentID, badgeID, at).Scan(&id)
	if err != nil {
		if IsNoRows(err) {
			// The guarded update matched nothing: already earned.
			return false, nil
		}
		return false, mapStoreError("badge", "MarkEarned", err)
	}
	return true, nil
}

// UpsertProgress stores progress without touching the earned flag.
func (r *BadgeRepository) UpsertProgress(ctx context.Context, studentID, badgeID int64, progress float64, at time.Time) (*badge.StudentBadge, error) {
	query := `
		INSERT INTO student_badges (student_id, badge_id, progress, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id, badge_id) DO UPDATE
		SET progress = $3, updated_at = $4
		WHERE NOT student_badges.is_earned
		RETURNING id, student_id, badge_id, progress, is_earned, earned_at, updated_at
	`
	var sb badge.StudentBadge
	err := r.conn.QueryRow(ctx, query, studentID, badgeID, progress, at).Scan(
		&sb.ID, &sb.StudentID, &sb.BadgeID, &sb.Progress, &sb.IsEarned, &sb.EarnedAt, &sb.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			// Earned rows ignore progress writes; return the stored row.
			row := r.conn.QueryRow(ctx, `
				SELECT id, student_id, badge_id, progress, is_earned, earned_at, updated_at
				FROM student_badges WHERE student_id = $1 AND badge_id = $2
			`, studentID, badgeID)
			err = row.Scan(&sb.ID, &sb.StudentID, &sb.BadgeID, &sb.Progress,
				&sb.IsEarned, &sb.EarnedAt, &sb.UpdatedAt)
			if err != nil {
				return nil, mapStoreError("badge", "UpsertProgress", err)
			}
			return &sb, nil
		}
		return nil, mapStoreError("badge", "UpsertProgress", err)
	}
	return &sb, nil
}

// CountEarnedWeighted returns per-student earned badge counts weighted by tier.
func (r *BadgeRepository) CountEarnedWeighted(ctx context.Context, studentIDs []int64) (map[int64]int, error) {
	query := `
		SELECT sb.student_id,
		       SUM(CASE bd.tier
		           WHEN 'bronze' THEN 1
		           WHEN 'silver' THEN 2
		           WHEN 'gold' THEN 3
		           WHEN 'platinum' THEN 5
		           ELSE 1 END)
		FROM student_badges sb
		JOIN badge_definitions bd ON bd.id = sb.badge_id
		WHERE sb.is_earned AND sb.student_id = ANY($1)
		GROUP BY sb.student_id
	`
	rows, err := r.conn.Query(ctx, query, studentIDs)
	if err != nil {
		return nil, mapStoreError("badge", "CountEarnedWeighted", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var studentID int64
		var weighted int
		if err := rows.Scan(&studentID, &weighted); err != nil {
			return nil, mapStoreError("badge", "CountEarnedWeighted", err)
		}
		counts[studentID] = weighted
	}
	return counts, rows.Err()
}

// placeholder returns the positional parameter token for index n.
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
