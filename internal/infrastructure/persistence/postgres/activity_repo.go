// Package postgres implements the PostgreSQL persistence layer of the
// gamification core.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brightmind-edu/gamification/internal/domain/activity"
	"github.com/brightmind-edu/gamification/internal/domain/leaderboard"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ActivityRepository implements activity.Repository and, through SQL
// aggregation over the same tables, leaderboard.StatsSource.
type ActivityRepository struct {
	conn *Connection
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(conn *Connection) *ActivityRepository {
	return &ActivityRepository{conn: conn}
}

var _ activity.Repository = (*ActivityRepository)(nil)
var _ leaderboard.StatsSource = (*ActivityRepository)(nil)

// RecordAttempt inserts the attempt and folds it into the student's stats in
// one transaction. The attempt id is unique; a replay inserts nothing and the
// stats fold is skipped.
func (r *ActivityRepository) RecordAttempt(ctx context.Context, attempt activity.ProblemAttempt) (bool, error) {
	recorded := false

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		insert := `
			INSERT INTO problem_attempts (
				student_id, attempt_id, subject, difficulty, hints_used, is_correct, occurred_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (attempt_id) DO NOTHING
		`
		tag, err := tx.Exec(ctx, insert,
			attempt.StudentID, attempt.AttemptID, attempt.Subject,
			string(attempt.Difficulty), attempt.HintsUsed, attempt.IsCorrect, attempt.OccurredAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		recorded = true

		solved := 0
		if attempt.IsCorrect {
			solved = 1
		}
		perfect := 0
		if attempt.IsPerfect() {
			perfect = 1
		}
		fold := `
			INSERT INTO student_stats (
				student_id, problems_attempted, problems_solved, perfect_solves, last_activity_at
			) VALUES ($1, 1, $2, $3, $4)
			ON CONFLICT (student_id) DO UPDATE
			SET problems_attempted = student_stats.problems_attempted + 1,
			    problems_solved = student_stats.problems_solved + $2,
			    perfect_solves = student_stats.perfect_solves + $3,
			    last_activity_at = GREATEST(COALESCE(student_stats.last_activity_at, $4), $4)
		`
		_, err = tx.Exec(ctx, fold, attempt.StudentID, solved, perfect, attempt.OccurredAt)
		return err
	})
	if err != nil {
		return false, mapStoreError("activity", "RecordAttempt", err)
	}
	return recorded, nil
}

// AddMinutes accumulates learning minutes on the calendar day and the
// lifetime total together.
func (r *ActivityRepository) AddMinutes(ctx context.Context, studentID int64, date time.Time, minutes int) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		daily := `
			INSERT INTO daily_activity (student_id, activity_date, minutes_spent)
			VALUES ($1, $2::date, $3)
			ON CONFLICT (student_id, activity_date) DO UPDATE
			SET minutes_spent = daily_activity.minutes_spent + $3
		`
		if _, err := tx.Exec(ctx, daily, studentID, date, minutes); err != nil {
			return err
		}

		fold := `
			INSERT INTO student_stats (student_id, total_minutes, last_activity_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (student_id) DO UPDATE
			SET total_minutes = student_stats.total_minutes + $2,
			    last_activity_at = GREATEST(COALESCE(student_stats.last_activity_at, $3), $3)
		`
		_, err := tx.Exec(ctx, fold, studentID, minutes, date)
		return err
	})
	if err != nil {
		return mapStoreError("activity", "AddMinutes", err)
	}
	return nil
}

// SetStreak stores the externally computed streak. The longest streak only
// grows.
func (r *ActivityRepository) SetStreak(ctx context.Context, studentID int64, currentStreakDays int, at time.Time) error {
	query := `
		INSERT INTO student_stats (student_id, current_streak_days, longest_streak_days, last_activity_at)
		VALUES ($1, $2, $2, $3)
		ON CONFLICT (student_id) DO UPDATE
		SET current_streak_days = $2,
		    longest_streak_days = GREATEST(student_stats.longest_streak_days, $2),
		    last_activity_at = GREATEST(COALESCE(student_stats.last_activity_at, $3), $3)
	`
	if _, err := r.conn.Exec(ctx, query, studentID, currentStreakDays, at); err != nil {
		return mapStoreError("activity", "SetStreak", err)
	}
	return nil
}

// GetStats returns the student's activity summary, zero-valued when no row
// exists yet.
func (r *ActivityRepository) GetStats(ctx context.Context, studentID int64) (activity.Stats, error) {
	stats := activity.Stats{StudentID: studentID}
	var lastActivity *time.Time

	row := r.conn.QueryRow(ctx, `
		SELECT current_streak_days, longest_streak_days, problems_solved,
		       problems_attempted, perfect_solves, total_minutes, last_activity_at
		FROM student_stats
		WHERE student_id = $1
	`, studentID)
	err := row.Scan(
		&stats.CurrentStreakDays, &stats.LongestStreakDays, &stats.ProblemsSolved,
		&stats.ProblemsAttempted, &stats.PerfectSolves, &stats.TotalMinutes, &lastActivity,
	)
	if err != nil {
		if IsNoRows(err) {
			return stats, nil
		}
		return activity.Stats{}, mapStoreError("activity", "GetStats", err)
	}
	if lastActivity != nil {
		stats.LastActivityAt = *lastActivity
	}
	return stats, nil
}

// GetSubjectMastery derives the mastery percentage from the student's attempt
// history in one subject.
func (r *ActivityRepository) GetSubjectMastery(ctx context.Context, studentID int64, subject string) (activity.SubjectMastery, error) {
	var attempts, correct int
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_correct)
		FROM problem_attempts
		WHERE student_id = $1 AND subject = $2
	`, studentID, subject).Scan(&attempts, &correct)
	if err != nil {
		return activity.SubjectMastery{}, mapStoreError("activity", "GetSubjectMastery", err)
	}
	if attempts == 0 {
		return activity.SubjectMastery{}, shared.NewDomainError("activity", "GetSubjectMastery",
			shared.ErrNotFound, fmt.Sprintf("no attempts in subject %q", subject))
	}
	return activity.SubjectMastery{
		StudentID:  studentID,
		Subject:    subject,
		MasteryPct: float64(correct) / float64(attempts) * 100,
		Attempts:   attempts,
	}, nil
}

// AccuracyInWindow returns the accuracy percentage over attempts in [from, to).
func (r *ActivityRepository) AccuracyInWindow(ctx context.Context, studentID int64, from, to time.Time) (float64, int, error) {
	var attempts, correct int
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_correct)
		FROM problem_attempts
		WHERE student_id = $1 AND occurred_at >= $2 AND occurred_at < $3
	`, studentID, from, to).Scan(&attempts, &correct)
	if err != nil {
		return 0, 0, mapStoreError("activity", "AccuracyInWindow", err)
	}
	if attempts == 0 {
		return 0, 0, nil
	}
	return float64(correct) / float64(attempts) * 100, attempts, nil
}

// UpsertScope places a student in the class/grade/school hierarchy.
func (r *ActivityRepository) UpsertScope(ctx context.Context, ref activity.ScopeRef) error {
	query := `
		INSERT INTO student_scopes (student_id, class_id, grade_level, school_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id) DO UPDATE
		SET class_id = $2, grade_level = $3, school_id = $4
	`
	if _, err := r.conn.Exec(ctx, query, ref.StudentID, ref.ClassID, ref.GradeLevel, ref.SchoolID); err != nil {
		return mapStoreError("activity", "UpsertScope", err)
	}
	return nil
}

// GetScope returns the student's scope placement.
func (r *ActivityRepository) GetScope(ctx context.Context, studentID int64) (activity.ScopeRef, error) {
	var ref activity.ScopeRef
	err := r.conn.QueryRow(ctx, `
		SELECT student_id, class_id, grade_level, school_id
		FROM student_scopes WHERE student_id = $1
	`, studentID).Scan(&ref.StudentID, &ref.ClassID, &ref.GradeLevel, &ref.SchoolID)
	if err != nil {
		return activity.ScopeRef{}, mapStoreError("activity", "GetScope", err)
	}
	return ref, nil
}

// ListClassIDs returns the distinct class ids with at least one student.
func (r *ActivityRepository) ListClassIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT DISTINCT class_id FROM student_scopes WHERE class_id <> 0 ORDER BY class_id`)
	if err != nil {
		return nil, mapStoreError("activity", "ListClassIDs", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapStoreError("activity", "ListClassIDs", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS SOURCE AGGREGATIONS
// ══════════════════════════════════════════════════════════════════════════════

// scopeColumn maps a ranking scope to its student_scopes column.
func scopeColumn(scope leaderboard.Scope) (string, error) {
	switch scope {
	case leaderboard.ScopeClass:
		return "class_id", nil
	case leaderboard.ScopeGrade:
		return "grade_level", nil
	case leaderboard.ScopeSchool:
		return "school_id", nil
	default:
		return "", shared.NewDomainError("leaderboard", "scope", shared.ErrInvalidInput,
			fmt.Sprintf("unknown scope %q", scope))
	}
}

// WeeklyXPTotals ranks by the weekly XP counter with total XP as tie-break.
// Zero-score students stay in the set so a former leader with no activity
// this week still gets an entry with a downward trend.
func (r *ActivityRepository) WeeklyXPTotals(ctx context.Context, scope leaderboard.ScopeFilter) ([]leaderboard.Score, error) {
	col, err := scopeColumn(scope.Scope)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT a.student_id, a.weekly_xp::double precision, a.total_xp::double precision
		FROM xp_accounts a
		JOIN student_scopes s ON s.student_id = a.student_id
		WHERE s.%s = $1
	`, col)
	return r.queryScores(ctx, "WeeklyXPTotals", query, scope.ScopeID)
}

// AccuracyRates ranks by accuracy over the period, attempt count as tie-break.
// Students below the attempts floor do not qualify.
func (r *ActivityRepository) AccuracyRates(ctx context.Context, scope leaderboard.ScopeFilter, period leaderboard.Period, minAttempts int) ([]leaderboard.Score, error) {
	col, err := scopeColumn(scope.Scope)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT p.student_id,
		       COUNT(*) FILTER (WHERE p.is_correct)::double precision / COUNT(*) * 100,
		       COUNT(*)::double precision
		FROM problem_attempts p
		JOIN student_scopes s ON s.student_id = p.student_id
		WHERE s.%s = $1 AND p.occurred_at >= $2 AND p.occurred_at < $3
		GROUP BY p.student_id
		HAVING COUNT(*) >= $4
	`, col)
	return r.queryScores(ctx, "AccuracyRates", query, scope.ScopeID, period.Start, period.End, minAttempts)
}

// ChallengeCompletions ranks by tier-weighted completions in the period.
// Earlier finishers win ties, so the tie-break is the negated epoch of the
// last completion.
func (r *ActivityRepository) ChallengeCompletions(ctx context.Context, scope leaderboard.ScopeFilter, period leaderboard.Period) ([]leaderboard.Score, error) {
	col, err := scopeColumn(scope.Scope)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT p.student_id,
		       SUM(CASE c.tier
		           WHEN 'standard' THEN 1
		           WHEN 'advanced' THEN 2
		           WHEN 'epic' THEN 3
		           ELSE 1 END)::double precision,
		       -EXTRACT(EPOCH FROM MAX(p.completed_at))
		FROM challenge_participations p
		JOIN challenges c ON c.id = p.challenge_id
		JOIN student_scopes s ON s.student_id = p.student_id
		WHERE s.%s = $1 AND p.is_completed
		  AND p.completed_at >= $2 AND p.completed_at < $3
		GROUP BY p.student_id
	`, col)
	return r.queryScores(ctx, "ChallengeCompletions", query, scope.ScopeID, period.Start, period.End)
}

// StreakLengths ranks by the current streak, longest streak as tie-break.
// Broken streaks rank at zero rather than dropping off the board.
func (r *ActivityRepository) StreakLengths(ctx context.Context, scope leaderboard.ScopeFilter) ([]leaderboard.Score, error) {
	col, err := scopeColumn(scope.Scope)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT st.student_id, st.current_streak_days::double precision,
		       st.longest_streak_days::double precision
		FROM student_stats st
		JOIN student_scopes s ON s.student_id = st.student_id
		WHERE s.%s = $1
	`, col)
	return r.queryScores(ctx, "StreakLengths", query, scope.ScopeID)
}

// BadgeCounts ranks by tier-weighted earned badges, plain count as tie-break.
func (r *ActivityRepository) BadgeCounts(ctx context.Context, scope leaderboard.ScopeFilter) ([]leaderboard.Score, error) {
	col, err := scopeColumn(scope.Scope)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT sb.student_id,
		       SUM(CASE bd.tier
		           WHEN 'bronze' THEN 1
		           WHEN 'silver' THEN 2
		           WHEN 'gold' THEN 3
		           WHEN 'platinum' THEN 5
		           ELSE 1 END)::double precision,
		       COUNT(*)::double precision
		FROM student_badges sb
		JOIN badge_definitions bd ON bd.id = sb.badge_id
		JOIN student_scopes s ON s.student_id = sb.student_id
		WHERE s.%s = $1 AND sb.is_earned
		GROUP BY sb.student_id
	`, col)
	return r.queryScores(ctx, "BadgeCounts", query, scope.ScopeID)
}

func (r *ActivityRepository) queryScores(ctx context.Context, op, query string, args ...interface{}) ([]leaderboard.Score, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, mapStoreError("leaderboard", op, err)
	}
	defer rows.Close()

	var scores []leaderboard.Score
	for rows.Next() {
		var s leaderboard.Score
		if err := rows.Scan(&s.StudentID, &s.Value, &s.TieBreak); err != nil {
			return nil, mapStoreError("leaderboard", op, err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}
