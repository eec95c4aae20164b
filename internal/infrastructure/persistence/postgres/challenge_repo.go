// Package postgres implements the PostgreSQL persistence layer of the
// gamification core.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brightmind-edu/gamification/internal/domain/challenge"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeRepository implements challenge.Repository for PostgreSQL.
type ChallengeRepository struct {
	conn *Connection
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(conn *Connection) *ChallengeRepository {
	return &ChallengeRepository{conn: conn}
}

const challengeColumns = `
	id, title, description, metric, target_value, xp_reward, badge_id, tier,
	scope_kind, scope_id, max_participants, participants,
	start_date, end_date, is_active, created_at
`

func scanChallenge(row pgx.Row) (*challenge.Challenge, error) {
	var c challenge.Challenge
	var metric, tier, scopeKind string
	err := row.Scan(
		&c.ID, &c.Title, &c.Description, &metric, &c.TargetValue, &c.XPReward,
		&c.BadgeID, &tier, &scopeKind, &c.ScopeID, &c.MaxParticipants,
		&c.Participants, &c.StartDate, &c.EndDate, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Metric = challenge.Metric(metric)
	c.Tier = challenge.Tier(tier)
	c.ScopeKind = challenge.ScopeKind(scopeKind)
	return &c, nil
}

const participationColumns = `
	id, challenge_id, student_id, current_value, starting_baseline,
	progress_history, is_completed, completed_at, xp_awarded, badge_awarded, joined_at
`

func scanParticipation(row pgx.Row) (*challenge.Participation, error) {
	var p challenge.Participation
	var history []byte
	err := row.Scan(
		&p.ID, &p.ChallengeID, &p.StudentID, &p.CurrentValue, &p.StartingBaseline,
		&history, &p.IsCompleted, &p.CompletedAt, &p.XPAwarded, &p.BadgeAwarded, &p.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &p.ProgressHistory); err != nil {
			return nil, fmt.Errorf("malformed progress history: %w", err)
		}
	}
	return &p, nil
}

// Create publishes a challenge.
func (r *ChallengeRepository) Create(ctx context.Context, c *challenge.Challenge) error {
	query := `
		INSERT INTO challenges (
			title, description, metric, target_value, xp_reward, badge_id, tier,
			scope_kind, scope_id, max_participants, start_date, end_date, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`
	err := r.conn.QueryRow(ctx, query,
		c.Title, c.Description, string(c.Metric), c.TargetValue, c.XPReward,
		c.BadgeID, string(c.Tier), string(c.ScopeKind), c.ScopeID,
		c.MaxParticipants, c.StartDate, c.EndDate, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return mapStoreError("challenge", "Create", err)
	}
	return nil
}

// Get returns one challenge.
func (r *ChallengeRepository) Get(ctx context.Context, challengeID int64) (*challenge.Challenge, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, challengeID)
	c, err := scanChallenge(row)
	if err != nil {
		return nil, mapStoreError("challenge", "Get", err)
	}
	return c, nil
}

// List returns challenges matching the filter.
func (r *ChallengeRepository) List(ctx context.Context, f challenge.Filter) ([]challenge.Challenge, error) {
	var conditions []string
	var args []interface{}

	addArg := func(condition string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, strings.Replace(condition, "?", placeholder(len(args)), 1))
	}

	if f.Metric != "" {
		addArg("metric = ?", string(f.Metric))
	}
	if f.ScopeKind != "" {
		addArg("scope_kind = ?", string(f.ScopeKind))
	}
	if f.ScopeID != 0 {
		addArg("scope_id = ?", f.ScopeID)
	}
	if f.ActiveOnly {
		conditions = append(conditions, "is_active")
	}
	if f.OpenAt != nil {
		addArg("start_date <= ?", *f.OpenAt)
		addArg("end_date > ?", *f.OpenAt)
	}

	query := `SELECT ` + challengeColumns + ` FROM challenges`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_date DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT " + placeholder(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET " + placeholder(len(args))
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, mapStoreError("challenge", "List", err)
	}
	defer rows.Close()

	var out []challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, mapStoreError("challenge", "List", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// TryJoin evaluates the join preconditions and performs the insert plus
// counter increment against a single FOR UPDATE view of the challenge row, so
// the participant cap holds for any number of concurrent joiners.
func (r *ChallengeRepository) TryJoin(ctx context.Context, challengeID, studentID int64, baseline float64, now time.Time) (challenge.JoinResult, error) {
	var result challenge.JoinResult

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+challengeColumns+` FROM challenges WHERE id = $1 FOR UPDATE`, challengeID)
		c, err := scanChallenge(row)
		if err != nil {
			return err
		}

		var alreadyJoined bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM challenge_participations
				WHERE challenge_id = $1 AND student_id = $2
			)
		`, challengeID, studentID).Scan(&alreadyJoined)
		if err != nil {
			return err
		}

		if reason := c.Joinable(now, alreadyJoined); reason != challenge.ReasonNone {
			result = challenge.JoinResult{Joined: false, Reason: reason}
			return nil
		}

		insert := `
			INSERT INTO challenge_participations (
				challenge_id, student_id, starting_baseline, joined_at
			) VALUES ($1, $2, $3, $4)
			RETURNING ` + participationColumns
		p, err := scanParticipation(tx.QueryRow(ctx, insert, challengeID, studentID, baseline, now))
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE challenges SET participants = participants + 1 WHERE id = $1`, challengeID); err != nil {
			return err
		}

		result = challenge.JoinResult{Joined: true, Participation: p}
		return nil
	})
	if err != nil {
		return challenge.JoinResult{}, mapStoreError("challenge", "TryJoin", err)
	}
	return result, nil
}

// GetParticipation returns one participation row.
func (r *ChallengeRepository) GetParticipation(ctx context.Context, challengeID, studentID int64) (*challenge.Participation, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+participationColumns+`
		FROM challenge_participations
		WHERE challenge_id = $1 AND student_id = $2
	`, challengeID, studentID)
	p, err := scanParticipation(row)
	if err != nil {
		return nil, mapStoreError("challenge", "GetParticipation", err)
	}
	return p, nil
}

// participationViewQuery joins participations with their challenges.
const participationViewQuery = `
	SELECT p.id, p.challenge_id, p.student_id, p.current_value, p.starting_baseline,
	       p.progress_history, p.is_completed, p.completed_at, p.xp_awarded,
	       p.badge_awarded, p.joined_at,
	       c.id, c.title, c.description, c.metric, c.target_value, c.xp_reward,
	       c.badge_id, c.tier, c.scope_kind, c.scope_id, c.max_participants,
	       c.participants, c.start_date, c.end_date, c.is_active, c.created_at
	FROM challenge_participations p
	JOIN challenges c ON c.id = p.challenge_id
`

func scanParticipationView(rows pgx.Rows) (challenge.ParticipationView, error) {
	var v challenge.ParticipationView
	var history []byte
	var metric, tier, scopeKind string
	err := rows.Scan(
		&v.Participation.ID, &v.Participation.ChallengeID, &v.Participation.StudentID,
		&v.Participation.CurrentValue, &v.Participation.StartingBaseline, &history,
		&v.Participation.IsCompleted, &v.Participation.CompletedAt,
		&v.Participation.XPAwarded, &v.Participation.BadgeAwarded, &v.Participation.JoinedAt,
		&v.Challenge.ID, &v.Challenge.Title, &v.Challenge.Description, &metric,
		&v.Challenge.TargetValue, &v.Challenge.XPReward, &v.Challenge.BadgeID, &tier,
		&scopeKind, &v.Challenge.ScopeID, &v.Challenge.MaxParticipants,
		&v.Challenge.Participants, &v.Challenge.StartDate, &v.Challenge.EndDate,
		&v.Challenge.IsActive, &v.Challenge.CreatedAt,
	)
	if err != nil {
		return v, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &v.Participation.ProgressHistory); err != nil {
			return v, fmt.Errorf("malformed progress history: %w", err)
		}
	}
	v.Challenge.Metric = challenge.Metric(metric)
	v.Challenge.Tier = challenge.Tier(tier)
	v.Challenge.ScopeKind = challenge.ScopeKind(scopeKind)
	return v, nil
}

// ListActiveParticipations returns the student's joined, incomplete
// participations whose challenge window contains now.
func (r *ChallengeRepository) ListActiveParticipations(ctx context.Context, studentID int64, now time.Time) ([]challenge.ParticipationView, error) {
	query := participationViewQuery + `
		WHERE p.student_id = $1 AND NOT p.is_completed
		  AND c.is_active AND c.start_date <= $2 AND c.end_date > $2
		ORDER BY c.id
	`
	return r.queryViews(ctx, "ListActiveParticipations", query, studentID, now)
}

// ListStudentParticipations returns all of the student's participations.
func (r *ChallengeRepository) ListStudentParticipations(ctx context.Context, studentID int64) ([]challenge.ParticipationView, error) {
	query := participationViewQuery + `
		WHERE p.student_id = $1
		ORDER BY c.id
	`
	return r.queryViews(ctx, "ListStudentParticipations", query, studentID)
}

func (r *ChallengeRepository) queryViews(ctx context.Context, op, query string, args ...interface{}) ([]challenge.ParticipationView, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, mapStoreError("challenge", op, err)
	}
	defer rows.Close()

	var out []challenge.ParticipationView
	for rows.Next() {
		v, err := scanParticipationView(rows)
		if err != nil {
			return nil, mapStoreError("challenge", op, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Advance applies a monotonic progress update under the participation row
// lock. The monotonicity and completion rules live on the entity; the store
// persists whatever the entity decided.
func (r *ChallengeRepository) Advance(ctx context.Context, req challenge.AdvanceRequest, now time.Time) (challenge.AdvanceResult, error) {
	var result challenge.AdvanceResult

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+participationColumns+`
			FROM challenge_participations
			WHERE challenge_id = $1 AND student_id = $2
			FOR UPDATE
		`, req.ChallengeID, req.StudentID)
		p, err := scanParticipation(row)
		if err != nil {
			return err
		}

		var target float64
		if err := tx.QueryRow(ctx,
			`SELECT target_value FROM challenges WHERE id = $1`, req.ChallengeID).Scan(&target); err != nil {
			return err
		}

		newValue := req.Value
		if req.Mode == challenge.AdvanceIncrement {
			newValue = p.CurrentValue + req.Value
		}
		changed, crossed := p.Advance(newValue, target, req.Note, now)
		if changed {
			history, err := json.Marshal(p.ProgressHistory)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				UPDATE challenge_participations
				SET current_value = $3, progress_history = $4,
				    is_completed = $5, completed_at = $6
				WHERE challenge_id = $1 AND student_id = $2
			`, req.ChallengeID, req.StudentID, p.CurrentValue, history, p.IsCompleted, p.CompletedAt)
			if err != nil {
				return err
			}
		}
		result = challenge.AdvanceResult{Changed: changed, Crossed: crossed, Participation: p}
		return nil
	})
	if err != nil {
		return challenge.AdvanceResult{}, mapStoreError("challenge", "Advance", err)
	}
	return result, nil
}

// ClaimReward conditionally flips one reward flag from false to true. The
// WHERE clause makes the update match for exactly one caller.
func (r *ChallengeRepository) ClaimReward(ctx context.Context, challengeID, studentID int64, kind challenge.RewardKind) (bool, error) {
	var column string
	switch kind {
	case challenge.RewardXP:
		column = "xp_awarded"
	case challenge.RewardBadge:
		column = "badge_awarded"
	default:
		return false, shared.NewDomainError("challenge", "ClaimReward", shared.ErrInvalidInput,
			fmt.Sprintf("unknown reward kind %q", kind))
	}

	query := fmt.Sprintf(`
		UPDATE challenge_participations
		SET %s = TRUE
		WHERE challenge_id = $1 AND student_id = $2 AND is_completed AND NOT %s
	`, column, column)

	tag, err := r.conn.Exec(ctx, query, challengeID, studentID)
	if err != nil {
		return false, mapStoreError("challenge", "ClaimReward", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompletionsWeighted returns per-student completed-challenge counts weighted
// by tier inside [from, to).
func (r *ChallengeRepository) CompletionsWeighted(ctx context.Context, from, to time.Time) (map[int64]int, error) {
	query := `
		SELECT p.student_id,
		       SUM(CASE c.tier
		           WHEN 'standard' THEN 1
		           WHEN 'advanced' THEN 2
		           WHEN 'epic' THEN 3
		           ELSE 1 END)
		FROM challenge_participations p
		JOIN challenges c ON c.id = p.challenge_id
		WHERE p.is_completed AND p.completed_at >= $1 AND p.completed_at < $2
		GROUP BY p.student_id
	`
	rows, err := r.conn.Query(ctx, query, from, to)
	if err != nil {
		return nil, mapStoreError("challenge", "CompletionsWeighted", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var studentID int64
		var weighted int
		if err := rows.Scan(&studentID, &weighted); err != nil {
			return nil, mapStoreError("challenge", "CompletionsWeighted", err)
		}
		counts[studentID] = weighted
	}
	return counts, rows.Err()
}
