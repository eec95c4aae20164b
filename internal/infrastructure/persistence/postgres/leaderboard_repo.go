// Package postgres implements the PostgreSQL persistence layer of the
// gamification core.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brightmind-edu/gamification/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Repository for PostgreSQL.
type LeaderboardRepository struct {
	conn *Connection
}

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

const leaderboardColumns = `
	id, type, scope_kind, scope_id, period_start, period_end, is_current, created_at
`

func scanLeaderboard(row pgx.Row) (*leaderboard.Leaderboard, error) {
	var l leaderboard.Leaderboard
	var typ, scope string
	err := row.Scan(
		&l.ID, &typ, &scope, &l.ScopeID, &l.Period.Start, &l.Period.End,
		&l.IsCurrent, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Type = leaderboard.Type(typ)
	l.Scope = leaderboard.Scope(scope)
	return &l, nil
}

// Get returns one leaderboard.
func (r *LeaderboardRepository) Get(ctx context.Context, leaderboardID int64) (*leaderboard.Leaderboard, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+leaderboardColumns+` FROM leaderboards WHERE id = $1`, leaderboardID)
	l, err := scanLeaderboard(row)
	if err != nil {
		return nil, mapStoreError("leaderboard", "Get", err)
	}
	return l, nil
}

// GetCurrent returns the current leaderboard for a scope key.
func (r *LeaderboardRepository) GetCurrent(ctx context.Context, t leaderboard.Type, scope leaderboard.Scope, scopeID int64) (*leaderboard.Leaderboard, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+leaderboardColumns+`
		FROM leaderboards
		WHERE type = $1 AND scope_kind = $2 AND scope_id = $3 AND is_current
	`, string(t), string(scope), scopeID)
	l, err := scanLeaderboard(row)
	if err != nil {
		return nil, mapStoreError("leaderboard", "GetCurrent", err)
	}
	return l, nil
}

// ListCurrent returns every current leaderboard.
func (r *LeaderboardRepository) ListCurrent(ctx context.Context) ([]leaderboard.Leaderboard, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+leaderboardColumns+` FROM leaderboards WHERE is_current ORDER BY id`)
	if err != nil {
		return nil, mapStoreError("leaderboard", "ListCurrent", err)
	}
	defer rows.Close()

	var out []leaderboard.Leaderboard
	for rows.Next() {
		l, err := scanLeaderboard(rows)
		if err != nil {
			return nil, mapStoreError("leaderboard", "ListCurrent", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// InsertAsCurrent demotes the predecessor for the same scope key and inserts
// the new leaderboard as current inside one transaction, which keeps the
// one-current-per-key invariant that the partial unique index enforces.
func (r *LeaderboardRepository) InsertAsCurrent(ctx context.Context, l *leaderboard.Leaderboard) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		demote := `
			UPDATE leaderboards
			SET is_current = FALSE
			WHERE type = $1 AND scope_kind = $2 AND scope_id = $3 AND is_current
		`
		if _, err := tx.Exec(ctx, demote, string(l.Type), string(l.Scope), l.ScopeID); err != nil {
			return err
		}

		insert := `
			INSERT INTO leaderboards (type, scope_kind, scope_id, period_start, period_end, is_current)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			RETURNING id, created_at
		`
		return tx.QueryRow(ctx, insert,
			string(l.Type), string(l.Scope), l.ScopeID, l.Period.Start, l.Period.End,
		).Scan(&l.ID, &l.CreatedAt)
	})
	if err != nil {
		return mapStoreError("leaderboard", "InsertAsCurrent", err)
	}
	l.IsCurrent = true
	return nil
}

// ReplaceEntries swaps the leaderboard's entry set wholesale.
func (r *LeaderboardRepository) ReplaceEntries(ctx context.Context, leaderboardID int64, entries []leaderboard.Entry) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM leaderboard_entries WHERE leaderboard_id = $1`, leaderboardID); err != nil {
			return err
		}

		insert := `
			INSERT INTO leaderboard_entries (
				leaderboard_id, student_id, rank, score, previous_rank, trend
			) VALUES ($1, $2, $3, $4, $5, $6)
		`
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(insert, leaderboardID, e.StudentID, e.Rank, e.Score,
				e.PreviousRank, string(e.Trend))
		}
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range entries {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return results.Close()
	})
	if err != nil {
		return mapStoreError("leaderboard", "ReplaceEntries", err)
	}
	return nil
}

const entryColumns = `
	id, leaderboard_id, student_id, rank, score, previous_rank, trend
`

func scanEntry(row pgx.Row) (leaderboard.Entry, error) {
	var e leaderboard.Entry
	var trend string
	err := row.Scan(&e.ID, &e.LeaderboardID, &e.StudentID, &e.Rank, &e.Score,
		&e.PreviousRank, &trend)
	if err != nil {
		return e, err
	}
	e.Trend = leaderboard.Trend(trend)
	return e, nil
}

// ListEntries returns a rank-ordered page of entries.
func (r *LeaderboardRepository) ListEntries(ctx context.Context, leaderboardID int64, limit, offset int) ([]leaderboard.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM leaderboard_entries
		WHERE leaderboard_id = $1
		ORDER BY rank, student_id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.conn.Query(ctx, query, leaderboardID, limit, offset)
	if err != nil {
		return nil, mapStoreError("leaderboard", "ListEntries", err)
	}
	defer rows.Close()

	var out []leaderboard.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapStoreError("leaderboard", "ListEntries", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllEntries returns the board's complete rank-ordered entry set.
func (r *LeaderboardRepository) AllEntries(ctx context.Context, leaderboardID int64) ([]leaderboard.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM leaderboard_entries
		WHERE leaderboard_id = $1
		ORDER BY rank, student_id
	`
	rows, err := r.conn.Query(ctx, query, leaderboardID)
	if err != nil {
		return nil, mapStoreError("leaderboard", "AllEntries", err)
	}
	defer rows.Close()

	var out []leaderboard.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapStoreError("leaderboard", "AllEntries", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PreviousEntries returns the entry set of the most recent same-key
// leaderboard whose period started before the given one.
func (r *LeaderboardRepository) PreviousEntries(ctx context.Context, l leaderboard.Leaderboard) ([]leaderboard.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM leaderboard_entries
		WHERE leaderboard_id = (
			SELECT id FROM leaderboards
			WHERE type = $1 AND scope_kind = $2 AND scope_id = $3
			  AND period_start < $4 AND id <> $5
			ORDER BY period_start DESC
			LIMIT 1
		)
		ORDER BY rank, student_id
	`
	rows, err := r.conn.Query(ctx, query,
		string(l.Type), string(l.Scope), l.ScopeID, l.Period.Start, l.ID)
	if err != nil {
		return nil, mapStoreError("leaderboard", "PreviousEntries", err)
	}
	defer rows.Close()

	var out []leaderboard.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapStoreError("leaderboard", "PreviousEntries", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListStudentPositions returns the student's entries on all current
// leaderboards.
func (r *LeaderboardRepository) ListStudentPositions(ctx context.Context, studentID int64) ([]leaderboard.Position, error) {
	query := `
		SELECT l.id, l.type, l.scope_kind, l.scope_id, l.period_start, l.period_end,
		       l.is_current, l.created_at,
		       e.id, e.leaderboard_id, e.student_id, e.rank, e.score,
		       e.previous_rank, e.trend
		FROM leaderboard_entries e
		JOIN leaderboards l ON l.id = e.leaderboard_id
		WHERE e.student_id = $1 AND l.is_current
		ORDER BY l.id
	`
	rows, err := r.conn.Query(ctx, query, studentID)
	if err != nil {
		return nil, mapStoreError("leaderboard", "ListStudentPositions", err)
	}
	defer rows.Close()

	var out []leaderboard.Position
	for rows.Next() {
		var p leaderboard.Position
		var typ, scope, trend string
		err := rows.Scan(
			&p.Leaderboard.ID, &typ, &scope, &p.Leaderboard.ScopeID,
			&p.Leaderboard.Period.Start, &p.Leaderboard.Period.End,
			&p.Leaderboard.IsCurrent, &p.Leaderboard.CreatedAt,
			&p.Entry.ID, &p.Entry.LeaderboardID, &p.Entry.StudentID,
			&p.Entry.Rank, &p.Entry.Score, &p.Entry.PreviousRank, &trend,
		)
		if err != nil {
			return nil, mapStoreError("leaderboard", "ListStudentPositions", err)
		}
		p.Leaderboard.Type = leaderboard.Type(typ)
		p.Leaderboard.Scope = leaderboard.Scope(scope)
		p.Entry.Trend = leaderboard.Trend(trend)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Archive demotes leaderboards whose period ended before the cutoff. The rows
// and their entries are kept for history.
func (r *LeaderboardRepository) Archive(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx,
		`UPDATE leaderboards SET is_current = FALSE WHERE is_current AND period_end < $1`, cutoff)
	if err != nil {
		return 0, mapStoreError("leaderboard", "Archive", err)
	}
	return tag.RowsAffected(), nil
}
