// Package postgres implements the PostgreSQL persistence layer of the
// gamification core.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// XPRepository implements xp.Repository for PostgreSQL.
type XPRepository struct {
	conn *Connection
}

// NewXPRepository creates a new XPRepository.
func NewXPRepository(conn *Connection) *XPRepository {
	return &XPRepository{conn: conn}
}

const accountColumns = `
	id, student_id, total_xp, available_xp, spent_xp, level,
	weekly_xp, monthly_xp, created_at, updated_at
`

func scanAccount(row pgx.Row) (*xp.Account, error) {
	var a xp.Account
	err := row.Scan(
		&a.ID, &a.StudentID, &a.TotalXP, &a.AvailableXP, &a.SpentXP, &a.Level,
		&a.WeeklyXP, &a.MonthlyXP, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetOrCreateAccount returns the student's account, lazily initializing it.
// The insert is ON CONFLICT DO NOTHING so concurrent first-time callers race
// harmlessly and both read the single surviving row.
func (r *XPRepository) GetOrCreateAccount(ctx context.Context, studentID int64) (*xp.Account, error) {
	query := `
		INSERT INTO xp_accounts (student_id)
		VALUES ($1)
		ON CONFLICT (student_id) DO NOTHING
	`
	if _, err := r.conn.Exec(ctx, query, studentID); err != nil {
		return nil, mapStoreError("ledger", "GetOrCreateAccount", err)
	}

	row := r.conn.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM xp_accounts WHERE student_id = $1`, studentID)
	account, err := scanAccount(row)
	if err != nil {
		return nil, mapStoreError("ledger", "GetOrCreateAccount", err)
	}
	return account, nil
}

// ApplyEarn credits the account and appends the transaction in one
// transaction. The account row is locked FOR UPDATE; a duplicate idempotency
// key surfaces as a unique violation on the transaction insert, which rolls
// the credit back and returns applied=false.
func (r *XPRepository) ApplyEarn(ctx context.Context, req xp.EarnRequest, now time.Time) (*xp.Account, bool, error) {
	var account *xp.Account
	applied := true

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		a, err := lockAccount(ctx, tx, req.StudentID)
		if err != nil {
			return err
		}

		before, after := a.ApplyEarn(req.Amount, now)

		insert := `
			INSERT INTO xp_transactions (
				student_id, amount, source, description,
				balance_before, balance_after, idempotency_key, session_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
		`
		_, err = tx.Exec(ctx, insert,
			req.StudentID, req.Amount, string(req.Source), req.Description,
			before, after, req.IdempotencyKey, req.SessionID, now,
		)
		if err != nil {
			return err
		}

		update := `
			UPDATE xp_accounts
			SET total_xp = $2, available_xp = $3, weekly_xp = $4, monthly_xp = $5,
			    level = $6, updated_at = $7
			WHERE student_id = $1
		`
		_, err = tx.Exec(ctx, update,
			req.StudentID, a.TotalXP, a.AvailableXP, a.WeeklyXP, a.MonthlyXP,
			int(a.Level), now,
		)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		if IsUniqueViolation(err) {
			// The key was already used; the whole credit rolled back. Return
			// the committed state instead.
			applied = false
			account, err = r.GetOrCreateAccount(ctx, req.StudentID)
			if err != nil {
				return nil, false, err
			}
			return account, false, nil
		}
		return nil, false, mapStoreError("ledger", "ApplyEarn", err)
	}
	return account, applied, nil
}

// ApplySpend debits the available balance under the account row lock.
// Overspending rolls back and returns shared.ErrInsufficientBalance.
func (r *XPRepository) ApplySpend(ctx context.Context, req xp.SpendRequest, now time.Time) (*xp.Account, error) {
	var account *xp.Account

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		a, err := lockAccount(ctx, tx, req.StudentID)
		if err != nil {
			return err
		}

		before, after, err := a.ApplySpend(req.Amount, now)
		if err != nil {
			return shared.WrapError("ledger", "ApplySpend", err, "spend refused", nil)
		}

		insert := `
			INSERT INTO xp_transactions (
				student_id, amount, source, description,
				balance_before, balance_after, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err = tx.Exec(ctx, insert,
			req.StudentID, -req.Amount, string(req.Source), req.Description,
			before, after, now,
		)
		if err != nil {
			return err
		}

		update := `
			UPDATE xp_accounts
			SET available_xp = $2, spent_xp = $3, updated_at = $4
			WHERE student_id = $1
		`
		if _, err := tx.Exec(ctx, update, req.StudentID, a.AvailableXP, a.SpentXP, now); err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		if shared.IsValidation(err) {
			return nil, err
		}
		return nil, mapStoreError("ledger", "ApplySpend", err)
	}
	return account, nil
}

// lockAccount selects the account row FOR UPDATE, creating it first if absent.
func lockAccount(ctx context.Context, tx pgx.Tx, studentID int64) (*xp.Account, error) {
	insert := `
		INSERT INTO xp_accounts (student_id)
		VALUES ($1)
		ON CONFLICT (student_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, studentID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM xp_accounts WHERE student_id = $1 FOR UPDATE`, studentID)
	return scanAccount(row)
}

// ListTransactions returns the student's transaction log, newest first.
func (r *XPRepository) ListTransactions(ctx context.Context, studentID int64, limit, offset int) ([]xp.Transaction, error) {
	query := `
		SELECT id, student_id, amount, source, description,
		       balance_before, balance_after,
		       COALESCE(idempotency_key, ''), COALESCE(session_id, ''), created_at
		FROM xp_transactions
		WHERE student_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.conn.Query(ctx, query, studentID, limit, offset)
	if err != nil {
		return nil, mapStoreError("ledger", "ListTransactions", err)
	}
	defer rows.Close()

	var txs []xp.Transaction
	for rows.Next() {
		var t xp.Transaction
		var source string
		err := rows.Scan(
			&t.ID, &t.StudentID, &t.Amount, &source, &t.Description,
			&t.BalanceBefore, &t.BalanceAfter, &t.IdempotencyKey, &t.SessionID, &t.CreatedAt,
		)
		if err != nil {
			return nil, mapStoreError("ledger", "ListTransactions", err)
		}
		t.Source = xp.Source(source)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ResetWeeklyXP zeroes all weekly counters at period rotation.
func (r *XPRepository) ResetWeeklyXP(ctx context.Context) (int64, error) {
	tag, err := r.conn.Exec(ctx, `UPDATE xp_accounts SET weekly_xp = 0 WHERE weekly_xp <> 0`)
	if err != nil {
		return 0, mapStoreError("ledger", "ResetWeeklyXP", err)
	}
	return tag.RowsAffected(), nil
}

// ResetMonthlyXP zeroes all monthly counters.
func (r *XPRepository) ResetMonthlyXP(ctx context.Context) (int64, error) {
	tag, err := r.conn.Exec(ctx, `UPDATE xp_accounts SET monthly_xp = 0 WHERE monthly_xp <> 0`)
	if err != nil {
		return 0, mapStoreError("ledger", "ResetMonthlyXP", err)
	}
	return tag.RowsAffected(), nil
}
