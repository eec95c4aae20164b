package xp

import (
	"context"
	"time"
)

// EarnRequest describes a single XP credit.
type EarnRequest struct {
	StudentID   int64
	Amount      int
	Source      Source
	Description string

	// IdempotencyKey, when non-empty, makes the earn apply at most once.
	// Duplicate detection happens on transaction insert via the unique
	// constraint, never through a pre-check.
	IdempotencyKey string

	// SessionID optionally links the transaction to a learning session.
	SessionID string
}

// SpendRequest describes a single XP debit.
type SpendRequest struct {
	StudentID   int64
	Amount      int
	Source      Source
	Description string
}

// Repository is the store contract of the XP ledger. Every mutating method is
// a single atomic unit: the implementation must serialize concurrent writers
// on the account row and commit the account update together with the
// transaction row, or not at all.
type Repository interface {
	// GetOrCreateAccount returns the student's account, lazily initializing
	// it if absent. Creation is idempotent under concurrency.
	GetOrCreateAccount(ctx context.Context, studentID int64) (*Account, error)

	// ApplyEarn credits the account and appends a transaction. When the
	// request carries an idempotency key that was already used, the call is a
	// no-op: the current account state is returned and applied is false.
	ApplyEarn(ctx context.Context, req EarnRequest, now time.Time) (account *Account, applied bool, err error)

	// ApplySpend debits the available balance and appends a negative-amount
	// transaction. Balance check and mutation execute in one atomic unit;
	// returns shared.ErrInsufficientBalance without side effects when the
	// available balance is too low.
	ApplySpend(ctx context.Context, req SpendRequest, now time.Time) (*Account, error)

	// ListTransactions returns the student's transaction log, newest first.
	ListTransactions(ctx context.Context, studentID int64, limit, offset int) ([]Transaction, error)

	// ResetWeeklyXP zeroes the weekly counters of all accounts at period
	// rotation. Returns the number of accounts touched.
	ResetWeeklyXP(ctx context.Context) (int64, error)

	// ResetMonthlyXP zeroes the monthly counters of all accounts.
	ResetMonthlyXP(ctx context.Context) (int64, error)
}
