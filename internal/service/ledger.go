// Package service implements the gamification engines on top of the domain
// repository contracts: the XP ledger, the badge engine, the challenge
// engine, the leaderboard engine, and the activity intake that external
// collaborators feed events into. Components never reach a shared global
// handle; every store dependency is injected.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/internal/domain/xp"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Ledger maintains per-student XP balances and the immutable transaction log.
// All mutations delegate to atomic repository operations; the ledger itself
// adds validation, event publication, logging, and limit clamping.
type Ledger struct {
	repo      xp.Repository
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(repo xp.Repository, publisher shared.EventPublisher, logger *slog.Logger) *Ledger {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "ledger"),
	}
}

// Earn credits XP to a student. When the request carries an idempotency key
// that was already used, the call is a no-op returning the current account.
// Fails with shared.ErrInvalidAmount for non-positive amounts.
func (l *Ledger) Earn(ctx context.Context, req xp.EarnRequest) (*xp.Account, error) {
	if req.Amount <= 0 {
		return nil, shared.NewDomainError("ledger", "Earn", shared.ErrInvalidAmount,
			"earn amount must be positive")
	}
	if req.Source == "" {
		return nil, shared.NewDomainError("ledger", "Earn", shared.ErrInvalidInput,
			"earn source is required")
	}

	account, applied, err := l.repo.ApplyEarn(ctx, req, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		l.logger.Debug("duplicate earn suppressed",
			"student_id", req.StudentID,
			"idempotency_key", req.IdempotencyKey,
		)
		return account, nil
	}

	l.logger.Info("xp earned",
		"student_id", req.StudentID,
		"amount", req.Amount,
		"source", string(req.Source),
		"total_xp", account.TotalXP,
		"level", int(account.Level),
	)

	l.publish(shared.NewXPEarnedEvent(req.StudentID, req.Amount, string(req.Source), account.TotalXP))
	if account.Level > xp.LevelFor(account.TotalXP-req.Amount) {
		l.logger.Info("level up",
			"student_id", req.StudentID,
			"level", int(account.Level),
		)
		l.publish(shared.NewLevelUpEvent(req.StudentID, int(account.Level), account.TotalXP))
	}
	return account, nil
}

func (l *Ledger) publish(event shared.Event) {
	if err := l.publisher.Publish(event); err != nil {
		l.logger.Warn("failed to publish event",
			"event_type", string(event.EventType()),
			"error", err,
		)
	}
}

// Spend debits available XP. Balance check and mutation execute in one atomic
// unit; overspending fails with shared.ErrInsufficientBalance and leaves no
// trace.
func (l *Ledger) Spend(ctx context.Context, req xp.SpendRequest) (*xp.Account, error) {
	if req.Amount <= 0 {
		return nil, shared.NewDomainError("ledger", "Spend", shared.ErrInvalidAmount,
			"spend amount must be positive")
	}
	if req.Source == "" {
		return nil, shared.NewDomainError("ledger", "Spend", shared.ErrInvalidInput,
			"spend source is required")
	}

	account, err := l.repo.ApplySpend(ctx, req, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	l.logger.Info("xp spent",
		"student_id", req.StudentID,
		"amount", req.Amount,
		"available_xp", account.AvailableXP,
	)
	return account, nil
}

// GetBalance returns the student's account, lazily initializing it.
func (l *Ledger) GetBalance(ctx context.Context, studentID int64) (*xp.Account, error) {
	return l.repo.GetOrCreateAccount(ctx, studentID)
}

// ResetWeeklyXP zeroes every weekly counter at period rotation. Returns the
// number of accounts touched.
func (l *Ledger) ResetWeeklyXP(ctx context.Context) (int64, error) {
	n, err := l.repo.ResetWeeklyXP(ctx)
	if err != nil {
		return 0, err
	}
	l.logger.Info("weekly xp reset", "accounts", n)
	return n, nil
}

// ResetMonthlyXP zeroes every monthly counter.
func (l *Ledger) ResetMonthlyXP(ctx context.Context) (int64, error) {
	n, err := l.repo.ResetMonthlyXP(ctx)
	if err != nil {
		return 0, err
	}
	l.logger.Info("monthly xp reset", "accounts", n)
	return n, nil
}

// GetTransactionHistory returns the student's transaction log, newest first.
func (l *Ledger) GetTransactionHistory(ctx context.Context, studentID int64, limit, offset int) ([]xp.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return l.repo.ListTransactions(ctx, studentID, limit, offset)
}
