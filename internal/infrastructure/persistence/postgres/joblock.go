// Package postgres implements the PostgreSQL persistence layer of the
// gamification core.
package postgres

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULED JOB LOCK
// ══════════════════════════════════════════════════════════════════════════════

// JobLock serializes scheduled jobs across worker instances with transaction
// scoped advisory locks. A job that fails to take the lock is skipped, not
// retried; the holder's run covers the period.
type JobLock struct {
	conn *Connection
}

// NewJobLock creates a new JobLock.
func NewJobLock(conn *Connection) *JobLock {
	return &JobLock{conn: conn}
}

// lockKey hashes (job, period) to the advisory lock keyspace.
func lockKey(jobName, periodKey string) int64 {
	h := fnv.New64a()
	h.Write([]byte(jobName))
	h.Write([]byte{0})
	h.Write([]byte(periodKey))
	return int64(h.Sum64())
}

// RunExclusive runs fn inside a transaction holding the advisory lock for
// (jobName, periodKey). Returns acquired=false without running fn when
// another worker already holds the lock.
func (l *JobLock) RunExclusive(ctx context.Context, jobName, periodKey string, fn func(ctx context.Context) error) (acquired bool, err error) {
	err = l.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var got bool
		if err := tx.QueryRow(ctx,
			`SELECT pg_try_advisory_xact_lock($1)`, lockKey(jobName, periodKey)).Scan(&got); err != nil {
			return err
		}
		if !got {
			return nil
		}
		acquired = true
		return fn(ctx)
	})
	if err != nil {
		return acquired, mapStoreError("scheduler", "RunExclusive", err)
	}
	return acquired, nil
}
