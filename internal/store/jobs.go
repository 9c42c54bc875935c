package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Claim limits and lease bounds. Callers may ask for anything; the store
// clamps to these ranges.
const (
	MinClaimLimit = 1
	MaxClaimLimit = 20
	MinLease      = 10 * time.Second
	MaxLease      = 120 * time.Second
)

// ClampClaimLimit bounds a batch size to [1, 20].
func ClampClaimLimit(n int) int {
	if n < MinClaimLimit {
		return MinClaimLimit
	}
	if n > MaxClaimLimit {
		return MaxClaimLimit
	}
	return n
}

// ClampLease bounds a lease duration to [10s, 120s].
func ClampLease(d time.Duration) time.Duration {
	if d < MinLease {
		return MinLease
	}
	if d > MaxLease {
		return MaxLease
	}
	return d
}

// EnqueueJob inserts a PENDING trade job. A duplicate idempotency key returns
// the existing row rather than an error.
func (s *Store) EnqueueJob(ctx context.Context, job *TradeJob) (*TradeJob, error) {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO trade_jobs
			(strategy_id, user_id, chain, action, candidate_id, priority, payload, idempotency_key, max_attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING `+jobColumns,
		job.StrategyID, job.UserID, job.Chain, job.Action, job.CandidateID,
		job.Priority, job.Payload, job.IdempotencyKey, job.MaxAttempts,
	)
	inserted, err := scanJob(row)
	if err == nil {
		return inserted, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	// Conflict: return the existing row.
	existing, err := s.GetJobByIdempotencyKey(ctx, job.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// ClaimJobs leases up to limit claimable jobs for workerID. Claimable means
// PENDING with no live lease and any retry backoff elapsed, or RUNNING with an
// expired lease and attempts remaining: a worker that died mid-job stops
// heartbeating, the lease lapses and the job becomes claimable again. Reclaimed
// rows reset to PENDING so MarkJobRunning's CAS holds for the new owner.
// SKIP LOCKED keeps concurrent workers from contending on the same rows.
func (s *Store) ClaimJobs(ctx context.Context, workerID string, limit int, lease time.Duration, chain Chain) ([]*TradeJob, error) {
	limit = ClampClaimLimit(limit)
	lease = ClampLease(lease)

	var jobs []*TradeJob
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`UPDATE trade_jobs SET
				status = 'PENDING',
				worker_id = $1,
				lease_expires_at = now() + $2::interval,
				updated_at = now()
			 WHERE id IN (
				SELECT id FROM trade_jobs
				WHERE (status = 'PENDING'
				       OR (status = 'RUNNING' AND attempts < max_attempts))
				  AND (lease_expires_at IS NULL OR lease_expires_at <= now())
				  AND (next_available_at IS NULL OR next_available_at <= now())
				  AND ($3 = '' OR chain = $3)
				ORDER BY priority, created_at
				FOR UPDATE SKIP LOCKED
				LIMIT $4
			 )
			 RETURNING `+jobColumns,
			workerID, lease, string(chain), limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	return jobs, nil
}

// MarkJobRunning transitions a claimed job to RUNNING and bumps attempts.
// Returns false if the lease changed hands.
func (s *Store) MarkJobRunning(ctx context.Context, jobID int64, workerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_jobs
		 SET status = 'RUNNING', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1 AND worker_id = $2 AND status = 'PENDING'
		   AND lease_expires_at > now()`,
		jobID, workerID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExtendLease is the heartbeat. A no-op (false) if the lease no longer belongs
// to the caller.
func (s *Store) ExtendLease(ctx context.Context, jobID int64, workerID string, lease time.Duration) (bool, error) {
	lease = ClampLease(lease)
	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_jobs
		 SET lease_expires_at = now() + $3::interval, updated_at = now()
		 WHERE id = $1 AND worker_id = $2 AND status IN ('PENDING','RUNNING')`,
		jobID, workerID, lease,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeJob records the terminal outcome. A retryable failure below the
// attempt cap is re-enqueued as PENDING with an exponential backoff window;
// everything else lands in the requested terminal status.
func (s *Store) FinalizeJob(ctx context.Context, jobID int64, workerID string, status JobStatus, retryable bool, errMsg string) error {
	switch status {
	case JobDone, JobFailed, JobCanceled:
	default:
		return fmt.Errorf("finalize to %s: %w", status, ErrInvalidTransition)
	}

	if status == JobFailed && retryable {
		tag, err := s.pool.Exec(ctx,
			`UPDATE trade_jobs SET
				status = CASE WHEN attempts < max_attempts THEN 'PENDING' ELSE 'FAILED' END,
				worker_id = NULL,
				lease_expires_at = NULL,
				next_available_at = CASE WHEN attempts < max_attempts
					THEN now() + make_interval(secs => LEAST(POWER(2, attempts), 60))
					ELSE NULL END,
				last_error = $3,
				updated_at = now()
			 WHERE id = $1 AND worker_id = $2`,
			jobID, workerID, errMsg,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrLeaseLost
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_jobs SET
			status = $3,
			worker_id = NULL,
			lease_expires_at = NULL,
			last_error = $4,
			updated_at = now()
		 WHERE id = $1 AND worker_id = $2`,
		jobID, workerID, status, errMsg,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// FailAbandonedJobs marks RUNNING jobs whose lease lapsed with no attempts
// left as FAILED. Jobs with attempts remaining are picked back up by
// ClaimJobs instead.
func (s *Store) FailAbandonedJobs(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_jobs SET
			status = 'FAILED',
			worker_id = NULL,
			lease_expires_at = NULL,
			last_error = 'worker lost, attempts exhausted',
			updated_at = now()
		 WHERE status = 'RUNNING'
		   AND lease_expires_at <= now()
		   AND attempts >= max_attempts`)
	if err != nil {
		return 0, fmt.Errorf("fail abandoned jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetJobByIdempotencyKey loads a job by its idempotency key.
func (s *Store) GetJobByIdempotencyKey(ctx context.Context, key string) (*TradeJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM trade_jobs WHERE idempotency_key = $1`, key)
	j, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// RecentJobs returns the newest jobs for a chain regardless of status. Used
// by the read-only ops views.
func (s *Store) RecentJobs(ctx context.Context, chain Chain, limit int) ([]*TradeJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM trade_jobs
		 WHERE chain = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		chain, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TradeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const jobColumns = `id, strategy_id, user_id, chain, action, candidate_id, priority, payload,
	idempotency_key, status, attempts, max_attempts, worker_id, lease_expires_at,
	next_available_at, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (*TradeJob, error) {
	var j TradeJob
	err := row.Scan(
		&j.ID, &j.StrategyID, &j.UserID, &j.Chain, &j.Action, &j.CandidateID,
		&j.Priority, &j.Payload, &j.IdempotencyKey, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.WorkerID, &j.LeaseExpiresAt, &j.NextAvailableAt,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
