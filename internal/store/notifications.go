package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// EnqueueNotification appends an outbox row. When tx is non-nil the write
// joins the caller's transaction so the notification commits atomically with
// the state change it announces.
func (s *Store) EnqueueNotification(ctx context.Context, tx pgx.Tx, userID int64, typ string, payload json.RawMessage) error {
	const q = `INSERT INTO notifications_outbox (user_id, type, payload) VALUES ($1, $2, $3)`
	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, q, userID, typ, payload)
	} else {
		_, err = s.pool.Exec(ctx, q, userID, typ, payload)
	}
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// ClaimNotifications leases deliverable outbox rows for workerID. A row is
// deliverable when pending, or stuck in sending past its lease.
func (s *Store) ClaimNotifications(ctx context.Context, workerID string, limit int, lease time.Duration) ([]*Notification, error) {
	limit = ClampClaimLimit(limit)
	lease = ClampLease(lease)

	var out []*Notification
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`UPDATE notifications_outbox SET
				status = 'sending',
				worker_id = $1,
				sending_expires_at = now() + $2::interval,
				attempts = attempts + 1
			 WHERE id IN (
				SELECT id FROM notifications_outbox
				WHERE (status = 'pending'
				   OR (status = 'sending' AND sending_expires_at <= now()))
				  AND attempts < max_attempts
				ORDER BY created_at
				FOR UPDATE SKIP LOCKED
				LIMIT $3
			 )
			 RETURNING `+notifColumns,
			workerID, lease, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			n, err := scanNotification(rows)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationSent finalizes a delivered row.
func (s *Store) MarkNotificationSent(ctx context.Context, id int64, workerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications_outbox SET
			status = 'sent', sent_at = now(), worker_id = NULL, sending_expires_at = NULL
		 WHERE id = $1 AND worker_id = $2 AND status = 'sending'`,
		id, workerID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// MarkNotificationFailed records a delivery failure. Below the attempt cap the
// row goes back to pending for the next claim cycle; at the cap it is failed
// permanently.
func (s *Store) MarkNotificationFailed(ctx context.Context, id int64, workerID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications_outbox SET
			status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
			worker_id = NULL,
			sending_expires_at = NULL,
			last_error = $3
		 WHERE id = $1 AND worker_id = $2 AND status = 'sending'`,
		id, workerID, errMsg,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// PurgeSentNotifications deletes sent rows older than maxAge.
func (s *Store) PurgeSentNotifications(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications_outbox
		 WHERE status = 'sent' AND sent_at < now() - $1::interval`,
		maxAge,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const notifColumns = `id, user_id, type, payload, status, attempts, max_attempts,
	sending_expires_at, worker_id, last_error, created_at, sent_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Payload, &n.Status, &n.Attempts,
		&n.MaxAttempts, &n.SendingExpiresAt, &n.WorkerID, &n.LastError,
		&n.CreatedAt, &n.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
