package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ExecUpdate carries the fields a status transition may set.
type ExecUpdate struct {
	TxSig         string
	TokensOut     int64
	PricePerToken float64
	Error         string
	ErrorCode     string
	Result        json.RawMessage
}

// MarkExecutionSubmitted moves RESERVED -> SUBMITTED, recording the signature.
func (s *Store) MarkExecutionSubmitted(ctx context.Context, execID int64, txSig string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions
		 SET status = 'SUBMITTED', tx_sig = $2, updated_at = now()
		 WHERE id = $1 AND status = 'RESERVED'`,
		execID, txSig,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %d submit: %w", execID, ErrInvalidTransition)
	}
	return nil
}

// MarkExecutionConfirmed moves SUBMITTED -> CONFIRMED with the trade result.
// A confirmed execution must carry a signature; the column check enforces it,
// this validates up front for a cleaner error.
func (s *Store) MarkExecutionConfirmed(ctx context.Context, execID int64, upd ExecUpdate) error {
	if upd.TxSig == "" {
		return errors.New("store: confirm requires tx signature")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET
			status = 'CONFIRMED',
			tx_sig = $2,
			tokens_out = $3,
			price_per_token = $4,
			result = $5,
			updated_at = now()
		 WHERE id = $1 AND status = 'SUBMITTED'`,
		execID, upd.TxSig, upd.TokensOut, upd.PricePerToken, upd.Result,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %d confirm: %w", execID, ErrInvalidTransition)
	}
	return nil
}

// MarkExecutionFailed moves RESERVED or SUBMITTED -> FAILED with an error code
// from the trade error taxonomy.
func (s *Store) MarkExecutionFailed(ctx context.Context, execID int64, errMsg, errCode string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET
			status = 'FAILED', error = $2, error_code = $3, updated_at = now()
		 WHERE id = $1 AND status IN ('RESERVED','SUBMITTED')`,
		execID, errMsg, errCode,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %d fail: %w", execID, ErrInvalidTransition)
	}
	return nil
}

// GetExecution loads one execution by id.
func (s *Store) GetExecution(ctx context.Context, execID int64) (*Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+execColumns+` FROM executions WHERE id = $1`, execID)
	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetExecutionByKey loads one execution by idempotency key.
func (s *Store) GetExecutionByKey(ctx context.Context, key string) (*Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+execColumns+` FROM executions WHERE idempotency_key = $1`, key)
	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CleanupStaleExecutions fails RESERVED and SUBMITTED rows older than maxAge.
// A stale SUBMITTED row means confirmation was never observed; the chain may
// still have landed the transaction, so the error code flags it for audit.
func (s *Store) CleanupStaleExecutions(ctx context.Context, maxAgeSeconds int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET
			status = 'FAILED',
			error = 'stale execution reaped',
			error_code = 'RPC_TIMEOUT',
			updated_at = now()
		 WHERE status IN ('RESERVED','SUBMITTED')
		   AND updated_at < now() - make_interval(secs => $1)`,
		maxAgeSeconds,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const execColumns = `id, idempotency_key, user_id, mint, action, mode, status, tx_sig,
	amount_sol, tokens_out, price_per_token, error, error_code, result, created_at, updated_at`

func scanExecution(row pgx.Row) (*Execution, error) {
	var e Execution
	err := row.Scan(
		&e.ID, &e.IdempotencyKey, &e.UserID, &e.Mint, &e.Action, &e.Mode,
		&e.Status, &e.TxSig, &e.AmountSol, &e.TokensOut, &e.PricePerToken,
		&e.Error, &e.ErrorCode, &e.Result, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
