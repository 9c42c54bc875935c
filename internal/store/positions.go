package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreatePosition opens an ACTIVE position from a confirmed entry execution.
// TP and SL prices are computed once here and never recomputed.
func (s *Store) CreatePosition(ctx context.Context, p *Position) (*Position, error) {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	if p.PeakPrice == 0 {
		p.PeakPrice = p.EntryPrice
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = p.EntryPrice
	}
	if p.Lifecycle == "" {
		p.Lifecycle = PostGraduation
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO positions
			(uuid_id, user_id, strategy_id, candidate_id, chain, token_mint, token_symbol,
			 token_name, entry_execution_id, entry_tx_sig, entry_cost_sol, entry_price,
			 size_tokens, current_price, peak_price, tp_price, sl_price,
			 trail_activation_price, trail_distance_pct, max_hold_minutes,
			 moon_bag_percent, bonding_curve, entry_mc_sol, lifecycle_state,
			 status, trigger_state)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,'ACTIVE','MONITORING')
		 RETURNING `+positionColumns,
		p.UUID, p.UserID, p.StrategyID, p.CandidateID, p.Chain, p.TokenMint,
		p.TokenSymbol, p.TokenName, p.EntryExecutionID, p.EntryTxSig, p.EntryCostSol,
		p.EntryPrice, p.SizeTokens, p.CurrentPrice, p.PeakPrice, p.TPPrice, p.SLPrice,
		p.TrailActivation, p.TrailDistancePct, p.MaxHoldMinutes, p.MoonBagPercent,
		p.BondingCurve, p.EntryMcSol, p.Lifecycle,
	)
	created, err := scanPosition(row)
	if err != nil {
		return nil, fmt.Errorf("create position: %w", err)
	}
	return created, nil
}

// GetPosition loads one position by id.
func (s *Store) GetPosition(ctx context.Context, id int64) (*Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// WatchSet returns the positions the monitor should track: anything not yet
// CLOSED whose trigger machine can still fire or recover.
func (s *Store) WatchSet(ctx context.Context, chain Chain) ([]*Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE chain = $1 AND status <> 'CLOSED'
		   AND trigger_state IN ('MONITORING','TRIGGERED','EXECUTING','FAILED')
		 ORDER BY opened_at`,
		chain,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePrice records a price observation. The peak is monotone: GREATEST
// keeps concurrent or out-of-order updates from lowering it.
func (s *Store) UpdatePrice(ctx context.Context, positionID int64, price float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE positions SET
			current_price = $2,
			peak_price = GREATEST(peak_price, $2),
			price_updated_at = now()
		 WHERE id = $1 AND status <> 'CLOSED'`,
		positionID, price,
	)
	return err
}

// UpdateTrailingStop persists the computed trail level for visibility in the
// monitor panel. Purely informational; trigger decisions use strategy math.
func (s *Store) UpdateTrailingStop(ctx context.Context, positionID int64, stop float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE positions SET trailing_stop_price = $2 WHERE id = $1 AND status <> 'CLOSED'`,
		positionID, stop,
	)
	return err
}

// TriggerExitAtomically claims the position's single exit slot: the CAS
// MONITORING -> TRIGGERED succeeds for exactly one caller. An emergency claim
// is also allowed from FAILED so an operator can always force a position out
// after a terminal sell failure. On a lost claim the current trigger state is
// returned so the caller can log why it lost.
func (s *Store) TriggerExitAtomically(ctx context.Context, positionID int64, trigger Trigger, price float64) (bool, TriggerState, error) {
	status := PositionClosing
	if trigger == TriggerEmergency {
		status = PositionClosingEmergency
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET
			trigger_state = 'TRIGGERED',
			status = $4,
			exit_trigger = $2,
			trigger_price = $3,
			trigger_updated_at = now()
		 WHERE id = $1 AND status <> 'CLOSED'
		   AND (trigger_state = 'MONITORING' OR ($5 AND trigger_state = 'FAILED'))`,
		positionID, trigger, price, status, trigger == TriggerEmergency,
	)
	if err != nil {
		return false, "", err
	}
	if tag.RowsAffected() == 1 {
		return true, TriggerTriggered, nil
	}
	var current TriggerState
	err = s.pool.QueryRow(ctx,
		`SELECT trigger_state FROM positions WHERE id = $1`, positionID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", ErrNotFound
	}
	if err != nil {
		return false, "", err
	}
	return false, current, nil
}

// MarkTriggerExecuting moves TRIGGERED -> EXECUTING once the exit job picks
// the position up, binding the exit execution row.
func (s *Store) MarkTriggerExecuting(ctx context.Context, positionID, exitExecID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET trigger_state = 'EXECUTING', exit_execution_id = $2,
			trigger_updated_at = now()
		 WHERE id = $1 AND trigger_state = 'TRIGGERED'`,
		positionID, exitExecID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d executing: %w", positionID, ErrInvalidTransition)
	}
	return nil
}

// MarkTriggerFailed records a failed exit attempt: EXECUTING -> FAILED. The
// position stays open and re-enters the watch set.
func (s *Store) MarkTriggerFailed(ctx context.Context, positionID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET trigger_state = 'FAILED', trigger_updated_at = now()
		 WHERE id = $1 AND trigger_state IN ('TRIGGERED','EXECUTING')`,
		positionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d trigger fail: %w", positionID, ErrInvalidTransition)
	}
	return nil
}

// RearmFailedTriggers resets FAILED positions that have sat untouched past
// olderThan back to MONITORING. Non-retryable sell failures park a position in
// FAILED; this gives them another shot once conditions may have changed.
func (s *Store) RearmFailedTriggers(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET
			trigger_state = 'MONITORING',
			status = 'ACTIVE',
			exit_trigger = NULL,
			trigger_price = 0,
			exit_execution_id = NULL,
			trigger_updated_at = now()
		 WHERE trigger_state = 'FAILED' AND status <> 'CLOSED'
		   AND trigger_updated_at < now() - $1::interval`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("rearm failed triggers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetTrigger re-arms a FAILED position: FAILED -> MONITORING, clearing the
// claimed trigger so any condition can fire again.
func (s *Store) ResetTrigger(ctx context.Context, positionID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET
			trigger_state = 'MONITORING',
			status = 'ACTIVE',
			exit_trigger = NULL,
			trigger_price = 0,
			exit_execution_id = NULL,
			trigger_updated_at = now()
		 WHERE id = $1 AND trigger_state = 'FAILED' AND status <> 'CLOSED'`,
		positionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d reset: %w", positionID, ErrInvalidTransition)
	}
	return nil
}

// PositionClose carries the final exit facts for ClosePosition.
type PositionClose struct {
	ExitTxSig      string
	ExitPrice      float64
	RealizedPnlSol float64
	RealizedPnlPct float64
}

// ClosePosition completes a full exit: EXECUTING -> COMPLETED, status CLOSED.
func (s *Store) ClosePosition(ctx context.Context, positionID int64, c PositionClose) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET
			trigger_state = 'COMPLETED',
			status = 'CLOSED',
			lifecycle_state = 'CLOSED',
			exit_tx_sig = $2,
			exit_price = $3,
			realized_pnl_sol = $4,
			realized_pnl_pct = $5,
			trigger_updated_at = now(),
			closed_at = now()
		 WHERE id = $1 AND trigger_state = 'EXECUTING'`,
		positionID, c.ExitTxSig, c.ExitPrice, c.RealizedPnlSol, c.RealizedPnlPct,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d close: %w", positionID, ErrInvalidTransition)
	}
	return nil
}

// ReducePosition completes a partial exit that leaves a moon bag: size shrinks
// to remainingTokens and the trigger machine re-arms so the remainder keeps
// being monitored. Realized PnL accumulates.
func (s *Store) ReducePosition(ctx context.Context, positionID int64, remainingTokens int64, c PositionClose) error {
	if remainingTokens <= 0 {
		return errors.New("store: reduce requires a positive remainder")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET
			size_tokens = $2,
			trigger_state = 'MONITORING',
			status = 'ACTIVE',
			exit_trigger = NULL,
			trigger_price = 0,
			exit_execution_id = NULL,
			trigger_updated_at = now(),
			exit_tx_sig = $3,
			exit_price = $4,
			realized_pnl_sol = realized_pnl_sol + $5,
			realized_pnl_pct = $6
		 WHERE id = $1 AND trigger_state = 'EXECUTING'`,
		positionID, remainingTokens, c.ExitTxSig, c.ExitPrice, c.RealizedPnlSol, c.RealizedPnlPct,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d reduce: %w", positionID, ErrInvalidTransition)
	}
	return nil
}

// SetLifecycle flips the router selector, e.g. on graduation.
func (s *Store) SetLifecycle(ctx context.Context, positionID int64, state LifecycleState) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE positions SET lifecycle_state = $2 WHERE id = $1`, positionID, state)
	return err
}

// OpenPositionsForUser lists a user's non-closed positions, newest first.
func (s *Store) OpenPositionsForUser(ctx context.Context, userID int64) ([]*Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND status <> 'CLOSED'
		 ORDER BY opened_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// StalePriceCount reports how many watched positions have not seen a price in
// the given window. Used as a monitor health signal.
func (s *Store) StalePriceCount(ctx context.Context, olderThan time.Duration) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions
		 WHERE status <> 'CLOSED' AND trigger_state = 'MONITORING'
		   AND price_updated_at < now() - $1::interval`,
		olderThan,
	).Scan(&n)
	return n, err
}

const positionColumns = `id, uuid_id, user_id, strategy_id, candidate_id, chain, token_mint,
	token_symbol, token_name, entry_execution_id, entry_tx_sig, entry_cost_sol, entry_price,
	size_tokens, current_price, peak_price, trailing_stop_price, tp_price, sl_price,
	trail_activation_price, trail_distance_pct, max_hold_minutes, moon_bag_percent, bonding_curve,
	entry_mc_sol, lifecycle_state, status, trigger_state, exit_trigger, trigger_price,
	exit_execution_id, exit_tx_sig, exit_price, realized_pnl_sol, realized_pnl_pct,
	opened_at, price_updated_at, closed_at`

func scanPosition(row pgx.Row) (*Position, error) {
	var p Position
	err := row.Scan(
		&p.ID, &p.UUID, &p.UserID, &p.StrategyID, &p.CandidateID, &p.Chain,
		&p.TokenMint, &p.TokenSymbol, &p.TokenName, &p.EntryExecutionID,
		&p.EntryTxSig, &p.EntryCostSol, &p.EntryPrice, &p.SizeTokens,
		&p.CurrentPrice, &p.PeakPrice, &p.TrailingStop, &p.TPPrice, &p.SLPrice,
		&p.TrailActivation, &p.TrailDistancePct, &p.MaxHoldMinutes, &p.MoonBagPercent,
		&p.BondingCurve, &p.EntryMcSol, &p.Lifecycle, &p.Status, &p.TriggerState,
		&p.ExitTrigger, &p.TriggerPrice, &p.ExitExecutionID, &p.ExitTxSig,
		&p.ExitPrice, &p.RealizedPnlSol, &p.RealizedPnlPct, &p.OpenedAt,
		&p.PriceUpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
