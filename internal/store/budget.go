package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Denial reason codes returned by ReserveTradeBudget. These map onto the
// user-facing error taxonomy; the budget gate translates them.
const (
	ReasonAlreadyExecuted = "already_executed"
	ReasonTradingPaused   = "trading_paused"
	ReasonCircuitOpen     = "circuit_open"
	ReasonCapExceeded     = "cap_exceeded"
	ReasonCooldown        = "cooldown"
)

// BudgetRequest carries everything ReserveTradeBudget needs to decide and to
// create the RESERVED execution row.
type BudgetRequest struct {
	Mode           ExecMode
	UserID         int64
	StrategyID     int64
	Chain          Chain
	Action         Action
	TokenMint      string
	Deployer       string
	AmountSol      float64
	IdempotencyKey string
	AllowRetry     bool
}

// BudgetResult is the gate's verdict.
type BudgetResult struct {
	Allowed     bool
	Reason      string
	ReasonCode  string
	ExecutionID int64
}

// ReserveTradeBudget enforces idempotency, global safety, strategy caps and
// cooldowns in a single transaction, inserting the RESERVED execution row on
// success. It is the only place budget decisions are made.
func (s *Store) ReserveTradeBudget(ctx context.Context, req BudgetRequest) (*BudgetResult, error) {
	var res BudgetResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// (a) Idempotency: an existing non-FAILED row means this trade already
		// happened (or is happening). A FAILED row may be reused for retry.
		var existingID int64
		var existingStatus ExecStatus
		err := tx.QueryRow(ctx,
			`SELECT id, status FROM executions WHERE idempotency_key = $1 FOR UPDATE`,
			req.IdempotencyKey,
		).Scan(&existingID, &existingStatus)
		switch {
		case err == nil:
			if existingStatus == ExecFailed && req.AllowRetry {
				if _, err := tx.Exec(ctx,
					`UPDATE executions
					 SET status = 'RESERVED', error = '', error_code = '', updated_at = now()
					 WHERE id = $1`, existingID); err != nil {
					return err
				}
				res = BudgetResult{Allowed: true, ExecutionID: existingID}
				return nil
			}
			res = BudgetResult{
				Allowed:     false,
				Reason:      "Already executed",
				ReasonCode:  ReasonAlreadyExecuted,
				ExecutionID: existingID,
			}
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			// fall through to the gate checks
		default:
			return err
		}

		// (b) Global safety.
		var paused bool
		var circuitUntil *time.Time
		if err := tx.QueryRow(ctx,
			`SELECT trading_paused, circuit_open_until FROM safety_controls WHERE scope = 'GLOBAL'`,
		).Scan(&paused, &circuitUntil); err != nil {
			return fmt.Errorf("read safety controls: %w", err)
		}
		if paused {
			res = BudgetResult{Allowed: false, Reason: "Trading is paused", ReasonCode: ReasonTradingPaused}
			return nil
		}
		if circuitUntil != nil && circuitUntil.After(time.Now()) {
			res = BudgetResult{Allowed: false, Reason: "Circuit breaker open", ReasonCode: ReasonCircuitOpen}
			return nil
		}

		// (c) Strategy caps, only meaningful for BUYs: sells release exposure.
		if req.Action == ActionBuy {
			var maxPositions int
			var perTradeCap, dailyCap, exposureCap float64
			if err := tx.QueryRow(ctx,
				`SELECT max_positions, per_trade_cap_sol, daily_cap_sol, max_open_exposure_sol
				 FROM strategies WHERE id = $1`, req.StrategyID,
			).Scan(&maxPositions, &perTradeCap, &dailyCap, &exposureCap); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("strategy %d: %w", req.StrategyID, ErrNotFound)
				}
				return err
			}

			if perTradeCap > 0 && req.AmountSol > perTradeCap {
				res = denied(fmt.Sprintf("Per-trade cap %.4f SOL exceeded", perTradeCap))
				return nil
			}

			var openCount int
			var openExposure float64
			if err := tx.QueryRow(ctx,
				`SELECT COUNT(*), COALESCE(SUM(entry_cost_sol), 0)
				 FROM positions
				 WHERE user_id = $1 AND chain = $2 AND status <> 'CLOSED'`,
				req.UserID, req.Chain,
			).Scan(&openCount, &openExposure); err != nil {
				return err
			}
			if maxPositions > 0 && openCount >= maxPositions {
				res = denied(fmt.Sprintf("Max positions (%d) reached", maxPositions))
				return nil
			}
			if exposureCap > 0 && openExposure+req.AmountSol > exposureCap {
				res = denied(fmt.Sprintf("Open exposure cap %.4f SOL exceeded", exposureCap))
				return nil
			}

			var dailySpend float64
			if err := tx.QueryRow(ctx,
				`SELECT COALESCE(SUM(amount_sol), 0)
				 FROM executions
				 WHERE user_id = $1 AND action = 'BUY' AND status <> 'FAILED'
				   AND created_at > now() - interval '24 hours'`,
				req.UserID,
			).Scan(&dailySpend); err != nil {
				return err
			}
			if dailyCap > 0 && dailySpend+req.AmountSol > dailyCap {
				res = denied(fmt.Sprintf("Daily cap %.4f SOL exceeded", dailyCap))
				return nil
			}
		}

		// (d) Cooldowns: mint, (user, mint) pair, deployer.
		userMint := fmt.Sprintf("%d:%s", req.UserID, req.TokenMint)
		var onCooldown bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM cooldowns
				WHERE chain = $1 AND cooldown_until > now()
				  AND ((kind = 'MINT' AND target = $2)
				    OR (kind = 'USER_MINT' AND target = $3)
				    OR (kind = 'DEPLOYER' AND target = $4 AND $4 <> '')))`,
			req.Chain, req.TokenMint, userMint, req.Deployer,
		).Scan(&onCooldown); err != nil {
			return err
		}
		if onCooldown {
			res = BudgetResult{Allowed: false, Reason: "Cooldown active", ReasonCode: ReasonCooldown}
			return nil
		}

		// (e) Reserve.
		var execID int64
		err = tx.QueryRow(ctx,
			`INSERT INTO executions (idempotency_key, user_id, mint, action, mode, amount_sol, status)
			 VALUES ($1, $2, $3, $4, $5, $6, 'RESERVED')
			 RETURNING id`,
			req.IdempotencyKey, req.UserID, req.TokenMint, req.Action, req.Mode, req.AmountSol,
		).Scan(&execID)
		if err != nil {
			if isUniqueViolation(err, "") {
				// Lost a race with a concurrent reservation of the same key.
				res = BudgetResult{Allowed: false, Reason: "Already executed", ReasonCode: ReasonAlreadyExecuted}
				return nil
			}
			return err
		}

		res = BudgetResult{Allowed: true, ExecutionID: execID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func denied(reason string) BudgetResult {
	return BudgetResult{Allowed: false, Reason: reason, ReasonCode: ReasonCapExceeded}
}
