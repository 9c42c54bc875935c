package trading

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"raptor/internal/audit"
	"raptor/internal/notify"
	"raptor/internal/router"
	"raptor/internal/store"
)

// Gate fronts ReserveTradeBudget. All budget, cooldown, pause and idempotency
// decisions happen inside the store RPC; the gate only translates denials
// into the user-facing taxonomy and notifies on terminal ones.
type Gate struct {
	store *store.Store
	audit *audit.Log
}

func NewGate(s *store.Store) *Gate {
	return &Gate{store: s}
}

// SetAudit attaches the local audit trail. Safety denials (pause, circuit)
// get recorded there in addition to the worker log.
func (g *Gate) SetAudit(l *audit.Log) {
	g.audit = l
}

// DenialCode maps a budget denial reason onto the trade error taxonomy.
// ReasonAlreadyExecuted maps to empty: it is a silent dedupe, not an error.
func DenialCode(reason string) string {
	switch reason {
	case store.ReasonTradingPaused:
		return router.CodeTradingPaused
	case store.ReasonCircuitOpen:
		return router.CodeCircuitOpen
	case store.ReasonCapExceeded:
		return router.CodeBudgetExceeded
	case store.ReasonCooldown:
		return router.CodeCooldownActive
	case store.ReasonAlreadyExecuted:
		return ""
	default:
		return router.CodeBudgetExceeded
	}
}

// Reserve runs the budget gate. On an allowed trade it returns the RESERVED
// execution id. On denial it returns (nil-allowed) result; when notifyUser is
// set, terminal denials (everything but already-executed and cooldown) emit
// one outbox notification.
func (g *Gate) Reserve(ctx context.Context, req store.BudgetRequest, notifyUser bool) (*store.BudgetResult, error) {
	res, err := g.store.ReserveTradeBudget(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("reserve budget: %w", err)
	}
	if res.Allowed {
		return res, nil
	}

	code := DenialCode(res.ReasonCode)
	log.Debug().
		Int64("user", req.UserID).
		Str("mint", req.TokenMint).
		Str("reason", res.ReasonCode).
		Msg("budget gate denied trade")

	if g.audit != nil {
		switch res.ReasonCode {
		case store.ReasonTradingPaused:
			g.audit.Record(audit.EventTradingPaused, req.UserID, string(req.Chain),
				map[string]string{"mint": req.TokenMint})
		case store.ReasonCircuitOpen:
			g.audit.Record(audit.EventCircuitOpen, req.UserID, string(req.Chain),
				map[string]string{"mint": req.TokenMint})
		}
	}

	// Cooldowns resolve on their own and dedupe hits are expected; neither
	// warrants a message.
	if notifyUser && code != "" && code != router.CodeCooldownActive {
		payload := notify.Marshal(notify.TradePayload{
			Chain:     req.Chain,
			Mint:      req.TokenMint,
			Action:    req.Action,
			AmountSol: req.AmountSol,
			ErrorCode: code,
			Message:   router.UserMessage(code),
		})
		if err := g.store.EnqueueNotification(ctx, nil, req.UserID, notify.TypeTradeFailed, payload); err != nil {
			log.Error().Err(err).Int64("user", req.UserID).Msg("failed to enqueue denial notification")
		}
	}
	return res, nil
}
