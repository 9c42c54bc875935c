package trading

import (
	"fmt"
	"time"

	"raptor/internal/router"
	"raptor/internal/store"
)

// EvaluateTrigger decides whether a position should exit at the given price.
// First match wins, in a fixed order: TP, SL, TRAIL, MAXHOLD. TP and SL
// compare against the immutable thresholds fixed at entry; TRAIL needs the
// monotone peak; MAXHOLD is the fallback when no price condition fires.
//
// The peak passed in must already include the current price (the monitor
// raises it before evaluating). Returns "" when nothing fires.
func EvaluateTrigger(p *store.Position, price float64, now time.Time) store.Trigger {
	if p.TPPrice > 0 && price >= p.TPPrice {
		return store.TriggerTP
	}
	if p.SLPrice > 0 && price <= p.SLPrice {
		return store.TriggerSL
	}
	if p.TrailActivation > 0 && p.TrailDistancePct > 0 && p.PeakPrice >= p.TrailActivation {
		stop := p.PeakPrice * (1 - p.TrailDistancePct/100)
		if price <= stop {
			return store.TriggerTrail
		}
	}
	if p.MaxHoldMinutes > 0 && now.Sub(p.OpenedAt) >= time.Duration(p.MaxHoldMinutes)*time.Minute {
		return store.TriggerMaxHold
	}
	return ""
}

// TrailStopPrice returns the current trailing stop for display, or 0 while
// the trail is not yet armed.
func TrailStopPrice(p *store.Position) float64 {
	if p.TrailActivation <= 0 || p.TrailDistancePct <= 0 || p.PeakPrice < p.TrailActivation {
		return 0
	}
	return p.PeakPrice * (1 - p.TrailDistancePct/100)
}

// SellPercentFor converts a trigger into the fraction of the position to
// sell. A TP with a configured moon bag leaves that slice riding; every
// other exit liquidates fully.
func SellPercentFor(trigger store.Trigger, moonBagPercent float64) float64 {
	if trigger == store.TriggerTP && moonBagPercent > 0 && moonBagPercent < 100 {
		return 100 - moonBagPercent
	}
	return 100
}

// rawExitAmount converts a trigger's sell percent into base units. A TP that
// leaves a moon bag skips the dust rounding, otherwise a bag under 5% would
// round into a full sell and be destroyed.
func rawExitAmount(balance uint64, trigger store.Trigger, sellPercent float64) uint64 {
	if trigger == store.TriggerTP && sellPercent < 100 {
		return router.RawSellAmountExact(balance, sellPercent)
	}
	return router.RawSellAmount(balance, sellPercent)
}

// ExitIdempotencyKey is deterministic so a re-observed trigger cannot double
// a sell: retries of the same exit collide on the executions unique key.
func ExitIdempotencyKey(chain store.Chain, mint string, positionID int64, trigger store.Trigger, sellPercent float64) string {
	return fmt.Sprintf("exit:%s:%s:%d:%s:%.2f", chain, mint, positionID, trigger, sellPercent)
}

// EntryIdempotencyKey dedupes auto buys: one BUY per (user, strategy, mint).
func EntryIdempotencyKey(userID, strategyID int64, mint string) string {
	return fmt.Sprintf("entry:%d:%d:%s:BUY", userID, strategyID, mint)
}
