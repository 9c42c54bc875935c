package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"raptor/internal/store"
)

func basePosition() *store.Position {
	return &store.Position{
		EntryPrice:       0.001,
		PeakPrice:        0.001,
		TPPrice:          0.002,  // +100%
		SLPrice:          0.0005, // -50%
		TrailActivation:  0.0015, // +50%
		TrailDistancePct: 20,
		MaxHoldMinutes:   60,
		OpenedAt:         time.Now(),
	}
}

func TestEvaluateTriggerTP(t *testing.T) {
	p := basePosition()
	now := time.Now()

	assert.Equal(t, store.Trigger(""), EvaluateTrigger(p, 0.0019, now))
	assert.Equal(t, store.TriggerTP, EvaluateTrigger(p, 0.002, now), "TP is inclusive")
	assert.Equal(t, store.TriggerTP, EvaluateTrigger(p, 0.01, now))
}

func TestEvaluateTriggerSL(t *testing.T) {
	p := basePosition()
	now := time.Now()

	assert.Equal(t, store.TriggerSL, EvaluateTrigger(p, 0.0005, now), "SL is inclusive")
	assert.Equal(t, store.TriggerSL, EvaluateTrigger(p, 0.0001, now))
	assert.Equal(t, store.Trigger(""), EvaluateTrigger(p, 0.00051, now))
}

func TestEvaluateTriggerTPBeatsSLWhenBothConfiguredDegenerate(t *testing.T) {
	// A degenerate config where both bounds would match must resolve to TP.
	p := basePosition()
	p.TPPrice = 0.0004
	now := time.Now()
	assert.Equal(t, store.TriggerTP, EvaluateTrigger(p, 0.00045, now))
}

func TestEvaluateTriggerTrail(t *testing.T) {
	p := basePosition()
	now := time.Now()

	// Peak below activation: trail is dormant even on a deep pullback.
	p.PeakPrice = 0.0014
	assert.Equal(t, store.Trigger(""), EvaluateTrigger(p, 0.00112, now))

	// Peak exactly at activation and price exactly at the stop: fires.
	p.PeakPrice = 0.0015
	stop := p.PeakPrice * (1 - p.TrailDistancePct/100)
	assert.Equal(t, store.TriggerTrail, EvaluateTrigger(p, stop, now))
	assert.Equal(t, store.Trigger(""), EvaluateTrigger(p, stop+1e-9, now))
}

func TestEvaluateTriggerTrailDisabled(t *testing.T) {
	p := basePosition()
	p.TrailActivation = 0
	p.PeakPrice = 0.01 // way past any activation
	assert.Equal(t, store.Trigger(""), EvaluateTrigger(p, 0.0006, time.Now()))
}

func TestEvaluateTriggerMaxHold(t *testing.T) {
	p := basePosition()
	p.OpenedAt = time.Now().Add(-61 * time.Minute)

	// Price is quiet; only the clock fires.
	assert.Equal(t, store.TriggerMaxHold, EvaluateTrigger(p, 0.001, time.Now()))

	// Price triggers still win over the clock.
	assert.Equal(t, store.TriggerTP, EvaluateTrigger(p, 0.002, time.Now()))

	p.MaxHoldMinutes = 0
	assert.Equal(t, store.Trigger(""), EvaluateTrigger(p, 0.001, time.Now()))
}

func TestTrailStopPrice(t *testing.T) {
	p := basePosition()
	assert.Zero(t, TrailStopPrice(p), "dormant below activation")

	p.PeakPrice = 0.002
	assert.InDelta(t, 0.0016, TrailStopPrice(p), 1e-12)
}

func TestSellPercentFor(t *testing.T) {
	assert.Equal(t, 85.0, SellPercentFor(store.TriggerTP, 15))
	assert.Equal(t, 100.0, SellPercentFor(store.TriggerTP, 0))
	assert.Equal(t, 100.0, SellPercentFor(store.TriggerTP, 100))
	assert.Equal(t, 100.0, SellPercentFor(store.TriggerSL, 15), "moon bag only applies to TP")
	assert.Equal(t, 100.0, SellPercentFor(store.TriggerEmergency, 15))
}

func TestRawExitAmountKeepsSmallMoonBag(t *testing.T) {
	const balance = uint64(1_000_000)

	// A 3% moon bag sells 97% exactly; the dust rounding must not swallow
	// the bag into a full sell.
	pct := SellPercentFor(store.TriggerTP, 3)
	assert.Equal(t, 97.0, pct)
	assert.Equal(t, uint64(970_000), rawExitAmount(balance, store.TriggerTP, pct))

	// Everything else keeps the dust rule: at or above 95% the whole
	// balance goes.
	assert.Equal(t, balance, rawExitAmount(balance, store.TriggerSL, 100))
	assert.Equal(t, balance, rawExitAmount(balance, store.TriggerManual, 97))
	assert.Equal(t, uint64(500_000), rawExitAmount(balance, store.TriggerManual, 50))
}

func TestIdempotencyKeysDeterministic(t *testing.T) {
	k1 := ExitIdempotencyKey(store.ChainSolana, "MintA", 7, store.TriggerTP, 85)
	k2 := ExitIdempotencyKey(store.ChainSolana, "MintA", 7, store.TriggerTP, 85)
	assert.Equal(t, k1, k2)

	assert.NotEqual(t, k1, ExitIdempotencyKey(store.ChainSolana, "MintA", 7, store.TriggerSL, 85))
	assert.NotEqual(t, k1, ExitIdempotencyKey(store.ChainSolana, "MintA", 7, store.TriggerTP, 100))
	assert.NotEqual(t, k1, ExitIdempotencyKey(store.ChainSolana, "MintA", 8, store.TriggerTP, 85))

	e1 := EntryIdempotencyKey(1, 2, "MintA")
	assert.Equal(t, e1, EntryIdempotencyKey(1, 2, "MintA"))
	assert.NotEqual(t, e1, EntryIdempotencyKey(1, 3, "MintA"))
}
