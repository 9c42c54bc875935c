package router

import (
	"context"
	"time"

	"raptor/internal/blockchain"
	"raptor/internal/store"
)

// Side is the swap direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SwapIntent describes one desired swap before routing.
type SwapIntent struct {
	Chain        store.Chain
	Mint         string
	Side         Side
	AmountRaw    uint64 // lamports for BUY, token base units for SELL
	SlippageBps  int
	UserPubkey   string
	BondingCurve string
	Lifecycle    store.LifecycleState
	PositionID   int64
}

// SwapQuote is a priced route for an intent.
type SwapQuote struct {
	ExpectedOutput       uint64
	MinOutput            uint64
	PriceImpactPct       float64
	Route                string
	QuotedAt             time.Time
	ExpiresAt            time.Time
	LastValidBlockHeight uint64

	// Router-private payload carried from quote to build.
	raw interface{}
}

// UnsignedTx is a serialized transaction awaiting the payer signature. The
// originating intent rides along so Execute can verify actual output.
type UnsignedTx struct {
	SerializedBase64     string
	LastValidBlockHeight uint64
	Intent               SwapIntent
}

// ExecOptions tune a single execution.
type ExecOptions struct {
	UseAntiMEV           bool
	PriorityFeeLamports  uint64
	ConfirmTimeout       time.Duration
	LastValidBlockHeight uint64
}

// SwapResult is the outcome of one executed swap. ActualOutput comes from
// on-chain observation, never from the quote.
type SwapResult struct {
	Success      bool
	Signature    string
	ActualInput  uint64
	ActualOutput uint64
	Err          error
	ErrorCode    string
	Router       string
}

// Signer signs serialized transactions as the fee payer.
type Signer interface {
	SignSerializedTransaction(serializedTxBase64 string) (string, error)
}

// SwapRouter is the venue abstraction. Every swap walks quote, build,
// execute in order.
type SwapRouter interface {
	Name() string
	CanHandle(intent SwapIntent) bool
	Quote(ctx context.Context, intent SwapIntent) (*SwapQuote, error)
	BuildTx(ctx context.Context, quote *SwapQuote, intent SwapIntent) (*UnsignedTx, error)
	Execute(ctx context.Context, tx *UnsignedTx, signer Signer, opts ExecOptions) (*SwapResult, error)
}

// Factory hands out the router for an intent: the bonding-curve router while
// the token is pre-graduation (or a curve pubkey is known), the aggregator
// after.
type Factory struct {
	curve      *CurveRouter
	aggregator *AggregatorRouter
}

// NewFactory wires the two routers.
func NewFactory(curve *CurveRouter, aggregator *AggregatorRouter) *Factory {
	return &Factory{curve: curve, aggregator: aggregator}
}

// Select returns the router for an intent.
func (f *Factory) Select(intent SwapIntent) SwapRouter {
	if f.curve != nil && f.curve.CanHandle(intent) {
		return f.curve
	}
	return f.aggregator
}

// DefaultConfirmTimeout bounds Execute when the caller does not override it.
const DefaultConfirmTimeout = 30 * time.Second

// dustThresholdPercent: a sell at or above this percent takes the whole
// balance so no unsellable remainder is stranded.
const dustThresholdPercent = 95.0

// RawSellAmount converts a sell percent into raw base units of the current
// on-chain balance, applying the dust rule.
func RawSellAmount(balanceRaw uint64, sellPercent float64) uint64 {
	if sellPercent <= 0 || balanceRaw == 0 {
		return 0
	}
	if sellPercent >= dustThresholdPercent {
		return balanceRaw
	}
	return uint64(float64(balanceRaw) * sellPercent / 100.0)
}

// RawSellAmountExact converts a sell percent without the dust rounding.
// Partial exits that must leave a remainder behind, like a moon bag, use
// this so a small slice is not swallowed into a full sell.
func RawSellAmountExact(balanceRaw uint64, sellPercent float64) uint64 {
	if sellPercent <= 0 || balanceRaw == 0 {
		return 0
	}
	if sellPercent >= 100 {
		return balanceRaw
	}
	return uint64(float64(balanceRaw) * sellPercent / 100.0)
}

// confirmBounded waits for a signature with both a timeout and the last valid
// block height guard. Either bound missing returns an error that classifies
// as BLOCKHASH_EXPIRED so callers retry with a fresh transaction instead of
// waiting forever.
func confirmBounded(ctx context.Context, rpc *blockchain.RPCClient, signature string, timeout time.Duration, lastValidBlockHeight uint64) error {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return rpc.ConfirmSignature(confirmCtx, signature, lastValidBlockHeight)
}

// confirmGuardHeight picks the execution-time override when set, falling back
// to the height captured with the transaction's blockhash.
func confirmGuardHeight(tx *UnsignedTx, opts ExecOptions) uint64 {
	if opts.LastValidBlockHeight > 0 {
		return opts.LastValidBlockHeight
	}
	return tx.LastValidBlockHeight
}
