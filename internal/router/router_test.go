package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactorySelection(t *testing.T) {
	curve := NewCurveRouter("http://localhost/trade", nil)
	agg := NewAggregatorRouter("http://localhost/swap", nil, 0, nil)
	f := NewFactory(curve, agg)

	tests := []struct {
		name   string
		intent SwapIntent
		want   string
	}{
		{"pre-graduation goes to curve", SwapIntent{Lifecycle: "PRE_GRADUATION"}, "curve"},
		{"curve pubkey goes to curve", SwapIntent{Lifecycle: "POST_GRADUATION", BondingCurve: "CurvePk"}, "curve"},
		{"post-graduation goes to aggregator", SwapIntent{Lifecycle: "POST_GRADUATION"}, "aggregator"},
		{"no hints goes to aggregator", SwapIntent{}, "aggregator"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.Select(tc.intent).Name())
		})
	}
}

func TestRawSellAmountDustRule(t *testing.T) {
	const balance = uint64(1_000_000)

	assert.Equal(t, uint64(500_000), RawSellAmount(balance, 50))
	assert.Equal(t, uint64(940_000), RawSellAmount(balance, 94))

	// At or above 95% the whole balance goes, no stranded dust.
	assert.Equal(t, balance, RawSellAmount(balance, 95))
	assert.Equal(t, balance, RawSellAmount(balance, 99.5))
	assert.Equal(t, balance, RawSellAmount(balance, 100))

	assert.Equal(t, uint64(0), RawSellAmount(balance, 0))
	assert.Equal(t, uint64(0), RawSellAmount(0, 100))
}

func TestRawSellAmountExactSkipsDustRule(t *testing.T) {
	const balance = uint64(1_000_000)

	// A 3% moon bag sells 97%: the dust rule would take everything, the
	// exact conversion leaves the bag behind.
	assert.Equal(t, balance, RawSellAmount(balance, 97))
	assert.Equal(t, uint64(970_000), RawSellAmountExact(balance, 97))

	assert.Equal(t, balance, RawSellAmountExact(balance, 100))
	assert.Equal(t, uint64(0), RawSellAmountExact(balance, 0))
	assert.Equal(t, uint64(0), RawSellAmountExact(0, 50))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       string
		want      string
		retryable bool
	}{
		{"Blockhash not found", CodeBlockhashExpired, true},
		{"block height exceeded", CodeBlockhashExpired, true},
		{"HTTP 429 Too Many Requests", CodeRPCRateLimited, true},
		{"rate limit exceeded", CodeRPCRateLimited, true},
		{"i/o timeout", CodeRPCTimeout, true},
		{"slot was skipped", CodeSlotDropped, true},
		{"connection refused", CodeNetworkError, true},
		{"Transfer: insufficient lamports 100, need 200", CodeInsufficientFunds, false},
		{"custom program error: ExceededSlippage", CodeSlippageExceeded, false},
		{"custom program error: 0x1771", CodeSlippageExceeded, false},
		{"AccountNotFound", CodeInvalidAccount, false},
		{"Account is frozen", CodeTokenFrozen, false},
		{"Transaction simulation failed: oops", CodeSimulationFailed, false},
		{"something entirely novel", CodeProgramError, false},
	}
	for _, tc := range tests {
		t.Run(tc.err, func(t *testing.T) {
			code := Classify(errors.New(tc.err))
			assert.Equal(t, tc.want, code)
			assert.Equal(t, tc.retryable, IsRetryableCode(code))
		})
	}
	assert.Empty(t, Classify(nil))
}

func TestUserMessageCoversRetryableCodes(t *testing.T) {
	for code := range retryableCodes {
		assert.NotEqual(t, "Trade failed", UserMessage(code), "code %s needs a dedicated message", code)
	}
}

func TestDecodeCurveState(t *testing.T) {
	data := make([]byte, curveAccountMinLen)
	// discriminator 8 bytes, then little-endian u64 reserves
	putU64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			data[8+off+i] = byte(v >> (8 * i))
		}
	}
	putU64(0, 1_000_000_000_000) // virtual token
	putU64(8, 30_000_000_000)    // virtual sol
	putU64(16, 800_000_000_000)
	putU64(24, 0)
	putU64(32, 1_000_000_000_000)
	data[8+40] = 0

	state, err := DecodeCurveState(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000_000), state.VirtualTokenReserves)
	assert.Equal(t, uint64(30_000_000_000), state.VirtualSolReserves)
	assert.False(t, state.Complete)

	_, err = DecodeCurveState(data[:10])
	assert.Error(t, err)
}

func TestCurvePricing(t *testing.T) {
	state := &CurveState{
		VirtualTokenReserves: 1_000_000_000_000, // 1M tokens at 6 decimals
		VirtualSolReserves:   30_000_000_000,    // 30 SOL
	}

	// 30 SOL / 1M tokens = 0.00003 SOL per token
	price := state.PriceSOL()
	assert.InDelta(t, 0.00003, price.InexactFloat64(), 1e-9)

	// Buying with 3 SOL (10% of pool) yields just under 10% of tokens.
	out := state.TokensOutForSol(3_000_000_000)
	assert.Greater(t, out, uint64(0))
	assert.Less(t, out, uint64(100_000_000_000))
	assert.Greater(t, out, uint64(90_000_000_000))

	// Round trip can never profit.
	back := (&CurveState{
		VirtualTokenReserves: state.VirtualTokenReserves - out,
		VirtualSolReserves:   state.VirtualSolReserves + 3_000_000_000,
	}).SolOutForTokens(out)
	assert.LessOrEqual(t, back, uint64(3_000_000_000))

	assert.Equal(t, uint64(0), state.TokensOutForSol(0))
	assert.Equal(t, uint64(0), (&CurveState{}).TokensOutForSol(100))
}
