package router

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"raptor/internal/blockchain"
)

// CurveState is the decoded bonding-curve account. Reserves are raw base
// units: token side uses 6 decimals, SOL side lamports.
type CurveState struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

const curveAccountMinLen = 8 + 8*5 + 1 // discriminator + five u64 + complete flag

// DecodeCurveState parses a bonding-curve account's raw data.
func DecodeCurveState(data []byte) (*CurveState, error) {
	if len(data) < curveAccountMinLen {
		return nil, fmt.Errorf("curve account too short: %d bytes", len(data))
	}
	body := data[8:] // skip anchor discriminator
	return &CurveState{
		VirtualTokenReserves: binary.LittleEndian.Uint64(body[0:8]),
		VirtualSolReserves:   binary.LittleEndian.Uint64(body[8:16]),
		RealTokenReserves:    binary.LittleEndian.Uint64(body[16:24]),
		RealSolReserves:      binary.LittleEndian.Uint64(body[24:32]),
		TokenTotalSupply:     binary.LittleEndian.Uint64(body[32:40]),
		Complete:             body[40] != 0,
	}, nil
}

// PriceSOL returns the spot price in SOL per whole token from the virtual
// reserves. Token base units carry 6 decimals, SOL carries 9.
func (s *CurveState) PriceSOL() decimal.Decimal {
	if s.VirtualTokenReserves == 0 {
		return decimal.Zero
	}
	sol := decimal.NewFromUint64(s.VirtualSolReserves).Shift(-9)
	tokens := decimal.NewFromUint64(s.VirtualTokenReserves).Shift(-6)
	return sol.Div(tokens)
}

// TokensOutForSol prices a buy on the constant-product curve: lamports in,
// token base units out.
func (s *CurveState) TokensOutForSol(lamportsIn uint64) uint64 {
	if lamportsIn == 0 || s.VirtualTokenReserves == 0 {
		return 0
	}
	vSol := decimal.NewFromUint64(s.VirtualSolReserves)
	vTok := decimal.NewFromUint64(s.VirtualTokenReserves)
	in := decimal.NewFromUint64(lamportsIn)

	// k = vSol * vTok; out = vTok - k/(vSol+in)
	k := vSol.Mul(vTok)
	newTok := k.Div(vSol.Add(in))
	out := vTok.Sub(newTok)
	if out.IsNegative() {
		return 0
	}
	return uint64(out.IntPart())
}

// SolOutForTokens prices a sell: token base units in, lamports out.
func (s *CurveState) SolOutForTokens(tokensIn uint64) uint64 {
	if tokensIn == 0 || s.VirtualSolReserves == 0 {
		return 0
	}
	vSol := decimal.NewFromUint64(s.VirtualSolReserves)
	vTok := decimal.NewFromUint64(s.VirtualTokenReserves)
	in := decimal.NewFromUint64(tokensIn)

	k := vSol.Mul(vTok)
	newSol := k.Div(vTok.Add(in))
	out := vSol.Sub(newSol)
	if out.IsNegative() {
		return 0
	}
	return uint64(out.IntPart())
}

// CurveRouter trades tokens still on their bonding curve: prices come from
// on-chain curve reserves and the transaction is built by the local trade
// endpoint, signed here and submitted through our own RPC.
type CurveRouter struct {
	tradeURL   string
	httpClient *http.Client
	rpc        *blockchain.RPCClient
}

// NewCurveRouter creates the bonding-curve router.
func NewCurveRouter(tradeURL string, rpc *blockchain.RPCClient) *CurveRouter {
	return &CurveRouter{
		tradeURL: tradeURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rpc: rpc,
	}
}

// Name implements SwapRouter.
func (r *CurveRouter) Name() string { return "curve" }

// CanHandle claims intents for pre-graduation tokens or any intent carrying a
// curve pubkey.
func (r *CurveRouter) CanHandle(intent SwapIntent) bool {
	return intent.Lifecycle == "PRE_GRADUATION" || intent.BondingCurve != ""
}

// Quote prices the intent against the live curve reserves.
func (r *CurveRouter) Quote(ctx context.Context, intent SwapIntent) (*SwapQuote, error) {
	if intent.BondingCurve == "" {
		return nil, fmt.Errorf("curve quote requires a bonding curve pubkey")
	}

	info, err := r.rpc.GetAccountInfo(ctx, intent.BondingCurve)
	if err != nil {
		return nil, fmt.Errorf("read curve account: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("curve account %s not found", intent.BondingCurve)
	}

	state, err := DecodeCurveState(info.Data)
	if err != nil {
		return nil, err
	}
	if state.Complete {
		return nil, fmt.Errorf("curve %s already graduated", intent.BondingCurve)
	}

	var expected uint64
	if intent.Side == SideBuy {
		expected = state.TokensOutForSol(intent.AmountRaw)
	} else {
		expected = state.SolOutForTokens(intent.AmountRaw)
	}
	minOut := expected - expected*uint64(intent.SlippageBps)/10000

	priceImpact := 0.0
	if intent.Side == SideBuy && state.VirtualSolReserves > 0 {
		priceImpact = float64(intent.AmountRaw) / float64(state.VirtualSolReserves) * 100
	} else if intent.Side == SideSell && state.VirtualTokenReserves > 0 {
		priceImpact = float64(intent.AmountRaw) / float64(state.VirtualTokenReserves) * 100
	}

	return &SwapQuote{
		ExpectedOutput: expected,
		MinOutput:      minOut,
		PriceImpactPct: priceImpact,
		Route:          "bonding-curve",
		QuotedAt:       time.Now(),
		ExpiresAt:      time.Now().Add(15 * time.Second),
		raw:            state,
	}, nil
}

type curveTradeRequest struct {
	PublicKey        string `json:"publicKey"`
	Action           string `json:"action"`
	Mint             string `json:"mint"`
	Amount           uint64 `json:"amount"`
	DenominatedInSol bool   `json:"denominatedInSol"`
	SlippageBps      int    `json:"slippageBps"`
}

// BuildTx requests a serialized transaction from the local trade endpoint.
// Only construction happens there; signing and submission stay local.
func (r *CurveRouter) BuildTx(ctx context.Context, quote *SwapQuote, intent SwapIntent) (*UnsignedTx, error) {
	action := "buy"
	denominatedInSol := true
	if intent.Side == SideSell {
		action = "sell"
		denominatedInSol = false
	}

	body, err := json.Marshal(curveTradeRequest{
		PublicKey:        intent.UserPubkey,
		Action:           action,
		Mint:             intent.Mint,
		Amount:           intent.AmountRaw,
		DenominatedInSol: denominatedInSol,
		SlippageBps:      intent.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal trade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tradeURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("trade build failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var tradeResp struct {
		Transaction          string `json:"transaction"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tradeResp); err != nil {
		return nil, fmt.Errorf("decode trade response: %w", err)
	}

	return &UnsignedTx{
		SerializedBase64:     tradeResp.Transaction,
		LastValidBlockHeight: tradeResp.LastValidBlockHeight,
		Intent:               intent,
	}, nil
}

// Execute signs, submits and confirms a curve trade, verifying buy output by
// balance delta.
func (r *CurveRouter) Execute(ctx context.Context, tx *UnsignedTx, signer Signer, opts ExecOptions) (*SwapResult, error) {
	result := &SwapResult{Router: r.Name()}

	intent := tx.Intent
	var balanceBefore uint64
	if intent.Side == SideBuy {
		balanceBefore = r.tokenBalance(ctx, intent.UserPubkey, intent.Mint)
	}

	signed, err := signer.SignSerializedTransaction(tx.SerializedBase64)
	if err != nil {
		result.Err = err
		result.ErrorCode = Classify(err)
		return result, nil
	}

	sig, err := r.rpc.SendTransaction(ctx, signed, opts.UseAntiMEV)
	if err != nil {
		result.Err = err
		result.ErrorCode = Classify(err)
		return result, nil
	}
	result.Signature = sig

	if err := confirmBounded(ctx, r.rpc, sig, opts.ConfirmTimeout, confirmGuardHeight(tx, opts)); err != nil {
		result.Err = err
		result.ErrorCode = Classify(err)
		if result.ErrorCode == CodeRPCTimeout {
			result.ErrorCode = CodeBlockhashExpired
		}
		return result, nil
	}

	result.Success = true
	if intent.Side == SideBuy {
		balanceAfter := r.tokenBalance(ctx, intent.UserPubkey, intent.Mint)
		if balanceAfter > balanceBefore {
			result.ActualOutput = balanceAfter - balanceBefore
		}
	}
	return result, nil
}

func (r *CurveRouter) tokenBalance(ctx context.Context, owner, mint string) uint64 {
	accounts, err := r.rpc.GetTokenAccountsByOwner(ctx, owner, mint)
	if err != nil {
		log.Warn().Err(err).Str("mint", mint).Msg("token balance read failed")
		return 0
	}
	var total uint64
	for _, a := range accounts {
		total += a.Amount
	}
	return total
}
