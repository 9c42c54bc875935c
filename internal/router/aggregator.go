package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"

	"raptor/internal/blockchain"
)

// SOLMint is the wrapped SOL mint address.
const SOLMint = "So11111111111111111111111111111111111111112"

// AggregatorRouter swaps through the aggregator's quote/swap API. Used for
// every post-graduation token.
type AggregatorRouter struct {
	baseURL     string
	clientPool  *httpClientPool
	apiKeys     []string
	keyIdx      atomic.Uint32
	maxLamports uint64
	rpc         *blockchain.RPCClient
}

// httpClientPool rotates HTTP/2 clients so concurrent quote and swap calls
// spread across connections.
type httpClientPool struct {
	clients []*http.Client
	mu      sync.Mutex
	idx     uint32
}

func newHTTPClientPool(size int, timeout time.Duration) *httpClientPool {
	pool := &httpClientPool{clients: make([]*http.Client, size)}
	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
		http2.ConfigureTransport(transport)
		pool.clients[i] = &http.Client{Transport: transport, Timeout: timeout}
	}
	return pool
}

func (p *httpClientPool) Get() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	client := p.clients[p.idx%uint32(len(p.clients))]
	p.idx++
	return client
}

// NewAggregatorRouter creates the aggregator router. apiKeys rotate
// round-robin across requests.
func NewAggregatorRouter(baseURL string, apiKeys []string, maxPriorityLamports uint64, rpc *blockchain.RPCClient) *AggregatorRouter {
	if len(apiKeys) == 0 {
		apiKeys = []string{""}
	}
	if maxPriorityLamports == 0 {
		maxPriorityLamports = 1_250_000
	}
	return &AggregatorRouter{
		baseURL:     baseURL,
		clientPool:  newHTTPClientPool(4, 10*time.Second),
		apiKeys:     apiKeys,
		maxLamports: maxPriorityLamports,
		rpc:         rpc,
	}
}

// Name implements SwapRouter.
func (r *AggregatorRouter) Name() string { return "aggregator" }

// CanHandle accepts anything: the aggregator is the fallback venue.
func (r *AggregatorRouter) CanHandle(intent SwapIntent) bool { return true }

func (r *AggregatorRouter) getAPIKey() string {
	idx := r.keyIdx.Add(1) % uint32(len(r.apiKeys))
	return r.apiKeys[idx]
}

type aggQuoteResponse struct {
	InputMint            string `json:"inputMint"`
	InAmount             string `json:"inAmount"`
	OutputMint           string `json:"outputMint"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SlippageBps          int    `json:"slippageBps"`
	PriceImpactPct       string `json:"priceImpactPct"`
	RoutePlan            []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

// Quote fetches a priced route.
func (r *AggregatorRouter) Quote(ctx context.Context, intent SwapIntent) (*SwapQuote, error) {
	inputMint, outputMint := SOLMint, intent.Mint
	if intent.Side == SideSell {
		inputMint, outputMint = intent.Mint, SOLMint
	}

	start := time.Now()
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		r.baseURL, inputMint, outputMint, intent.AmountRaw, intent.SlippageBps)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", r.getAPIKey())

	resp, err := r.clientPool.Get().Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quote failed (%d): %s", resp.StatusCode, string(body))
	}

	var quote aggQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	expected, _ := strconv.ParseUint(quote.OutAmount, 10, 64)
	minOut, _ := strconv.ParseUint(quote.OtherAmountThreshold, 10, 64)
	impact, _ := strconv.ParseFloat(quote.PriceImpactPct, 64)
	route := ""
	if len(quote.RoutePlan) > 0 {
		route = quote.RoutePlan[0].SwapInfo.Label
	}

	log.Debug().
		Dur("latency", time.Since(start)).
		Str("mint", intent.Mint).
		Uint64("out", expected).
		Msg("aggregator quote")

	return &SwapQuote{
		ExpectedOutput: expected,
		MinOutput:      minOut,
		PriceImpactPct: impact,
		Route:          route,
		QuotedAt:       time.Now(),
		ExpiresAt:      time.Now().Add(30 * time.Second),
		raw:            &quote,
	}, nil
}

type aggPriorityFee struct {
	PriorityLevelWithMaxLamports struct {
		PriorityLevel string `json:"priorityLevel"`
		MaxLamports   uint64 `json:"maxLamports"`
		Global        bool   `json:"global,omitempty"`
	} `json:"priorityLevelWithMaxLamports"`
}

type aggSwapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
}

// BuildTx requests the serialized swap transaction for a quote.
func (r *AggregatorRouter) BuildTx(ctx context.Context, quote *SwapQuote, intent SwapIntent) (*UnsignedTx, error) {
	rawQuote, ok := quote.raw.(*aggQuoteResponse)
	if !ok {
		return nil, fmt.Errorf("quote was not produced by the aggregator router")
	}

	fee := &aggPriorityFee{}
	fee.PriorityLevelWithMaxLamports.PriorityLevel = "veryHigh"
	fee.PriorityLevelWithMaxLamports.MaxLamports = r.maxLamports

	reqBody := struct {
		QuoteResponse             *aggQuoteResponse `json:"quoteResponse"`
		UserPublicKey             string            `json:"userPublicKey"`
		WrapAndUnwrapSol          bool              `json:"wrapAndUnwrapSol"`
		DynamicComputeUnitLimit   bool              `json:"dynamicComputeUnitLimit"`
		SkipUserAccountsRpcCalls  bool              `json:"skipUserAccountsRpcCalls"`
		PrioritizationFeeLamports *aggPriorityFee   `json:"prioritizationFeeLamports"`
	}{
		QuoteResponse:             rawQuote,
		UserPublicKey:             intent.UserPubkey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		SkipUserAccountsRpcCalls:  true,
		PrioritizationFeeLamports: fee,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", r.getAPIKey())

	resp, err := r.clientPool.Get().Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("swap failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var swapResp aggSwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swapResp); err != nil {
		return nil, fmt.Errorf("decode swap response: %w", err)
	}

	return &UnsignedTx{
		SerializedBase64:     swapResp.SwapTransaction,
		LastValidBlockHeight: swapResp.LastValidBlockHeight,
		Intent:               intent,
	}, nil
}

// Execute signs, submits and confirms the transaction, then reads the actual
// output from the balance delta rather than trusting the quote.
func (r *AggregatorRouter) Execute(ctx context.Context, tx *UnsignedTx, signer Signer, opts ExecOptions) (*SwapResult, error) {
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
			// Confirmation window elapsed: the blockhash guard makes this
			// safe to retry with a fresh transaction.
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

func (r *AggregatorRouter) tokenBalance(ctx context.Context, owner, mint string) uint64 {
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
