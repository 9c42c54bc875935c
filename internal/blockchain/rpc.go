package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RPCClient is a Solana JSON-RPC client with a primary and fallback endpoint.
// Repeated primary failures open an in-process circuit that routes calls to
// the fallback until the reset window passes.
type RPCClient struct {
	primaryURL  string
	fallbackURL string
	apiKey      string
	httpClient  *http.Client

	mu          sync.RWMutex
	failures    int
	lastFailure time.Time
	circuitOpen bool
}

const (
	circuitFailureThreshold = 5
	circuitResetAfter       = 30 * time.Second
)

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// NewRPCClient creates a client over a pooled HTTP transport.
func NewRPCClient(primaryURL, fallbackURL, apiKey string) *RPCClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	return &RPCClient{
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		apiKey:      apiKey,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// BlockhashResult is the result of getLatestBlockhash.
type BlockhashResult struct {
	Value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// GetLatestBlockhash fetches the latest blockhash at confirmed commitment.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (*BlockhashResult, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getLatestBlockhash",
		Params:  []interface{}{map[string]string{"commitment": "confirmed"}},
	}
	var result BlockhashResult
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBlockHeight fetches the current block height at confirmed commitment.
func (c *RPCClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBlockHeight",
		Params:  []interface{}{map[string]string{"commitment": "confirmed"}},
	}
	var height uint64
	if err := c.call(ctx, req, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetBalance fetches the SOL balance for a public key, in lamports.
func (c *RPCClient) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBalance",
		Params:  []interface{}{pubkey, map[string]string{"commitment": "confirmed"}},
	}
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// AccountInfo is raw account data returned by getAccountInfo.
type AccountInfo struct {
	Lamports uint64
	Owner    string
	Data     []byte
}

// GetAccountInfo fetches an account's raw data (base64). Returns nil when the
// account does not exist. Used to read bonding-curve state.
func (c *RPCClient) GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params: []interface{}{
			pubkey,
			map[string]string{"encoding": "base64", "commitment": "confirmed"},
		},
	}
	var result struct {
		Value *struct {
			Lamports uint64   `json:"lamports"`
			Owner    string   `json:"owner"`
			Data     []string `json:"data"` // [base64, "base64"]
		} `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}
	info := &AccountInfo{
		Lamports: result.Value.Lamports,
		Owner:    result.Value.Owner,
	}
	if len(result.Value.Data) > 0 {
		data, err := decodeBase64(result.Value.Data[0])
		if err != nil {
			return nil, fmt.Errorf("decode account data: %w", err)
		}
		info.Data = data
	}
	return info, nil
}

// SendTransaction submits a signed base64 transaction.
func (c *RPCClient) SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendTransaction",
		Params: []interface{}{
			signedTx,
			map[string]interface{}{
				"encoding":            "base64",
				"skipPreflight":       skipPreflight,
				"preflightCommitment": "processed",
				"maxRetries":          3,
			},
		},
	}
	var sig string
	if err := c.call(ctx, req, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// GetTokenAccountBalance fetches an SPL token account balance in base units.
func (c *RPCClient) GetTokenAccountBalance(ctx context.Context, tokenAccount string) (uint64, uint8, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountBalance",
		Params:  []interface{}{tokenAccount},
	}
	var result struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals uint8  `json:"decimals"`
		} `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return 0, 0, err
	}
	amount, _ := strconv.ParseUint(result.Value.Amount, 10, 64)
	return amount, result.Value.Decimals, nil
}

// TokenAccountInfo is one owned token account.
type TokenAccountInfo struct {
	Address  string
	Mint     string
	Amount   uint64
	Decimals uint8
}

// GetTokenAccountsByOwner fetches the owner's token accounts for one mint.
func (c *RPCClient) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]TokenAccountInfo, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountsByOwner",
		Params: []interface{}{
			owner,
			map[string]string{"mint": mint},
			map[string]string{"encoding": "jsonParsed"},
		},
	}
	var result struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								Amount   string `json:"amount"`
								Decimals uint8  `json:"decimals"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	accounts := make([]TokenAccountInfo, 0, len(result.Value))
	for _, v := range result.Value {
		amount, _ := strconv.ParseUint(v.Account.Data.Parsed.Info.TokenAmount.Amount, 10, 64)
		accounts = append(accounts, TokenAccountInfo{
			Address:  v.Pubkey,
			Mint:     v.Account.Data.Parsed.Info.Mint,
			Amount:   amount,
			Decimals: v.Account.Data.Parsed.Info.TokenAmount.Decimals,
		})
	}
	return accounts, nil
}

// SignatureStatus is one entry from getSignatureStatuses. Confirmations nil
// means finalized; Err non-nil means the transaction failed on-chain.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// GetSignatureStatuses checks transaction signatures against history.
func (c *RPCClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getSignatureStatuses",
		Params: []interface{}{
			signatures,
			map[string]bool{"searchTransactionHistory": true},
		},
	}
	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// ConfirmSignature polls until the signature reaches confirmed commitment,
// fails on-chain, the chain passes lastValidBlockHeight, or the context
// expires. A blockhash can only land while the chain height is at or below
// its last valid height, so passing it ends the wait early with a "block
// height exceeded" error; a zero guard disables the height check.
func (c *RPCClient) ConfirmSignature(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		statuses, err := c.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			log.Warn().Err(err).Str("sig", signature).Msg("signature status check failed")
		} else if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				errBytes, _ := json.Marshal(st.Err)
				return fmt.Errorf("transaction failed on-chain: %s", errBytes)
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return nil
			}
		}

		if lastValidBlockHeight > 0 {
			height, err := c.GetBlockHeight(ctx)
			if err != nil {
				log.Warn().Err(err).Str("sig", signature).Msg("block height check failed")
			} else if height > lastValidBlockHeight {
				return fmt.Errorf("confirm %s: block height exceeded %d (at %d)",
					signature, lastValidBlockHeight, height)
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Ping verifies the endpoint responds. Used by readiness probes.
func (c *RPCClient) Ping(ctx context.Context) error {
	_, err := c.GetLatestBlockhash(ctx)
	return err
}

func (c *RPCClient) call(ctx context.Context, req RPCRequest, result interface{}) error {
	if c.isCircuitOpen() {
		return c.callURL(ctx, c.fallbackURL, req, result)
	}

	err := c.callURL(ctx, c.primaryURL, req, result)
	if err != nil {
		c.recordFailure()
		log.Warn().Err(err).Msg("primary RPC failed, trying fallback")
		return c.callURL(ctx, c.fallbackURL, req, result)
	}

	c.recordSuccess()
	return nil
}

func (c *RPCClient) callURL(ctx context.Context, url string, rpcReq RPCRequest, result interface{}) error {
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

func (c *RPCClient) isCircuitOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.circuitOpen {
		return false
	}
	return time.Since(c.lastFailure) <= circuitResetAfter
}

func (c *RPCClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	c.lastFailure = time.Now()
	if c.failures >= circuitFailureThreshold {
		c.circuitOpen = true
		log.Warn().Int("failures", c.failures).Msg("RPC circuit breaker opened")
	}
}

func (c *RPCClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = 0
	c.circuitOpen = false
}
