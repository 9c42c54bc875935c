package notify

import (
	"encoding/json"

	"raptor/internal/store"
)

// Outbox event types. Payloads are self-contained so the renderer never has
// to read the store.
const (
	TypeBuyConfirmed           = "BUY_CONFIRMED"
	TypeSellConfirmed          = "SELL_CONFIRMED"
	TypePositionOpened         = "POSITION_OPENED"
	TypePositionClosed         = "POSITION_CLOSED"
	TypeTradeFailed            = "TRADE_FAILED"
	TypeEmergencySellStarted   = "EMERGENCY_SELL_STARTED"
	TypeEmergencySellConfirmed = "EMERGENCY_SELL_CONFIRMED"
	TypeEmergencySellFailed    = "EMERGENCY_SELL_FAILED"
)

// TradePayload covers buy/sell confirmations and failures.
type TradePayload struct {
	Chain       store.Chain  `json:"chain"`
	Mint        string       `json:"mint"`
	Symbol      string       `json:"symbol,omitempty"`
	Action      store.Action `json:"action"`
	AmountSol   float64      `json:"amount_sol,omitempty"`
	TokensRaw   int64        `json:"tokens_raw,omitempty"`
	Price       float64      `json:"price,omitempty"`
	TxSig       string       `json:"tx_sig,omitempty"`
	ErrorCode   string       `json:"error_code,omitempty"`
	Message     string       `json:"message,omitempty"`
	SellPercent float64      `json:"sell_percent,omitempty"`
}

// PositionPayload covers position open/close events.
type PositionPayload struct {
	Chain          store.Chain   `json:"chain"`
	Mint           string        `json:"mint"`
	Symbol         string        `json:"symbol,omitempty"`
	PositionUUID   string        `json:"position_uuid"`
	EntryPrice     float64       `json:"entry_price,omitempty"`
	ExitPrice      float64       `json:"exit_price,omitempty"`
	EntryCostSol   float64       `json:"entry_cost_sol,omitempty"`
	SizeTokens     int64         `json:"size_tokens,omitempty"`
	TPPrice        float64       `json:"tp_price,omitempty"`
	SLPrice        float64       `json:"sl_price,omitempty"`
	Trigger        store.Trigger `json:"trigger,omitempty"`
	RealizedPnlSol float64       `json:"realized_pnl_sol,omitempty"`
	RealizedPnlPct float64       `json:"realized_pnl_pct,omitempty"`
	MoonBag        bool          `json:"moon_bag,omitempty"`
	TxSig          string        `json:"tx_sig,omitempty"`
}

// Marshal encodes a payload, swallowing the impossible error so call sites
// stay one line.
func Marshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
