package notify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RenderText turns an outbox payload into the chat message body. Unknown
// types render a generic line rather than failing delivery.
func RenderText(typ string, payload json.RawMessage) string {
	switch typ {
	case TypeBuyConfirmed, TypeSellConfirmed, TypeEmergencySellConfirmed,
		TypeEmergencySellStarted, TypeEmergencySellFailed, TypeTradeFailed:
		var p TradePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fallbackText(typ)
		}
		return renderTrade(typ, p)
	case TypePositionOpened, TypePositionClosed:
		var p PositionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fallbackText(typ)
		}
		return renderPosition(typ, p)
	default:
		return fallbackText(typ)
	}
}

func renderTrade(typ string, p TradePayload) string {
	name := p.Symbol
	if name == "" {
		name = shortMint(p.Mint)
	}
	switch typ {
	case TypeBuyConfirmed:
		return fmt.Sprintf("🟢 <b>Buy confirmed</b> %s\nSpent: %.4f SOL\nPrice: %s SOL\nTx: <code>%s</code>",
			name, p.AmountSol, fmtPrice(p.Price), p.TxSig)
	case TypeSellConfirmed:
		return fmt.Sprintf("🔴 <b>Sell confirmed</b> %s (%.0f%%)\nReceived: %.4f SOL\nTx: <code>%s</code>",
			name, p.SellPercent, p.AmountSol, p.TxSig)
	case TypeEmergencySellStarted:
		return fmt.Sprintf("🚨 <b>Emergency sell started</b> %s", name)
	case TypeEmergencySellConfirmed:
		return fmt.Sprintf("🚨 <b>Emergency sell confirmed</b> %s\nReceived: %.4f SOL\nTx: <code>%s</code>",
			name, p.AmountSol, p.TxSig)
	case TypeEmergencySellFailed:
		return fmt.Sprintf("🚨 <b>Emergency sell failed</b> %s\n%s", name, p.Message)
	default: // TypeTradeFailed
		return fmt.Sprintf("⚠️ <b>Trade failed</b> %s\n%s", name, p.Message)
	}
}

func renderPosition(typ string, p PositionPayload) string {
	name := p.Symbol
	if name == "" {
		name = shortMint(p.Mint)
	}
	if typ == TypePositionOpened {
		return fmt.Sprintf("📈 <b>Position opened</b> %s\nEntry: %s SOL\nTP: %s | SL: %s",
			name, fmtPrice(p.EntryPrice), fmtPrice(p.TPPrice), fmtPrice(p.SLPrice))
	}
	emoji := "✅"
	if p.RealizedPnlSol < 0 {
		emoji = "❌"
	}
	return fmt.Sprintf("%s <b>Position closed</b> %s (%s)\nExit: %s SOL\nPnL: %+.4f SOL (%+.1f%%)",
		emoji, name, p.Trigger, fmtPrice(p.ExitPrice), p.RealizedPnlSol, p.RealizedPnlPct)
}

func fallbackText(typ string) string {
	return "Event: " + strings.ReplaceAll(strings.ToLower(typ), "_", " ")
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + "…" + mint[len(mint)-4:]
}

func fmtPrice(p float64) string {
	if p == 0 {
		return "?"
	}
	if p < 0.0001 {
		return fmt.Sprintf("%.9f", p)
	}
	return fmt.Sprintf("%.6f", p)
}
