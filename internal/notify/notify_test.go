package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raptor/internal/store"
)

func TestRenderTextBuyConfirmed(t *testing.T) {
	payload := Marshal(TradePayload{
		Chain:     store.ChainSolana,
		Mint:      "Ai7xLmnop123456789qrstuvAbCdEf9876543210XYZw",
		Action:    store.ActionBuy,
		AmountSol: 0.5,
		Price:     0.000045,
		TxSig:     "5signature",
	})
	text := RenderText(TypeBuyConfirmed, payload)
	assert.Contains(t, text, "Buy confirmed")
	assert.Contains(t, text, "0.5000 SOL")
	assert.Contains(t, text, "5signature")
	assert.Contains(t, text, "Ai7x…XYZw", "mint is shortened when no symbol")
}

func TestRenderTextPositionClosed(t *testing.T) {
	payload := Marshal(PositionPayload{
		Symbol:         "DOGE2",
		Trigger:        store.TriggerTP,
		ExitPrice:      0.002,
		RealizedPnlSol: 0.35,
		RealizedPnlPct: 70,
	})
	text := RenderText(TypePositionClosed, payload)
	assert.Contains(t, text, "✅")
	assert.Contains(t, text, "DOGE2")
	assert.Contains(t, text, "TP")
	assert.Contains(t, text, "+0.3500 SOL")

	payload = Marshal(PositionPayload{Symbol: "RUG", Trigger: store.TriggerSL, RealizedPnlSol: -0.4})
	assert.Contains(t, RenderText(TypePositionClosed, payload), "❌")
}

func TestRenderTextUnknownTypeAndBadPayload(t *testing.T) {
	assert.Equal(t, "Event: weird thing", RenderText("WEIRD_THING", json.RawMessage(`{}`)))

	text := RenderText(TypeBuyConfirmed, json.RawMessage(`not-json`))
	assert.True(t, strings.HasPrefix(text, "Event:"))
}

func TestTelegramSenderSend(t *testing.T) {
	var got map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/sendMessage"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	sender := NewTelegramSender("token")
	sender.http.SetBaseURL(ts.URL + "/bottoken")

	require.NoError(t, sender.Send(context.Background(), 42, "hello"))
	assert.EqualValues(t, 42, got["chat_id"])
	assert.Equal(t, "hello", got["text"])
}

func TestTelegramSenderAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer ts.Close()

	sender := NewTelegramSender("token")
	sender.http.SetBaseURL(ts.URL)

	err := sender.Send(context.Background(), 1, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}
