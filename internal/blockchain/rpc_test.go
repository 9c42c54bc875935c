package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func rpcServer(t *testing.T, handler func(req RPCRequest) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, handler(req))
	}))
}

func TestGetBalance(t *testing.T) {
	ts := rpcServer(t, func(req RPCRequest) string {
		if req.Method != "getBalance" {
			t.Errorf("expected getBalance, got %s", req.Method)
		}
		return `{"jsonrpc":"2.0","result":{"value":1500000000},"id":1}`
	})
	defer ts.Close()

	client := NewRPCClient(ts.URL, ts.URL, "")
	balance, err := client.GetBalance(context.Background(), "SomePubkey")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 1500000000 {
		t.Errorf("expected 1500000000 lamports, got %d", balance)
	}
}

func TestGetAccountInfo(t *testing.T) {
	ts := rpcServer(t, func(req RPCRequest) string {
		return `{"jsonrpc":"2.0","result":{"value":{"lamports":42,"owner":"OwnerProg","data":["aGVsbG8=","base64"]}},"id":1}`
	})
	defer ts.Close()

	client := NewRPCClient(ts.URL, ts.URL, "")
	info, err := client.GetAccountInfo(context.Background(), "CurveAccount")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info == nil {
		t.Fatal("expected account info")
	}
	if info.Lamports != 42 {
		t.Errorf("expected 42 lamports, got %d", info.Lamports)
	}
	if string(info.Data) != "hello" {
		t.Errorf("expected decoded data 'hello', got %q", info.Data)
	}
}

func TestGetAccountInfoMissing(t *testing.T) {
	ts := rpcServer(t, func(req RPCRequest) string {
		return `{"jsonrpc":"2.0","result":{"value":null},"id":1}`
	})
	defer ts.Close()

	client := NewRPCClient(ts.URL, ts.URL, "")
	info, err := client.GetAccountInfo(context.Background(), "Missing")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info != nil {
		t.Error("expected nil for missing account")
	}
}

func TestRPCErrorSurfaced(t *testing.T) {
	ts := rpcServer(t, func(req RPCRequest) string {
		return `{"jsonrpc":"2.0","error":{"code":-32002,"message":"Blockhash not found"},"id":1}`
	})
	defer ts.Close()

	client := NewRPCClient(ts.URL, ts.URL, "")
	_, err := client.GetLatestBlockhash(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if rpcErr.Code != -32002 {
		t.Errorf("expected code -32002, got %d", rpcErr.Code)
	}
}

func TestConfirmSignatureBlockHeightGuard(t *testing.T) {
	ts := rpcServer(t, func(req RPCRequest) string {
		switch req.Method {
		case "getSignatureStatuses":
			return `{"jsonrpc":"2.0","result":{"value":[null]},"id":1}`
		case "getBlockHeight":
			return `{"jsonrpc":"2.0","result":151,"id":1}`
		default:
			t.Errorf("unexpected method %s", req.Method)
			return `{}`
		}
	})
	defer ts.Close()

	client := NewRPCClient(ts.URL, ts.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The signature never lands and the chain is already past the guard, so
	// confirmation must abort well before the timeout.
	err := client.ConfirmSignature(ctx, "Sig", 150)
	if err == nil {
		t.Fatal("expected an error once the block height passed the guard")
	}
	if !strings.Contains(err.Error(), "block height exceeded") {
		t.Errorf("expected block height error, got %v", err)
	}
	if ctx.Err() != nil {
		t.Error("confirmation waited out the timeout instead of aborting on height")
	}
}

func TestConfirmSignatureConfirmed(t *testing.T) {
	ts := rpcServer(t, func(req RPCRequest) string {
		if req.Method != "getSignatureStatuses" {
			t.Errorf("unexpected method %s", req.Method)
		}
		return `{"jsonrpc":"2.0","result":{"value":[{"slot":1,"confirmationStatus":"confirmed"}]},"id":1}`
	})
	defer ts.Close()

	client := NewRPCClient(ts.URL, ts.URL, "")
	if err := client.ConfirmSignature(context.Background(), "Sig", 150); err != nil {
		t.Fatalf("ConfirmSignature: %v", err)
	}
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	fallback := rpcServer(t, func(req RPCRequest) string {
		return `{"jsonrpc":"2.0","result":{"value":7},"id":1}`
	})
	defer fallback.Close()

	client := NewRPCClient(primary.URL, fallback.URL, "")
	balance, err := client.GetBalance(context.Background(), "Key")
	if err != nil {
		t.Fatalf("expected fallback to serve the call: %v", err)
	}
	if balance != 7 {
		t.Errorf("expected 7, got %d", balance)
	}
}

func TestCircuitOpensAfterFailures(t *testing.T) {
	primaryCalls := 0
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer primary.Close()

	fallback := rpcServer(t, func(req RPCRequest) string {
		return `{"jsonrpc":"2.0","result":{"value":1},"id":1}`
	})
	defer fallback.Close()

	client := NewRPCClient(primary.URL, fallback.URL, "")
	for i := 0; i < circuitFailureThreshold+3; i++ {
		if _, err := client.GetBalance(context.Background(), "Key"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	// Once open, calls skip the primary entirely.
	if primaryCalls > circuitFailureThreshold {
		t.Errorf("primary hit %d times, circuit should open at %d", primaryCalls, circuitFailureThreshold)
	}
}
