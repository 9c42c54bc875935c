package blockchain

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"testing"
)

func TestSignSerializedTransactionFillsFirstSlot(t *testing.T) {
	w, err := GenerateWallet()
	if err != nil {
		t.Fatalf("GenerateWallet: %v", err)
	}
	b := NewTransactionBuilder(w, nil, 100000)

	message := []byte("versioned transaction message bytes")
	tx := make([]byte, 1+64+len(message))
	tx[0] = 1 // one empty signature slot
	copy(tx[65:], message)

	signed, err := b.SignSerializedTransaction(base64.StdEncoding.EncodeToString(tx))
	if err != nil {
		t.Fatalf("SignSerializedTransaction: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(signed)
	if err != nil {
		t.Fatalf("decode signed tx: %v", err)
	}
	if raw[0] != 1 {
		t.Errorf("expected 1 signature, got %d", raw[0])
	}
	if !ed25519.Verify(w.PublicKey(), raw[65:], raw[1:65]) {
		t.Error("signature does not verify against the message")
	}
}

func TestSignSerializedTransactionNoSlots(t *testing.T) {
	w, _ := GenerateWallet()
	b := NewTransactionBuilder(w, nil, 100000)

	message := []byte("message with no signature section")
	tx := append([]byte{0}, message...)

	signed, err := b.SignSerializedTransaction(base64.StdEncoding.EncodeToString(tx))
	if err != nil {
		t.Fatalf("SignSerializedTransaction: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(signed)
	if raw[0] != 1 {
		t.Errorf("expected signature count 1, got %d", raw[0])
	}
	if !ed25519.Verify(w.PublicKey(), raw[65:], raw[1:65]) {
		t.Error("signature does not verify")
	}
}

func TestSignSerializedTransactionMalformed(t *testing.T) {
	w, _ := GenerateWallet()
	b := NewTransactionBuilder(w, nil, 100000)

	if _, err := b.SignSerializedTransaction("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	// Claims 3 signatures but has no room for them.
	short := base64.StdEncoding.EncodeToString([]byte{3, 0, 0})
	if _, err := b.SignSerializedTransaction(short); err == nil {
		t.Error("expected error for truncated transaction")
	}
}

func TestBuildComputeBudgetInstructions(t *testing.T) {
	w, _ := GenerateWallet()
	b := NewTransactionBuilder(w, nil, 600000) // lamports
	b.SetComputeUnitLimit(200000)

	setLimit, setPrice := b.BuildComputeBudgetInstructions()

	if setLimit[0] != 2 {
		t.Errorf("expected SetComputeUnitLimit type 2, got %d", setLimit[0])
	}
	if limit := binary.LittleEndian.Uint32(setLimit[1:]); limit != 200000 {
		t.Errorf("expected limit 200000, got %d", limit)
	}

	if setPrice[0] != 3 {
		t.Errorf("expected SetComputeUnitPrice type 3, got %d", setPrice[0])
	}
	// 600000 lamports * 1e6 / 200000 CU = 3e6 microlamports per CU
	if price := binary.LittleEndian.Uint64(setPrice[1:]); price != 3_000_000 {
		t.Errorf("expected 3000000 microlamports/CU, got %d", price)
	}
}
