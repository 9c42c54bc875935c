package blockchain

import (
	"bytes"
	"errors"
	"testing"
)

func TestKeystoreRoundTrip(t *testing.T) {
	ks, err := NewKeystore("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}

	w, err := GenerateWallet()
	if err != nil {
		t.Fatalf("GenerateWallet: %v", err)
	}

	blob, err := ks.Encrypt(w.PrivateKey())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(blob, w.PrivateKey()) {
		t.Error("ciphertext contains plaintext key")
	}

	plain, err := ks.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(plain, w.PrivateKey()) {
		t.Error("decrypted key does not match original")
	}
}

func TestKeystoreUniqueBlobs(t *testing.T) {
	ks, _ := NewKeystore("pass")
	key := make([]byte, 64)

	a, err := ks.Encrypt(key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := ks.Encrypt(key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same key produced identical blobs")
	}
}

func TestKeystoreWrongPassphrase(t *testing.T) {
	ks1, _ := NewKeystore("right")
	ks2, _ := NewKeystore("wrong")

	blob, err := ks1.Encrypt([]byte("secret key material"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := ks2.Decrypt(blob); !errors.Is(err, ErrKeystoreDecrypt) {
		t.Errorf("expected ErrKeystoreDecrypt, got %v", err)
	}
}

func TestKeystoreTruncatedBlob(t *testing.T) {
	ks, _ := NewKeystore("pass")
	if _, err := ks.Decrypt([]byte("short")); !errors.Is(err, ErrKeystoreDecrypt) {
		t.Errorf("expected ErrKeystoreDecrypt for truncated blob, got %v", err)
	}
}

func TestKeystoreEmptyPassphrase(t *testing.T) {
	if _, err := NewKeystore(""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}

func TestWalletZeroize(t *testing.T) {
	w, err := GenerateWallet()
	if err != nil {
		t.Fatalf("GenerateWallet: %v", err)
	}
	priv := w.privateKey
	w.Zeroize()

	for i, b := range priv {
		if b != 0 {
			t.Errorf("byte %d not zeroed", i)
			break
		}
	}
}
