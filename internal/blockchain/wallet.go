package blockchain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
)

// Wallet holds an ed25519 keypair for signing transactions. Key material
// arrives decrypted from the keystore and should be zeroized when the wallet
// is no longer needed.
type Wallet struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    string
}

// NewWallet builds a wallet from raw private key bytes: either a 64-byte
// ed25519 key or a 32-byte seed.
func NewWallet(privateKeyBytes []byte) (*Wallet, error) {
	var privateKey ed25519.PrivateKey
	switch len(privateKeyBytes) {
	case ed25519.PrivateKeySize:
		privateKey = ed25519.PrivateKey(privateKeyBytes)
	case ed25519.SeedSize:
		privateKey = ed25519.NewKeyFromSeed(privateKeyBytes)
	default:
		return nil, fmt.Errorf("invalid private key length: %d (expected 32 or 64)", len(privateKeyBytes))
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)
	return &Wallet{
		privateKey: privateKey,
		publicKey:  publicKey,
		address:    base58.Encode(publicKey),
	}, nil
}

// NewWalletFromBase58 builds a wallet from a base58-encoded private key.
func NewWalletFromBase58(privateKeyBase58 string) (*Wallet, error) {
	raw, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return NewWallet(raw)
}

// GenerateWallet creates a fresh random keypair.
func GenerateWallet() (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		privateKey: priv,
		publicKey:  pub,
		address:    base58.Encode(pub),
	}, nil
}

// Address returns the base58 public key.
func (w *Wallet) Address() string {
	return w.address
}

// PublicKey returns the public key bytes.
func (w *Wallet) PublicKey() []byte {
	return w.publicKey
}

// PrivateKey returns the raw private key bytes. Callers persisting keys go
// through the keystore, never this directly.
func (w *Wallet) PrivateKey() []byte {
	return w.privateKey
}

// Sign signs a message with the private key.
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.privateKey, message)
}

// Zeroize overwrites the private key material. The wallet is unusable after.
func (w *Wallet) Zeroize() {
	for i := range w.privateKey {
		w.privateKey[i] = 0
	}
	w.privateKey = nil
}

// BalanceTracker caches a wallet's SOL balance between RPC refreshes.
type BalanceTracker struct {
	mu              sync.RWMutex
	address         string
	rpc             *RPCClient
	balanceLamports uint64
}

// NewBalanceTracker creates a tracker for one address.
func NewBalanceTracker(address string, rpc *RPCClient) *BalanceTracker {
	return &BalanceTracker{address: address, rpc: rpc}
}

// Refresh pulls the balance from RPC.
func (b *BalanceTracker) Refresh(ctx context.Context) error {
	balance, err := b.rpc.GetBalance(ctx, b.address)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.balanceLamports = balance
	b.mu.Unlock()
	return nil
}

// BalanceLamports returns the cached balance in lamports.
func (b *BalanceTracker) BalanceLamports() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balanceLamports
}

// BalanceSOL returns the cached balance in SOL.
func (b *BalanceTracker) BalanceSOL() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return float64(b.balanceLamports) / 1e9
}

// HasSufficientBalance reports whether the wallet can cover a trade plus fees.
func (b *BalanceTracker) HasSufficientBalance(amountLamports, feesLamports uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balanceLamports >= amountLamports+feesLamports
}
