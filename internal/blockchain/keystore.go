package blockchain

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Keystore encrypts wallet private keys for storage. Each key is sealed with
// ChaCha20-Poly1305 under a key derived from the master passphrase via
// Argon2id, with a fresh salt and nonce per blob.
type Keystore struct {
	passphrase []byte
}

const (
	keystoreSaltLen = 16

	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// ErrKeystoreDecrypt is returned when a blob cannot be opened, either because
// the passphrase is wrong or the blob is corrupt.
var ErrKeystoreDecrypt = errors.New("keystore: decryption failed")

// NewKeystore creates a keystore over the master passphrase.
func NewKeystore(passphrase string) (*Keystore, error) {
	if passphrase == "" {
		return nil, errors.New("keystore: empty passphrase")
	}
	return &Keystore{passphrase: []byte(passphrase)}, nil
}

// Encrypt seals a private key. Blob layout: salt | nonce | ciphertext.
func (k *Keystore) Encrypt(privateKey []byte) ([]byte, error) {
	salt := make([]byte, keystoreSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: salt: %w", err)
	}

	aead, err := k.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keystore: nonce: %w", err)
	}

	blob := make([]byte, 0, len(salt)+len(nonce)+len(privateKey)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, privateKey, nil)
	return blob, nil
}

// Decrypt opens a sealed blob and returns the private key bytes.
func (k *Keystore) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < keystoreSaltLen+chacha20poly1305.NonceSize {
		return nil, ErrKeystoreDecrypt
	}

	salt := blob[:keystoreSaltLen]
	aead, err := k.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := blob[keystoreSaltLen : keystoreSaltLen+aead.NonceSize()]
	ciphertext := blob[keystoreSaltLen+aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrKeystoreDecrypt
	}
	return plain, nil
}

func (k *Keystore) aead(salt []byte) (cipher.AEAD, error) {
	derived := argon2.IDKey(k.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.New(derived)
	if err != nil {
		return nil, fmt.Errorf("keystore: cipher: %w", err)
	}
	return aead, nil
}
