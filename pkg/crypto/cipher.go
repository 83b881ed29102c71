package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
)

var (
	// ErrKeyMissing indicates no master key material was configured.
	ErrKeyMissing = errors.New("crypto: encryption key not configured")
	// ErrTampered indicates a blob failed authentication or is malformed.
	ErrTampered = errors.New("crypto: ciphertext tampered or malformed")
)

// Vault encrypts and decrypts secrets at rest. The key is derived from
// operator-supplied master material with SHA-256, so rotating the master
// requires re-encrypting every stored blob.
type Vault struct {
	key []byte
}

// NewVault derives a vault key from master material.
func NewVault(master string) (*Vault, error) {
	if master == "" {
		return nil, ErrKeyMissing
	}
	sum := sha256.Sum256([]byte(master))
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return &Vault{key: key}, nil
}

// EncryptString seals plaintext with AES-256-GCM under a fresh random nonce.
// The returned blob is hex(nonce || ciphertext) and is self-describing.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	if v == nil || len(v.key) == 0 {
		return "", ErrKeyMissing
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// DecryptToString opens a blob produced by EncryptString.
func (v *Vault) DecryptToString(blob string) (string, error) {
	if v == nil || len(v.key) == 0 {
		return "", ErrKeyMissing
	}
	payload, err := hex.DecodeString(blob)
	if err != nil {
		return "", ErrTampered
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(payload) < nonceSize {
		return "", ErrTampered
	}
	nonce := payload[:nonceSize]
	ciphertext := payload[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrTampered
	}
	return string(plain), nil
}
