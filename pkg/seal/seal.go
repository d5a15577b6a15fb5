// Package seal provides the reversible encryption primitive the StateCache
// uses to protect persisted shadow-tree records at rest. The cache's
// symmetric key is treated as an opaque external concern; this package
// supplies one concrete implementation so the module is runnable end-to-end
// without a caller having to bring their own.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertextTooShort is returned by Open when the sealed blob is smaller
// than a single nonce, so it cannot possibly be genuine.
var ErrCiphertextTooShort = errors.New("seal: ciphertext shorter than nonce")

// Sealer encrypts and decrypts opaque byte records. StateCache calls Seal
// before writing a record to disk and Open after reading one back; it never
// interprets the key itself.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// aesGCMSealer implements Sealer using AES (128, 192 or 256-bit, by key
// length) in GCM mode. The nonce is
// prepended to the returned ciphertext so Open is self-contained.
type aesGCMSealer struct {
	gcm cipher.AEAD
}

// NewAESGCMSealer builds a Sealer from a 16, 24, or 32-byte AES key.
func NewAESGCMSealer(key []byte) (Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: invalid key: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: could not build GCM: %w", err)
	}

	return &aesGCMSealer{gcm: gcm}, nil
}

func (s *aesGCMSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal: could not generate nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *aesGCMSealer) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("seal: could not open ciphertext: %w", err)
	}
	return plaintext, nil
}

// NopSealer returns records unchanged. Useful for local development and
// tests that don't want to manage a key.
type NopSealer struct{}

func (NopSealer) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (NopSealer) Open(sealed []byte) ([]byte, error)    { return sealed, nil }

var _ Sealer = (*aesGCMSealer)(nil)
var _ Sealer = NopSealer{}
