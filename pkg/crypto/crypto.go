// Package crypto provides authenticated encryption for secret values.
//
// It wraps ChaCha20-Poly1305 (RFC 8439): a 256-bit key, a 96-bit random
// nonce per encryption, and a 128-bit authentication tag appended to the
// ciphertext. This is the standard (not extended-nonce) variant, since
// the on-disk Record stores a 12-byte nonce rather than 24.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the length in bytes of a ChaCha20-Poly1305 nonce.
const NonceSize = chacha20poly1305.NonceSize

// ErrAuthFailure is returned when a ciphertext fails authentication —
// corruption or a key mismatch, never silently treated as "not found".
var ErrAuthFailure = errors.New("crypto: authentication failed")

// Cipher encrypts and decrypts secret values under a single 32-byte key.
// It owns no state beyond the key itself.
type Cipher struct {
	aead AEAD
}

// AEAD is the subset of cipher.AEAD that Cipher depends on; satisfied by
// chacha20poly1305's implementation.
type AEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// New builds a Cipher from a 32-byte master key.
func New(key [32]byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: building AEAD cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a freshly generated random nonce and
// returns the ciphertext (with the 16-byte tag appended) and that nonce.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	ciphertext = c.aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext using the given nonce. Any authentication
// failure — a wrong key, a corrupted ciphertext, a mismatched nonce — is
// reported as ErrAuthFailure.
func (c *Cipher) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce has length %d, want %d", ErrAuthFailure, len(nonce), NonceSize)
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
