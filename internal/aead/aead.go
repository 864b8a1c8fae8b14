// Package aead seals secret key material at rest with AES-256-GCM.
//
// A sealed bundle is three hex fields joined by ':': nonce, authentication tag
// and ciphertext. Every call to Encrypt draws a fresh random nonce.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32

	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	tagSize   = 16
	separator = ":"
)

var (
	// ErrInvalidKeyLength is returned when the key is not KeySize bytes.
	ErrInvalidKeyLength = errors.New("encryption key must be exactly 32 bytes")

	// ErrMalformedCiphertext is returned when a bundle cannot be split or decoded.
	ErrMalformedCiphertext = errors.New("malformed ciphertext bundle")

	// ErrAuthenticationFailed is returned when the tag does not verify (wrong key or tampering).
	ErrAuthenticationFailed = errors.New("ciphertext authentication failed")
)

// Encrypt seals plaintext under key and returns the encoded bundle.
func Encrypt(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, separator), nil
}

// Decrypt opens a bundle produced by Encrypt. No plaintext is returned unless
// the authentication tag verifies.
func Decrypt(bundle string, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(bundle, separator)
	if len(parts) != 3 {
		return nil, ErrMalformedCiphertext
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != NonceSize {
		return nil, ErrMalformedCiphertext
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, ErrMalformedCiphertext
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformedCiphertext
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Sealer binds a validated key for repeated use.
type Sealer struct {
	key [KeySize]byte
}

// NewSealer validates key and copies it.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	return Encrypt(plaintext, s.key[:])
}

// Open decrypts a bundle.
func (s *Sealer) Open(bundle string) ([]byte, error) {
	return Decrypt(bundle, s.key[:])
}
