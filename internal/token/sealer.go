package token

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer encrypts values before they reach the backend.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// AEADSealer seals with XChaCha20-Poly1305; output is base64(nonce || ciphertext).
type AEADSealer struct {
	aead cipher.AEAD
}

// NewSealer builds an AEADSealer. Keys that are not exactly 32 bytes are
// compressed with SHA-256.
func NewSealer(key []byte) (*AEADSealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init sealer: %w", err)
	}
	return &AEADSealer{aead: aead}, nil
}

func (s *AEADSealer) Seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *AEADSealer) Open(sealed string) (string, error) {
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptValue, err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", ErrCorruptValue
	}
	nonce, ct := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptValue, err)
	}
	return string(plain), nil
}
