package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Sentinel errors for the crypto failure modes. Callers test with
// errors.Is; they must never treat a decrypt failure as "no token".
var (
	ErrEncrypt = errors.New("token encryption failed")
	ErrDecrypt = errors.New("token decryption failed")
)

// Service encrypts access tokens with AES-256-GCM. GCM authenticates the
// ciphertext, so a wrong key, a wrong iv or a tampered ciphertext fails
// decryption instead of producing a garbled token.
type Service struct {
	aead cipher.AEAD
}

// NewService builds a Service from a hex-encoded 32-byte key.
func NewService(hexKey string) (*Service, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Service{aead: aead}, nil
}

// Encrypt encrypts a token under a fresh random iv. Ciphertext and iv are
// returned hex-encoded for storage.
func (s *Service) Encrypt(token string) (string, string, error) {
	iv := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	sealed := s.aead.Seal(nil, iv, []byte(token), nil)
	return hex.EncodeToString(sealed), hex.EncodeToString(iv), nil
}

// Decrypt reverses Encrypt. It fails with ErrDecrypt when the iv or key is
// wrong or the ciphertext is corrupt.
func (s *Service) Decrypt(ciphertext string, iv string) (string, error) {
	sealed, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not valid hex", ErrDecrypt)
	}
	nonce, err := hex.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("%w: iv is not valid hex", ErrDecrypt)
	}
	if len(nonce) != s.aead.NonceSize() {
		return "", fmt.Errorf("%w: iv has wrong length", ErrDecrypt)
	}

	token, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(token), nil
}
