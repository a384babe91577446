// Package sealer encrypts credentials before they leave process memory.
package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Sealer encrypts and decrypts values bound to an associated-data label.
type Sealer interface {
	Seal(plaintext []byte, label string) (string, error)
	Open(sealed string, label string) ([]byte, error)
}

// AESGCM seals values with AES-GCM. The label is authenticated as additional
// data so a value sealed for one cache key cannot be replayed under another.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds a sealer from a raw AES key (16, 24 or 32 bytes).
func NewAESGCM(key []byte) (*AESGCM, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

// NewAESGCMFromBase64 decodes a standard base64 key and builds a sealer.
func NewAESGCMFromBase64(encoded string) (*AESGCM, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sealing key: %w", err)
	}
	return NewAESGCM(key)
}

// Seal encrypts plaintext and returns nonce||ciphertext in raw base64.
func (s *AESGCM) Seal(plaintext []byte, label string) (string, error) {
	if s == nil || s.aead == nil {
		return "", errors.New("sealer is not configured")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, plaintext, []byte(label))
	return base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal with the same label.
func (s *AESGCM) Open(sealed string, label string) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, errors.New("sealer is not configured")
	}
	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed value: %w", err)
	}
	n := s.aead.NonceSize()
	if len(payload) < n {
		return nil, errors.New("sealed value is too short")
	}
	plaintext, err := s.aead.Open(nil, payload[:n], payload[n:], []byte(label))
	if err != nil {
		return nil, fmt.Errorf("decrypt sealed value: %w", err)
	}
	return plaintext, nil
}
