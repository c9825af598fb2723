package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var errSealedTooShort = errors.New("sealed value too short")

// Encryptor seals secrets kept in the users table with AES-256-GCM. Each
// value is bound to an owner (the user id) through the GCM associated data,
// so a sealed secret copied onto another row fails to open. Output is
// base64url(nonce || ciphertext).
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor takes the 32-byte key as 64 hex characters.
func NewEncryptor(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

func (e *Encryptor) Seal(plaintext string, owner []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	out := e.aead.Seal(nonce, nonce, []byte(plaintext), owner)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (e *Encryptor) Open(sealed string, owner []byte) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	n := e.aead.NonceSize()
	if len(raw) < n+e.aead.Overhead() {
		return "", errSealedTooShort
	}
	plaintext, err := e.aead.Open(nil, raw[:n], raw[n:], owner)
	if err != nil {
		return "", fmt.Errorf("opening sealed value: %w", err)
	}
	return string(plaintext), nil
}
