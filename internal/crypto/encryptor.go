// Package crypto provides AES-256-GCM encryption and decryption for
// sensitive credential material (access and refresh tokens, client secrets)
// before it reaches durable storage.
//
// Each encryption operation uses a unique random nonce, so encrypting the
// same plaintext twice produces different ciphertexts. GCM provides both
// confidentiality and integrity protection.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"integration-gateway/internal/common/errors"
)

// TokenEncryptor handles encryption and decryption of stored token material
// using AES-256-GCM. Safe for concurrent use by multiple goroutines.
type TokenEncryptor struct {
	key []byte // 32-byte AES-256 encryption key
}

// NewTokenEncryptor creates a new TokenEncryptor from a passphrase.
//
// The passphrase is run through PBKDF2 to derive a proper 32-byte AES-256
// key regardless of input length. The passphrase should come from the
// environment and never be hardcoded.
func NewTokenEncryptor(key string) (*TokenEncryptor, error) {
	if key == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	// Static salt keeps key derivation deterministic across restarts
	salt := []byte("integration-gateway-salt")
	derivedKey := pbkdf2.Key([]byte(key), salt, 10000, 32, sha256.New)

	return &TokenEncryptor{key: derivedKey}, nil
}

// Encrypt encrypts a plaintext string using AES-256-GCM and returns the
// result as a base64-encoded string. The random nonce is prepended to the
// ciphertext before encoding. Empty strings pass through unencrypted.
func (e *TokenEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64-encoded ciphertext produced by Encrypt and
// returns the original plaintext. GCM verifies integrity, so tampered or
// corrupted ciphertexts fail. Empty strings pass through undecrypted.
func (e *TokenEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}
