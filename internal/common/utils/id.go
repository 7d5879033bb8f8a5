// Package utils provides utility functions shared across the gateway:
// cryptographically secure ID generation and retry logic with backoff.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// GenerateRandomID generates a cryptographically secure random hex ID.
//
// Creates a random ID of the specified length using crypto/rand. The
// resulting string contains hexadecimal characters (0-9, a-f). Each byte
// generates 2 hex characters, so length/2 bytes are generated.
func GenerateRandomID(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GeneratePKCEVerifier generates a PKCE code verifier: 32 random bytes,
// base64url-encoded without padding per RFC 7636.
func GeneratePKCEVerifier() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// PKCEChallenge derives the S256 code challenge from a verifier:
// base64url(SHA-256(verifier)) without padding.
func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
