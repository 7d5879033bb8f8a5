// Package signature verifies HMAC signatures on inbound platform webhooks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"integration-gateway/internal/common/errors"
)

// Verifier checks webhook payload signatures for one platform's shared
// secret. The zero-secret verifier rejects everything.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier over a platform's webhook secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks an HMAC-SHA256 signature over the payload. The header value
// may carry a "sha256=" prefix, which some platforms add.
func (v *Verifier) Verify(payload []byte, signatureHeader string) error {
	if len(v.secret) == 0 {
		return errors.ConfigError("webhook secret is not configured")
	}
	if signatureHeader == "" {
		return errors.ValidationError("missing webhook signature")
	}

	provided := strings.TrimPrefix(signatureHeader, "sha256=")

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time compare; a plain == would leak match length
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return errors.ValidationError("webhook signature mismatch")
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of a payload, used by tests and by
// outbound webhook replays.
func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
