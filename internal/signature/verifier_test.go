package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integration-gateway/internal/common/errors"
)

func TestVerifyValidSignature(t *testing.T) {
	verifier := NewVerifier("shared-secret")
	payload := []byte(`{"type":"ContactCreate","locationId":"loc-1"}`)

	sig := verifier.Sign(payload)
	assert.NoError(t, verifier.Verify(payload, sig))
}

func TestVerifyAcceptsPrefixedHeader(t *testing.T) {
	verifier := NewVerifier("shared-secret")
	payload := []byte(`{}`)

	sig := "sha256=" + verifier.Sign(payload)
	assert.NoError(t, verifier.Verify(payload, sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	verifier := NewVerifier("shared-secret")

	sig := verifier.Sign([]byte(`{"amount":10}`))
	err := verifier.Verify([]byte(`{"amount":1000}`), sig)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{}`)
	sig := NewVerifier("secret-a").Sign(payload)

	err := NewVerifier("secret-b").Verify(payload, sig)
	assert.Error(t, err)
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	err := NewVerifier("shared-secret").Verify([]byte(`{}`), "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestVerifyWithoutConfiguredSecret(t *testing.T) {
	err := NewVerifier("").Verify([]byte(`{}`), "deadbeef")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
