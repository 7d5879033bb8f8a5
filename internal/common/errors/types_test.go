package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := GatewayError("crm", 502, "upstream exploded")
	msg := err.Error()

	assert.Contains(t, msg, "gateway")
	assert.Contains(t, msg, "HTTP 502")
	assert.Contains(t, msg, "upstream exploded")
}

func TestWithContextAndCode(t *testing.T) {
	err := TokenExchangeError("provider rejected refresh grant", `{"error":"invalid_grant"}`).
		WithCode("invalid_grant").
		WithPlatform("ads_google", "cust-1")

	assert.Equal(t, "invalid_grant", err.Code)
	assert.Equal(t, "ads_google", err.Context["platform"])
	assert.Equal(t, "cust-1", err.Context["scope"])
	assert.Equal(t, `{"error":"invalid_grant"}`, err.Context["provider_error"])
}

func TestIsTypeUnwrapsCauses(t *testing.T) {
	base := StorageError("write failed", fmt.Errorf("disk full"))
	wrapped := fmt.Errorf("saving credential: %w", base)

	assert.True(t, IsType(wrapped, ErrTypeStorage))
	assert.False(t, IsType(wrapped, ErrTypeGateway))
	assert.False(t, IsType(nil, ErrTypeStorage))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrTypeStorage))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeReauthorization, GetType(ReauthorizationError("crm", "loc-1")))
	assert.Equal(t, ErrTypeInternal, GetType(fmt.Errorf("plain")))
	assert.Equal(t, ErrorType(""), GetType(nil))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := ConnectionError("redis unreachable", cause)

	assert.ErrorIs(t, err, cause)
}

func TestReauthorizationErrorCarriesPlatform(t *testing.T) {
	err := ReauthorizationError("crm", "loc-1")

	assert.Equal(t, "crm", err.Context["platform"])
	assert.Equal(t, "loc-1", err.Context["scope"])
	assert.Contains(t, err.Error(), "requires reauthorization")
}
