package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndValidateToken(t *testing.T) {
	svc := NewService(testSecret, nil)

	token, err := svc.IssueToken("tenant-1", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.Tenant)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewService(testSecret, nil)

	token, err := svc.IssueToken("tenant-1", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewService(testSecret, nil).IssueToken("tenant-1", time.Hour)
	require.NoError(t, err)

	_, err = NewService("another-secret-another-secret-00", nil).ValidateToken(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	svc := NewService(testSecret, nil)

	var seenTenant string
	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTenant = TenantFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("accepts valid bearer token", func(t *testing.T) {
		token, err := svc.IssueToken("tenant-1", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/integrations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "tenant-1", seenTenant)
	})

	t.Run("rejects missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/integrations", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/integrations", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
