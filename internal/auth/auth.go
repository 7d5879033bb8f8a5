// Package auth provides JWT bearer authentication for the gateway's API
// surface. Dashboard backends hold a shared signing secret and mint
// short-lived tokens per tenant.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/common/logging"
)

type contextKey string

// tenantKey carries the authenticated tenant through request contexts.
const tenantKey contextKey = "tenant"

// Claims are the gateway's JWT claims: standard registered claims plus the
// tenant the token acts for.
type Claims struct {
	Tenant string `json:"tenant"`
	jwt.RegisteredClaims
}

// Service issues and validates API tokens.
type Service struct {
	secret []byte
	logger logging.Logger
}

// NewService creates an auth service over the shared signing secret.
func NewService(secret string, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{secret: []byte(secret), logger: logger}
}

// IssueToken mints a token for a tenant, mainly for tests and local tooling.
func (s *Service) IssueToken(tenant string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Tenant: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a bearer token.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.ValidationError("unexpected signing method")
			}
			return s.secret, nil
		})
	if err != nil {
		return nil, errors.ValidationError("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.ValidationError("invalid token claims")
	}
	if claims.Tenant == "" {
		return nil, errors.ValidationError("token missing tenant")
	}
	return claims, nil
}

// Middleware enforces bearer authentication and stores the tenant in the
// request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}

		claims, err := s.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), tenantKey, claims.Tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantFromContext returns the authenticated tenant, empty when the request
// skipped auth (e.g. the OAuth callback).
func TenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantKey).(string)
	return tenant
}
