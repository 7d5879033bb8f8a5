package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/credentials"
	"integration-gateway/internal/crypto"
	"integration-gateway/internal/oauthflow"
	"integration-gateway/internal/ratelimit"
	"integration-gateway/internal/respcache"
	"integration-gateway/internal/storage"
)

type gatewayFixture struct {
	client      *Client
	creds       *credentials.Store
	limiter     *ratelimit.Limiter
	platformSrv *httptest.Server
	tokenCalls  int32
}

// newGatewayFixture wires a full client against a fake platform API and a
// fake token endpoint, with one connected credential (crm/loc-1).
func newGatewayFixture(t *testing.T, platformHandler http.HandlerFunc) *gatewayFixture {
	t.Helper()

	fx := &gatewayFixture{}

	fx.platformSrv = httptest.NewServer(platformHandler)
	t.Cleanup(fx.platformSrv.Close)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fx.tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  fmt.Sprintf("refreshed-access-%d", atomic.LoadInt32(&fx.tokenCalls)),
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refreshed-refresh",
		})
	}))
	t.Cleanup(tokenSrv.Close)

	encryptor, err := crypto.NewTokenEncryptor("unit-test-key")
	require.NoError(t, err)
	fx.creds = credentials.NewStore(storage.NewMemoryStorage(), encryptor, nil)

	require.NoError(t, fx.creds.Upsert(context.Background(), &credentials.Credential{
		Platform:     "crm",
		Scope:        "loc-1",
		AccessToken:  "seed-access",
		RefreshToken: "seed-refresh",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
		Status:       credentials.StatusConnected,
	}))

	providers := map[string]oauthflow.ProviderConfig{
		"crm": {
			Platform:     "crm",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			TokenURL:     tokenSrv.URL + "/oauth/token",
			BaseURL:      fx.platformSrv.URL,
			RedirectURL:  "https://gateway.example/oauth/callback",
		},
	}
	oauth := oauthflow.NewController(providers, fx.creds, oauthflow.NewMemoryStateStore(), tokenSrv.Client(), nil)

	fx.limiter = ratelimit.NewLimiter(map[string]ratelimit.Config{
		"crm": {BurstLimit: 100, Window: time.Second, MinInterval: 0},
	}, nil)

	fx.client = NewClient(
		oauth, fx.creds, fx.limiter, respcache.NewLocalCache(time.Minute),
		fx.platformSrv.Client(), []string{"crm"}, nil)
	return fx
}

func testRequest() *Request {
	return &Request{
		Platform: "crm",
		Scope:    "loc-1",
		Method:   http.MethodGet,
		Path:     "/contacts",
	}
}

func TestCallSuccess(t *testing.T) {
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer seed-access", r.Header.Get("Authorization"))
		assert.Equal(t, "/contacts", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"contacts":[{"id":"c1"}]}`))
	})

	resp, err := fx.client.Call(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, resp.FromCache)
	assert.JSONEq(t, `{"contacts":[{"id":"c1"}]}`, string(resp.Body))

	// A successful call stamps the account's last sync
	cred, err := fx.creds.Get(context.Background(), "crm", "loc-1")
	require.NoError(t, err)
	assert.NotNil(t, cred.LastSync)
}

func TestCallServesRepeatReadsFromCache(t *testing.T) {
	var hits int32
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"n":1}`))
	})
	ctx := context.Background()

	first, err := fx.client.Call(ctx, testRequest())
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := fx.client.Call(ctx, testRequest())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCallDistinguishesCacheKeys(t *testing.T) {
	var hits int32
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{}`))
	})
	ctx := context.Background()

	_, err := fx.client.Call(ctx, testRequest())
	require.NoError(t, err)

	other := testRequest()
	other.Path = "/opportunities"
	_, err = fx.client.Call(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestCallRetriesOnceAfter401(t *testing.T) {
	var platformCalls int32
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&platformCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer refreshed-access-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	})

	resp, err := fx.client.Call(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&platformCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fx.tokenCalls))
}

func TestCallPersistent401RequiresReauthorization(t *testing.T) {
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	ctx := context.Background()

	_, err := fx.client.Call(ctx, testRequest())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeReauthorization))

	// Exactly one forced refresh, then surrender
	assert.Equal(t, int32(1), atomic.LoadInt32(&fx.tokenCalls))

	cred, err := fx.creds.Get(ctx, "crm", "loc-1")
	require.NoError(t, err)
	assert.Equal(t, credentials.StatusError, cred.Status)
}

func TestCallRetriesAfter429WithPenalty(t *testing.T) {
	var platformCalls int32
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&platformCalls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	start := time.Now()
	resp, err := fx.client.Call(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The retry waited out the Retry-After penalty
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&platformCalls))
}

func TestCallDeadCredentialConsumesNoAdmissionSlot(t *testing.T) {
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("platform must not be called for a dead credential")
	})
	ctx := context.Background()

	require.NoError(t, fx.creds.MarkError(ctx, "crm", "loc-1"))

	_, err := fx.client.Call(ctx, testRequest())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeReauthorization))

	// The failed call left the platform's rate window untouched
	used, _, _ := fx.limiter.Snapshot("crm")
	assert.Zero(t, used)
}

func TestCallDoesNotRetryThrottledWrites(t *testing.T) {
	var platformCalls int32
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&platformCalls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	post := testRequest()
	post.Method = http.MethodPost
	post.Body = []byte(`{"name":"x"}`)

	_, err := fx.client.Call(context.Background(), post)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimited))

	// A throttled write is surfaced immediately, never replayed
	assert.Equal(t, int32(1), atomic.LoadInt32(&platformCalls))
}

func TestCallGivesUpAfterBoundedRateLimitRetries(t *testing.T) {
	var platformCalls int32
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&platformCalls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := fx.client.Call(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimited))
	assert.Equal(t, int32(maxRateLimitRetries+1), atomic.LoadInt32(&platformCalls))
}

func TestCallSyncsRemoteQuota(t *testing.T) {
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "3")
		w.Write([]byte(`{}`))
	})

	_, err := fx.client.Call(context.Background(), testRequest())
	require.NoError(t, err)

	used, limit, _ := fx.limiter.Snapshot("crm")
	assert.Equal(t, limit-3, used)
}

func TestCallMapsProviderFailures(t *testing.T) {
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream exploded`))
	})

	_, err := fx.client.Call(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGateway))
}

func TestCallNeverCachesWrites(t *testing.T) {
	var hits int32
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{}`))
	})
	ctx := context.Background()

	post := testRequest()
	post.Method = http.MethodPost
	post.Body = []byte(`{"name":"x"}`)

	_, err := fx.client.Call(ctx, post)
	require.NoError(t, err)
	_, err = fx.client.Call(ctx, post)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestInvalidateCache(t *testing.T) {
	var hits int32
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{}`))
	})
	ctx := context.Background()

	_, err := fx.client.Call(ctx, testRequest())
	require.NoError(t, err)

	require.NoError(t, fx.client.InvalidateCache(ctx, "crm", "loc-1"))

	_, err = fx.client.Call(ctx, testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestCallRejectsIncompleteRequests(t *testing.T) {
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := fx.client.Call(context.Background(), &Request{Platform: "crm"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
