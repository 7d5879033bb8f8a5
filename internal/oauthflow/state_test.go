package oauthflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integration-gateway/internal/common/errors"
)

func TestStateEncodeDecode(t *testing.T) {
	state := OAuthState{
		Tenant:    "tenant-1",
		Platform:  "crm",
		Timestamp: time.Now().Unix(),
		Nonce:     "abc123",
	}

	encoded, err := state.Encode()
	require.NoError(t, err)

	decoded, err := DecodeState(encoded)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestDecodeStateRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not-base64-!!!",
		"bm90IGpzb24",     // valid base64, not JSON
		"e30",             // {}, missing nonce and platform
	}

	for _, input := range cases {
		_, err := DecodeState(input)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
	}
}

func stateStores(t *testing.T) map[string]StateStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]StateStore{
		"memory": NewMemoryStateStore(),
		"redis":  NewRedisStateStore(client),
	}
}

func TestStateStoreConsumeIsOneShot(t *testing.T) {
	for name, store := range stateStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			pending := pendingAuth{
				State:        OAuthState{Tenant: "t", Platform: "crm", Nonce: "n1"},
				PKCEVerifier: "verifier",
			}

			require.NoError(t, store.Save(ctx, "n1", pending, StateTTL))

			got, err := store.Consume(ctx, "n1")
			require.NoError(t, err)
			assert.Equal(t, pending, got)

			// Replayed callback must fail
			_, err = store.Consume(ctx, "n1")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
		})
	}
}

func TestStateStoreUnknownNonce(t *testing.T) {
	for name, store := range stateStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Consume(context.Background(), "never-saved")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
		})
	}
}

func TestMemoryStateStoreExpiry(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	pending := pendingAuth{State: OAuthState{Tenant: "t", Platform: "crm", Nonce: "n1"}}
	require.NoError(t, store.Save(ctx, "n1", pending, 20*time.Millisecond))

	time.Sleep(40 * time.Millisecond)

	_, err := store.Consume(ctx, "n1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
}
