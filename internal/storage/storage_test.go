package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integration-gateway/internal/common/errors"
)

func testRecord(platform, accountID string) *IntegrationRecord {
	return &IntegrationRecord{
		Platform:  platform,
		AccountID: accountID,
		Connected: true,
		Config: RecordConfig{
			Tokens: TokenBundle{
				AccessToken:  "enc-access",
				RefreshToken: "enc-refresh",
				TokenType:    "Bearer",
				ExpiresAt:    time.Now().Add(time.Hour).UTC(),
			},
			SyncStatus: "connected",
		},
	}
}

func TestMemoryStorageUpsertAndFind(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	record := testRecord("crm", "loc-1")
	require.NoError(t, store.UpsertIntegration(ctx, record))
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.CreatedAt.IsZero())

	found, err := store.FindIntegration(ctx, "crm", "loc-1")
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, "enc-access", found.Config.Tokens.AccessToken)
}

func TestMemoryStorageUpsertIsIdempotentPerAccount(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	first := testRecord("crm", "loc-1")
	require.NoError(t, store.UpsertIntegration(ctx, first))

	second := testRecord("crm", "loc-1")
	second.Config.Tokens.AccessToken = "enc-access-2"
	require.NoError(t, store.UpsertIntegration(ctx, second))

	// Same (platform, account) keeps the original identity
	assert.Equal(t, first.ID, second.ID)

	found, err := store.FindIntegration(ctx, "crm", "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "enc-access-2", found.Config.Tokens.AccessToken)

	all, err := store.ListIntegrations(ctx, IntegrationFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStorageFindMissing(t *testing.T) {
	store := NewMemoryStorage()

	_, err := store.FindIntegration(context.Background(), "crm", "nope")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestMemoryStorageListFilters(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	connected := testRecord("crm", "loc-1")
	require.NoError(t, store.UpsertIntegration(ctx, connected))

	disconnected := testRecord("crm", "loc-2")
	disconnected.Connected = false
	require.NoError(t, store.UpsertIntegration(ctx, disconnected))

	other := testRecord("ads_meta", "act-9")
	require.NoError(t, store.UpsertIntegration(ctx, other))

	byPlatform, err := store.ListIntegrations(ctx, IntegrationFilters{Platform: "crm"})
	require.NoError(t, err)
	assert.Len(t, byPlatform, 2)

	isConnected := true
	byState, err := store.ListIntegrations(ctx, IntegrationFilters{Connected: &isConnected})
	require.NoError(t, err)
	assert.Len(t, byState, 2)

	both, err := store.ListIntegrations(ctx, IntegrationFilters{Platform: "crm", Connected: &isConnected})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "loc-1", both[0].AccountID)
}

func TestMemoryStorageUpdateSyncState(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.UpsertIntegration(ctx, testRecord("crm", "loc-1")))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.UpdateSyncState(ctx, "crm", "loc-1", at, "connected"))

	found, err := store.FindIntegration(ctx, "crm", "loc-1")
	require.NoError(t, err)
	require.NotNil(t, found.Config.LastSync)
	assert.Equal(t, at, *found.Config.LastSync)

	err = store.UpdateSyncState(ctx, "crm", "missing", at, "connected")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestMemoryStorageDelete(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.UpsertIntegration(ctx, testRecord("crm", "loc-1")))
	require.NoError(t, store.DeleteIntegration(ctx, "crm", "loc-1"))

	_, err := store.FindIntegration(ctx, "crm", "loc-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	err = store.DeleteIntegration(ctx, "crm", "loc-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestMemoryStorageReturnsCopies(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.UpsertIntegration(ctx, testRecord("crm", "loc-1")))

	found, err := store.FindIntegration(ctx, "crm", "loc-1")
	require.NoError(t, err)
	found.Config.Tokens.AccessToken = "mutated"

	again, err := store.FindIntegration(ctx, "crm", "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "enc-access", again.Config.Tokens.AccessToken)
}

func TestFactoryRegistry(t *testing.T) {
	store, err := New(FactoryConfig{Type: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, store)

	_, err = New(FactoryConfig{Type: "cassandra"})
	assert.Error(t, err)
}
