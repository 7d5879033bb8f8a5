package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/storage"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(filepath.Join(t.TempDir(), "gateway_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func record(platform, accountID string) *storage.IntegrationRecord {
	return &storage.IntegrationRecord{
		Platform:  platform,
		AccountID: accountID,
		Connected: true,
		Config: storage.RecordConfig{
			Tokens: storage.TokenBundle{
				AccessToken:  "enc-access",
				RefreshToken: "enc-refresh",
				TokenType:    "Bearer",
				ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
			},
			SyncStatus: "connected",
		},
	}
}

func TestAdapterHealth(t *testing.T) {
	adapter := newTestAdapter(t)
	assert.NoError(t, adapter.Health())
}

func TestAdapterUpsertFindRoundTrip(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	rec := record("crm", "loc-1")
	require.NoError(t, adapter.UpsertIntegration(ctx, rec))
	assert.NotEmpty(t, rec.ID)

	found, err := adapter.FindIntegration(ctx, "crm", "loc-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.True(t, found.Connected)
	assert.Equal(t, "enc-access", found.Config.Tokens.AccessToken)
	assert.Equal(t, rec.Config.Tokens.ExpiresAt, found.Config.Tokens.ExpiresAt)
}

func TestAdapterUpsertConflictUpdates(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	first := record("crm", "loc-1")
	require.NoError(t, adapter.UpsertIntegration(ctx, first))

	second := record("crm", "loc-1")
	second.Config.Tokens.AccessToken = "enc-access-2"
	second.Connected = false
	require.NoError(t, adapter.UpsertIntegration(ctx, second))

	all, err := adapter.ListIntegrations(ctx, storage.IntegrationFilters{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "enc-access-2", all[0].Config.Tokens.AccessToken)
	assert.False(t, all[0].Connected)
}

func TestAdapterListFilters(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.UpsertIntegration(ctx, record("crm", "loc-1")))

	off := record("crm", "loc-2")
	off.Connected = false
	require.NoError(t, adapter.UpsertIntegration(ctx, off))

	require.NoError(t, adapter.UpsertIntegration(ctx, record("ads_meta", "act-1")))

	connected := true
	got, err := adapter.ListIntegrations(ctx, storage.IntegrationFilters{
		Platform:  "crm",
		Connected: &connected,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "loc-1", got[0].AccountID)
}

func TestAdapterNotFound(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	_, err := adapter.FindIntegration(ctx, "crm", "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	err = adapter.DeleteIntegration(ctx, "crm", "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestAdapterUpdateSyncState(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.UpsertIntegration(ctx, record("crm", "loc-1")))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, adapter.UpdateSyncState(ctx, "crm", "loc-1", at, "connected"))

	found, err := adapter.FindIntegration(ctx, "crm", "loc-1")
	require.NoError(t, err)
	require.NotNil(t, found.Config.LastSync)
	assert.Equal(t, at, *found.Config.LastSync)

	// Only the sync fields change; token material is untouched
	assert.Equal(t, "enc-access", found.Config.Tokens.AccessToken)
	assert.Equal(t, "enc-refresh", found.Config.Tokens.RefreshToken)

	err = adapter.UpdateSyncState(ctx, "crm", "missing", at, "connected")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestAdapterUpdateSyncStateNeverClobbersTokens(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.UpsertIntegration(ctx, record("crm", "loc-1")))

	// Sync-state writes racing token rotations must never resurrect an old
	// token bundle.
	const rotations = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < rotations; i++ {
			adapter.UpdateSyncState(ctx, "crm", "loc-1", time.Now().UTC(), "connected")
		}
	}()

	var final string
	for i := 1; i <= rotations; i++ {
		rotated := record("crm", "loc-1")
		final = fmt.Sprintf("enc-refresh-%d", i)
		rotated.Config.Tokens.RefreshToken = final
		require.NoError(t, adapter.UpsertIntegration(ctx, rotated))
	}
	<-done

	found, err := adapter.FindIntegration(ctx, "crm", "loc-1")
	require.NoError(t, err)
	assert.Equal(t, final, found.Config.Tokens.RefreshToken)
}

func TestAdapterDelete(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.UpsertIntegration(ctx, record("crm", "loc-1")))
	require.NoError(t, adapter.DeleteIntegration(ctx, "crm", "loc-1"))

	_, err := adapter.FindIntegration(ctx, "crm", "loc-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}
