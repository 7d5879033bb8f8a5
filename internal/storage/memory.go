package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"integration-gateway/internal/common/errors"
)

// MemoryStorage is an in-memory Storage implementation used by tests and by
// single-process deployments that do not need durability.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]*IntegrationRecord // keyed by platform + "\x00" + accountID
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*IntegrationRecord),
	}
}

func recordKey(platform, accountID string) string {
	return platform + "\x00" + accountID
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Health() error {
	return nil
}

func (m *MemoryStorage) FindIntegration(_ context.Context, platform, accountID string) (*IntegrationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[recordKey(platform, accountID)]
	if !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("integration %s/%s not found", platform, accountID))
	}

	copied := *record
	return &copied, nil
}

func (m *MemoryStorage) ListIntegrations(_ context.Context, filters IntegrationFilters) ([]*IntegrationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*IntegrationRecord
	for _, record := range m.records {
		if filters.Matches(record) {
			copied := *record
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *MemoryStorage) UpsertIntegration(_ context.Context, record *IntegrationRecord) error {
	if record.Platform == "" || record.AccountID == "" {
		return errors.ValidationError("platform and account_id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := recordKey(record.Platform, record.AccountID)

	if existing, ok := m.records[key]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		if record.ID == "" {
			record.ID = cuid.New()
		}
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	copied := *record
	m.records[key] = &copied
	return nil
}

func (m *MemoryStorage) UpdateSyncState(_ context.Context, platform, accountID string, lastSync time.Time, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordKey(platform, accountID)]
	if !ok {
		return errors.NotFoundError(fmt.Sprintf("integration %s/%s not found", platform, accountID))
	}

	sync := lastSync
	record.Config.LastSync = &sync
	record.Config.SyncStatus = status
	record.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStorage) DeleteIntegration(_ context.Context, platform, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(platform, accountID)
	if _, ok := m.records[key]; !ok {
		return errors.NotFoundError(fmt.Sprintf("integration %s/%s not found", platform, accountID))
	}
	delete(m.records, key)
	return nil
}
