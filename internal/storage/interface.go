// Package storage defines the persistence interface for integration records
// and the pluggable adapters behind it (memory, SQLite, PostgreSQL).
package storage

import (
	"context"
	"time"
)

// Storage is the persistence contract for integration records. Adapters must
// be safe for concurrent use.
type Storage interface {
	// Connection management
	Close() error
	Health() error

	// FindIntegration returns the record for a platform and account, or an
	// ErrTypeNotFound error when no record exists.
	FindIntegration(ctx context.Context, platform, accountID string) (*IntegrationRecord, error)

	// ListIntegrations returns all records, optionally filtered.
	ListIntegrations(ctx context.Context, filters IntegrationFilters) ([]*IntegrationRecord, error)

	// UpsertIntegration inserts or replaces the record keyed by
	// (platform, account_id). A missing ID is assigned by the adapter.
	UpsertIntegration(ctx context.Context, record *IntegrationRecord) error

	// UpdateSyncState updates only the last-sync timestamp and sync status
	// without touching token material.
	UpdateSyncState(ctx context.Context, platform, accountID string, lastSync time.Time, status string) error

	// DeleteIntegration removes the record for a platform and account.
	DeleteIntegration(ctx context.Context, platform, accountID string) error
}

// IntegrationRecord is one connected (or formerly connected) platform account.
// Token material inside Config is encrypted before it reaches an adapter.
type IntegrationRecord struct {
	ID        string       `json:"id"`
	Platform  string       `json:"platform"`
	AccountID string       `json:"account_id"`
	Connected bool         `json:"connected"`
	Config    RecordConfig `json:"config"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RecordConfig is the JSON document stored alongside each integration.
type RecordConfig struct {
	Tokens      TokenBundle       `json:"tokens"`
	AccountInfo map[string]string `json:"account_info,omitempty"`
	LastSync    *time.Time        `json:"last_sync,omitempty"`
	SyncStatus  string            `json:"sync_status,omitempty"` // connected, disconnected, error
}

// TokenBundle carries the OAuth token material for one account. AccessToken
// and RefreshToken are ciphertext at rest.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Scopes       []string  `json:"scopes,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	// ParentAccountID is set on delegated tokens minted from an agency-level
	// credential for a single managed account.
	ParentAccountID string `json:"parent_account_id,omitempty"`
}

// IntegrationFilters narrows ListIntegrations results. Zero values match all.
type IntegrationFilters struct {
	Platform  string
	Connected *bool
}

// Matches reports whether a record passes the filters.
func (f IntegrationFilters) Matches(record *IntegrationRecord) bool {
	if f.Platform != "" && record.Platform != f.Platform {
		return false
	}
	if f.Connected != nil && record.Connected != *f.Connected {
		return false
	}
	return true
}
