// Package credentials manages the lifecycle of platform OAuth credentials:
// persistence, encryption at rest, status transitions and lookup for the
// gateway's outbound calls.
package credentials

import (
	"context"
	"fmt"
	"time"

	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/config"
	"integration-gateway/internal/crypto"
	"integration-gateway/internal/storage"
)

// Credential status values.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// Credential is a decrypted, ready-to-use platform credential for one account
// scope. Scope is the platform account identifier: an agency-level scope for
// the parent credential, or a managed-account scope for delegated tokens.
type Credential struct {
	Platform     string     `json:"platform"`
	Scope        string     `json:"scope"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenType    string     `json:"token_type"`
	Scopes       []string   `json:"scopes,omitempty"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Status       string     `json:"status"`
	ParentScope  string     `json:"parent_scope,omitempty"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
}

// ExpiresWithin reports whether the access token expires inside the given
// buffer (or already has). A zero ExpiresAt means the token never expires.
func (c *Credential) ExpiresWithin(buffer time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(c.ExpiresAt) <= buffer
}

// Usable reports whether the credential can authenticate a request right now.
func (c *Credential) Usable() bool {
	return c.Status == StatusConnected && c.AccessToken != ""
}

// Store wraps the storage backend with token encryption and the credential
// status model. All token material is ciphertext at rest.
type Store struct {
	storage   storage.Storage
	encryptor *crypto.TokenEncryptor
	logger    logging.Logger
}

// NewStore creates a credential store over the given backend.
func NewStore(backend storage.Storage, encryptor *crypto.TokenEncryptor, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Store{
		storage:   backend,
		encryptor: encryptor,
		logger:    logger,
	}
}

// Get returns the decrypted credential for a platform and scope. Returns an
// ErrTypeNotFound error when the account was never connected.
func (s *Store) Get(ctx context.Context, platform, scope string) (*Credential, error) {
	record, err := s.storage.FindIntegration(ctx, platform, scope)
	if err != nil {
		return nil, err
	}
	return s.fromRecord(record)
}

// Upsert stores a credential, encrypting token material first. The stored
// record's connected flag follows the credential status.
func (s *Store) Upsert(ctx context.Context, cred *Credential) error {
	if cred.Platform == "" || cred.Scope == "" {
		return errors.ValidationError("credential platform and scope are required")
	}
	if cred.Status == "" {
		cred.Status = StatusConnected
	}

	encAccess, err := s.encryptor.Encrypt(cred.AccessToken)
	if err != nil {
		return errors.InternalError("failed to encrypt access token", err)
	}
	encRefresh, err := s.encryptor.Encrypt(cred.RefreshToken)
	if err != nil {
		return errors.InternalError("failed to encrypt refresh token", err)
	}

	record := &storage.IntegrationRecord{
		Platform:  cred.Platform,
		AccountID: cred.Scope,
		Connected: cred.Status == StatusConnected,
		Config: storage.RecordConfig{
			Tokens: storage.TokenBundle{
				AccessToken:     encAccess,
				RefreshToken:    encRefresh,
				TokenType:       cred.TokenType,
				Scopes:          cred.Scopes,
				IssuedAt:        cred.IssuedAt,
				ExpiresAt:       cred.ExpiresAt,
				ParentAccountID: cred.ParentScope,
			},
			LastSync:   cred.LastSync,
			SyncStatus: cred.Status,
		},
	}

	if err := s.storage.UpsertIntegration(ctx, record); err != nil {
		return err
	}

	s.logger.Info("Credential stored",
		logging.Field{Key: "platform", Value: cred.Platform},
		logging.Field{Key: "scope", Value: cred.Scope},
		logging.Field{Key: "status", Value: cred.Status},
		logging.Field{Key: "expires_at", Value: cred.ExpiresAt},
	)
	return nil
}

// MarkDisconnected flips a credential to disconnected, keeping the record so
// account metadata survives a reconnect. Subsequent Get calls still return
// the credential; callers check Usable.
func (s *Store) MarkDisconnected(ctx context.Context, platform, scope string) error {
	return s.setStatus(ctx, platform, scope, StatusDisconnected)
}

// MarkError flags a credential whose refresh failed terminally. The account
// needs re-authorization by a user.
func (s *Store) MarkError(ctx context.Context, platform, scope string) error {
	return s.setStatus(ctx, platform, scope, StatusError)
}

func (s *Store) setStatus(ctx context.Context, platform, scope, status string) error {
	record, err := s.storage.FindIntegration(ctx, platform, scope)
	if err != nil {
		return err
	}

	record.Connected = status == StatusConnected
	record.Config.SyncStatus = status
	if err := s.storage.UpsertIntegration(ctx, record); err != nil {
		return err
	}

	s.logger.Info("Credential status changed",
		logging.Field{Key: "platform", Value: platform},
		logging.Field{Key: "scope", Value: scope},
		logging.Field{Key: "status", Value: status},
	)
	return nil
}

// Delete removes a credential entirely.
func (s *Store) Delete(ctx context.Context, platform, scope string) error {
	return s.storage.DeleteIntegration(ctx, platform, scope)
}

// ListConnected returns all usable credentials, optionally restricted to one
// platform. Records whose token material fails to decrypt are skipped with a
// warning rather than failing the whole listing.
func (s *Store) ListConnected(ctx context.Context, platform string) ([]*Credential, error) {
	connected := true
	records, err := s.storage.ListIntegrations(ctx, storage.IntegrationFilters{
		Platform:  platform,
		Connected: &connected,
	})
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(records))
	for _, record := range records {
		cred, err := s.fromRecord(record)
		if err != nil {
			s.logger.Warn("Skipping undecryptable credential",
				logging.Field{Key: "platform", Value: record.Platform},
				logging.Field{Key: "scope", Value: record.AccountID},
				logging.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// List returns credential summaries for all platforms, including
// disconnected and errored accounts, for the integrations listing API.
// Token material is decrypted but never serialized (json:"-" fields).
func (s *Store) List(ctx context.Context) ([]*Credential, error) {
	records, err := s.storage.ListIntegrations(ctx, storage.IntegrationFilters{})
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(records))
	for _, record := range records {
		cred, err := s.fromRecord(record)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// RecordSync updates the last-sync marker after a successful platform call.
func (s *Store) RecordSync(ctx context.Context, platform, scope string, at time.Time) error {
	return s.storage.UpdateSyncState(ctx, platform, scope, at, StatusConnected)
}

func (s *Store) fromRecord(record *storage.IntegrationRecord) (*Credential, error) {
	tokens := record.Config.Tokens

	accessToken, err := s.encryptor.Decrypt(tokens.AccessToken)
	if err != nil {
		return nil, errors.InternalError(
			fmt.Sprintf("failed to decrypt access token for %s/%s", record.Platform, record.AccountID), err)
	}
	refreshToken, err := s.encryptor.Decrypt(tokens.RefreshToken)
	if err != nil {
		return nil, errors.InternalError(
			fmt.Sprintf("failed to decrypt refresh token for %s/%s", record.Platform, record.AccountID), err)
	}

	status := record.Config.SyncStatus
	if status == "" {
		if record.Connected {
			status = StatusConnected
		} else {
			status = StatusDisconnected
		}
	}

	return &Credential{
		Platform:     record.Platform,
		Scope:        record.AccountID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokens.TokenType,
		Scopes:       tokens.Scopes,
		IssuedAt:     tokens.IssuedAt,
		ExpiresAt:    tokens.ExpiresAt,
		Status:       status,
		ParentScope:  tokens.ParentAccountID,
		LastSync:     record.Config.LastSync,
	}, nil
}

// ValidatePlatform checks a platform identifier against the known set.
func ValidatePlatform(platform string) error {
	for _, name := range config.PlatformNames {
		if name == platform {
			return nil
		}
	}
	return errors.ValidationError(fmt.Sprintf("unknown platform: %s", platform))
}
