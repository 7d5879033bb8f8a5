// Package postgres implements the storage interface on PostgreSQL via pgx's
// database/sql driver. Use it when multiple gateway instances share state.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/lucsky/cuid"

	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/storage"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
}

// DSN builds the connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}

// Validate checks the required connection settings.
func (c Config) Validate() error {
	if c.Host == "" || c.Database == "" || c.User == "" {
		return fmt.Errorf("postgres host, database and user are required")
	}
	return nil
}

type Adapter struct {
	db *sql.DB
}

func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open("pgx", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{db: db}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS integrations (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			account_id TEXT NOT NULL,
			connected BOOLEAN NOT NULL DEFAULT FALSE,
			config JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(platform, account_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_platform ON integrations(platform)`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_connected ON integrations(connected)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (a *Adapter) FindIntegration(ctx context.Context, platform, accountID string) (*storage.IntegrationRecord, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, platform, account_id, connected, config, created_at, updated_at
		 FROM integrations WHERE platform = $1 AND account_id = $2`,
		platform, accountID)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(fmt.Sprintf("integration %s/%s not found", platform, accountID))
	}
	if err != nil {
		return nil, errors.StorageError("failed to find integration", err)
	}
	return record, nil
}

func (a *Adapter) ListIntegrations(ctx context.Context, filters storage.IntegrationFilters) ([]*storage.IntegrationRecord, error) {
	query := `SELECT id, platform, account_id, connected, config, created_at, updated_at
		FROM integrations WHERE TRUE`
	var args []interface{}

	if filters.Platform != "" {
		args = append(args, filters.Platform)
		query += fmt.Sprintf(" AND platform = $%d", len(args))
	}
	if filters.Connected != nil {
		args = append(args, *filters.Connected)
		query += fmt.Sprintf(" AND connected = $%d", len(args))
	}
	query += " ORDER BY platform, account_id"

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError("failed to list integrations", err)
	}
	defer rows.Close()

	var records []*storage.IntegrationRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.StorageError("failed to scan integration", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (a *Adapter) UpsertIntegration(ctx context.Context, record *storage.IntegrationRecord) error {
	if record.Platform == "" || record.AccountID == "" {
		return errors.ValidationError("platform and account_id are required")
	}
	if record.ID == "" {
		record.ID = cuid.New()
	}

	configJSON, err := json.Marshal(record.Config)
	if err != nil {
		return errors.InternalError("failed to marshal integration config", err)
	}

	now := time.Now().UTC()
	record.UpdatedAt = now
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO integrations (id, platform, account_id, connected, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (platform, account_id) DO UPDATE SET
			connected = EXCLUDED.connected,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at`,
		record.ID, record.Platform, record.AccountID, record.Connected,
		string(configJSON), record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return errors.StorageError("failed to upsert integration", err)
	}
	return nil
}

func (a *Adapter) UpdateSyncState(ctx context.Context, platform, accountID string, lastSync time.Time, status string) error {
	// Single UPDATE patching only the sync fields. A read-modify-write here
	// could race a concurrent token upsert and write stale token material back.
	result, err := a.db.ExecContext(ctx,
		`UPDATE integrations
		 SET config = jsonb_set(jsonb_set(config, '{last_sync}', to_jsonb($1::text)), '{sync_status}', to_jsonb($2::text)),
		     updated_at = NOW()
		 WHERE platform = $3 AND account_id = $4`,
		lastSync.UTC().Format(time.RFC3339Nano), status, platform, accountID)
	if err != nil {
		return errors.StorageError("failed to update sync state", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.StorageError("failed to check update result", err)
	}
	if affected == 0 {
		return errors.NotFoundError(fmt.Sprintf("integration %s/%s not found", platform, accountID))
	}
	return nil
}

func (a *Adapter) DeleteIntegration(ctx context.Context, platform, accountID string) error {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE platform = $1 AND account_id = $2`,
		platform, accountID)
	if err != nil {
		return errors.StorageError("failed to delete integration", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.StorageError("failed to check delete result", err)
	}
	if affected == 0 {
		return errors.NotFoundError(fmt.Sprintf("integration %s/%s not found", platform, accountID))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*storage.IntegrationRecord, error) {
	var record storage.IntegrationRecord
	var configJSON []byte

	err := row.Scan(&record.ID, &record.Platform, &record.AccountID,
		&record.Connected, &configJSON, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(configJSON, &record.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &record, nil
}
