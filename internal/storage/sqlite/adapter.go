// Package sqlite implements the storage interface on SQLite. It is the
// default backend for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lucsky/cuid"
	_ "github.com/mattn/go-sqlite3"

	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/storage"
)

type Adapter struct {
	db   *sql.DB
	path string
}

func NewAdapter(databasePath string) (*Adapter, error) {
	if databasePath == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}

	db, err := sql.Open("sqlite3", databasePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{db: db, path: databasePath}

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
			connected BOOLEAN NOT NULL DEFAULT 0,
			config TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
		 FROM integrations WHERE platform = ? AND account_id = ?`,
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
		FROM integrations WHERE 1=1`
	var args []interface{}

	if filters.Platform != "" {
		query += " AND platform = ?"
		args = append(args, filters.Platform)
	}
	if filters.Connected != nil {
		query += " AND connected = ?"
		args = append(args, *filters.Connected)
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
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(platform, account_id) DO UPDATE SET
			connected = excluded.connected,
			config = excluded.config,
			updated_at = excluded.updated_at`,
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
		 SET config = json_set(config, '$.last_sync', ?, '$.sync_status', ?),
		     updated_at = ?
		 WHERE platform = ? AND account_id = ?`,
		lastSync.UTC().Format(time.RFC3339Nano), status, time.Now().UTC(),
		platform, accountID)
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
		`DELETE FROM integrations WHERE platform = ? AND account_id = ?`,
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
	var configJSON string

	err := row.Scan(&record.ID, &record.Platform, &record.AccountID,
		&record.Connected, &configJSON, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &record.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &record, nil
}
