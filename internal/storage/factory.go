package storage

import (
	"fmt"
)

// FactoryConfig selects and configures a storage backend.
type FactoryConfig struct {
	Type string // "memory", "sqlite" or "postgres"

	// SQLite
	DatabasePath string

	// PostgreSQL
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
}

// NewStorageFunc builds a Storage from a FactoryConfig. The concrete adapters
// register themselves here from the app wiring so this package stays free of
// driver imports.
type NewStorageFunc func(config FactoryConfig) (Storage, error)

var factories = map[string]NewStorageFunc{
	"memory": func(FactoryConfig) (Storage, error) {
		return NewMemoryStorage(), nil
	},
}

// RegisterFactory registers a backend constructor under a type name.
func RegisterFactory(storageType string, fn NewStorageFunc) {
	factories[storageType] = fn
}

// New creates the storage backend named by config.Type.
func New(config FactoryConfig) (Storage, error) {
	fn, ok := factories[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return fn(config)
}
