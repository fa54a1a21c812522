// Package storage defines the unified Store interface that abstracts run
// persistence. Two backends are provided: SQLite (default, zero-config)
// and PostgreSQL (production).
package storage

import (
	"context"

	"github.com/bassmang/kiongozi/internal/orchestrator"
)

// Store is the unified persistence interface for Kiongozi.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	// Runs returns the run sub-store: runs, checkpoint records, and
	// transcript messages.
	Runs() orchestrator.RunStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
