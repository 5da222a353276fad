// Package storage is the persistent tier of the response cache. SQLite is
// the zero-config default; PostgreSQL is used when several instances share
// one cache.
package storage

import (
	"context"

	"github.com/jkaninda/alama/internal/cache"
)

// Driver names accepted in storage.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is a cache.Store that also owns a database connection.
type Store interface {
	cache.Store
	cache.Purger
	cache.Pinger

	// Migrate creates the marking_cache table if it is missing.
	Migrate(ctx context.Context) error
	Close() error
	// Driver reports DriverSQLite or DriverPostgres.
	Driver() string
}
