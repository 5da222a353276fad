package postgres

import (
	"context"
	"fmt"

	"github.com/jkaninda/alama/internal/storage"
)

// Store is the PostgreSQL cache backend: the cache repository plus the
// pool lifecycle.
type Store struct {
	*CacheRepository
	pgDB *DB
}

var _ storage.Store = (*Store)(nil)

func NewStore(pgDB *DB) *Store {
	return &Store{
		CacheRepository: NewCacheRepository(pgDB.GormDB()),
		pgDB:            pgDB,
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := AutoMigrate(ctx, s.pgDB.GormDB()); err != nil {
		return fmt.Errorf("migrating marking_cache: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pgDB.Ping(ctx) }

func (s *Store) Close() error { return s.pgDB.Close() }

func (s *Store) Driver() string { return storage.DriverPostgres }
