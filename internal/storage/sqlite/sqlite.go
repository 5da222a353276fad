// Package sqlite keeps cached marking responses in a local SQLite file via
// the pure-Go glebarez driver. It reuses the PostgreSQL cache repository;
// GORM's dialect covers the SQL differences.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/jkaninda/alama/internal/storage"
	pgstore "github.com/jkaninda/alama/internal/storage/postgres"
)

const busyTimeout = 5 * time.Second

// Config locates the database file.
type Config struct {
	Path        string
	JournalMode string // wal (default), delete, truncate or memory.
}

// Store is the SQLite cache backend.
type Store struct {
	*pgstore.CacheRepository
	db   *gorm.DB
	path string
}

var _ storage.Store = (*Store)(nil)

// Open creates the parent directory if needed and opens the file with a
// single connection, so concurrent cache writes queue instead of failing
// with SQLITE_BUSY.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	mode, err := journalMode(cfg.JournalMode)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)",
		cfg.Path, mode, busyTimeout.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  pgstore.NewGormLogger(slogger.With(slog.String("driver", "sqlite"))),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", cfg.Path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	slogger.Info("sqlite cache store opened", slog.String("path", cfg.Path), slog.String("journal_mode", mode))
	return &Store{
		CacheRepository: pgstore.NewCacheRepository(db),
		db:              db,
		path:            cfg.Path,
	}, nil
}

func journalMode(m string) (string, error) {
	switch m = strings.ToLower(m); m {
	case "":
		return "wal", nil
	case "wal", "delete", "truncate", "memory":
		return m, nil
	default:
		return "", fmt.Errorf("unsupported sqlite journal mode %q", m)
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := pgstore.AutoMigrate(ctx, s.db); err != nil {
		return fmt.Errorf("migrating marking_cache: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Driver() string { return storage.DriverSQLite }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
