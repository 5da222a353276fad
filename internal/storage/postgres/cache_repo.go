package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/alama/internal/cache"
)

// CacheRepository implements cache.Store over the marking_cache table.
// Rows past their expiry read as misses until purged.
type CacheRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ cache.Store  = (*CacheRepository)(nil)
	_ cache.Purger = (*CacheRepository)(nil)
)

// NewCacheRepository creates a CacheRepository.
func NewCacheRepository(db *gorm.DB) *CacheRepository {
	return &CacheRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source. Intended for tests.
func (r *CacheRepository) WithClock(now func() time.Time) *CacheRepository {
	r.now = now
	return r
}

// Get returns the live value for key.
func (r *CacheRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var model CacheEntryModel
	err := r.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, r.now()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	return model.Value, true, nil
}

// Set upserts key with a fresh expiry.
func (r *CacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	model := CacheEntryModel{
		Key:       key,
		Value:     value,
		ExpiresAt: r.now().Add(ttl),
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).
		Where("cache_key = ?", key).
		Delete(&CacheEntryModel{}).Error; err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (r *CacheRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", r.now()).
		Delete(&CacheEntryModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging expired cache entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}
