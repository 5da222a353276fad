package postgres

import "time"

// CacheEntryModel maps to the "marking_cache" table.
type CacheEntryModel struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:128"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CacheEntryModel) TableName() string { return "marking_cache" }
