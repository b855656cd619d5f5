package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheStore persists encoded analysis results in the cache_entries table.
// It satisfies the cache backend contract.
type CacheStore struct {
	db  *Database
	now func() time.Time
}

// Cache returns the SQLite cache backend sharing this database.
func (d *Database) Cache() *CacheStore {
	return &CacheStore{db: d, now: time.Now}
}

// Get returns the value for key unless it is missing or expired.
func (c *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry CacheEntry
	err := c.db.gorm.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, c.now().UTC()).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Value, true, nil
}

// Set upserts the value with the given time to live.
func (c *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 100 * 365 * 24 * time.Hour
	}
	entry := &CacheEntry{Key: key, Value: value, ExpiresAt: c.now().UTC().Add(ttl)}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.db.gorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(entry).Error
}

// Delete removes key; deleting a missing key is not an error.
func (c *CacheStore) Delete(ctx context.Context, key string) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.db.gorm.WithContext(ctx).Where("cache_key = ?", key).Delete(&CacheEntry{}).Error
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (c *CacheStore) PurgeExpired(ctx context.Context) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	res := c.db.gorm.WithContext(ctx).Where("expires_at <= ?", c.now().UTC()).Delete(&CacheEntry{})
	return res.RowsAffected, res.Error
}

// Count returns the number of live cache rows.
func (c *CacheStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.gorm.WithContext(ctx).Model(&CacheEntry{}).Where("expires_at > ?", c.now().UTC()).Count(&count).Error
	return count, err
}
