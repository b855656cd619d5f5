package cache

import (
	"context"
	"sync"
	"time"
)

// Backend stores encoded results by content key. Expired entries report a miss.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Backend with lazy expiry.
type Memory struct {
	entries sync.Map // map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory returns an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	cached := entry.(memoryEntry)
	if !cached.expiresAt.IsZero() && !m.now().Before(cached.expiresAt) {
		m.entries.Delete(key)
		return nil, false, nil
	}
	return cached.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries.Store(key, entry)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (m *Memory) Purge() int {
	now := m.now()
	removed := 0
	m.entries.Range(func(key, value any) bool {
		e := value.(memoryEntry)
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			m.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len counts stored entries, including expired ones not yet purged.
func (m *Memory) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

var _ Backend = (*Memory)(nil)
