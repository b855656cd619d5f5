package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/util"
)

var errNilBackend = errors.New("cache backend is nil")

// Manager implements analysis.ResultCache over a Backend. Backend and
// encoding failures are logged as *analysis.CacheError and never returned.
type Manager struct {
	backend Backend
	policy  Policy

	hits       atomic.Uint64
	misses     atomic.Uint64
	stores     atomic.Uint64
	rejections atomic.Uint64
	errors     atomic.Uint64
}

// Stats are the manager counters.
type Stats struct {
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Stores     uint64  `json:"stores"`
	Rejections uint64  `json:"rejections"`
	Errors     uint64  `json:"errors"`
	HitRate    float64 `json:"hit_rate"`
}

// NewManager wraps backend with the given storage policy.
func NewManager(backend Backend, policy Policy) *Manager {
	return &Manager{backend: backend, policy: policy.withDefaults()}
}

// Policy returns the effective storage policy.
func (m *Manager) Policy() Policy { return m.policy }

// Get looks up the result for text. Failures count as misses.
func (m *Manager) Get(ctx context.Context, text string) (*analysis.Result, bool) {
	key := util.ContentKey(text)
	if m.backend == nil {
		m.fail("get", key, errNilBackend)
		m.misses.Add(1)
		return nil, false
	}
	data, ok, err := m.backend.Get(ctx, key)
	if err != nil {
		m.fail("get", key, err)
		m.misses.Add(1)
		return nil, false
	}
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	var r analysis.Result
	if err := json.Unmarshal(data, &r); err != nil {
		m.fail("decode", key, err)
		m.misses.Add(1)
		if err := m.backend.Delete(ctx, key); err != nil {
			m.fail("delete", key, err)
		}
		return nil, false
	}
	m.hits.Add(1)
	return &r, true
}

// Put stores r when the policy accepts it and reports whether it was stored.
func (m *Manager) Put(ctx context.Context, text string, r *analysis.Result) bool {
	key := util.ContentKey(text)
	decision := m.policy.Decide(text, r)
	if !decision.Store {
		m.rejections.Add(1)
		logrus.WithFields(logrus.Fields{"key": short(key), "reason": decision.Reason}).Debug("cache store skipped")
		return false
	}
	if m.backend == nil {
		m.fail("set", key, errNilBackend)
		return false
	}
	stored := *r
	stored.FromCache = false
	data, err := json.Marshal(&stored)
	if err != nil {
		m.fail("encode", key, err)
		return false
	}
	if err := m.backend.Set(ctx, key, data, decision.TTL); err != nil {
		m.fail("set", key, err)
		return false
	}
	m.stores.Add(1)
	logrus.WithFields(logrus.Fields{
		"key":    short(key),
		"ttl":    decision.TTL.String(),
		"reason": decision.Reason,
	}).Debug("cached analysis result")
	return true
}

// Invalidate removes the entry for text and reports whether the backend
// accepted the delete.
func (m *Manager) Invalidate(ctx context.Context, text string) bool {
	key := util.ContentKey(text)
	if m.backend == nil {
		m.fail("delete", key, errNilBackend)
		return false
	}
	if err := m.backend.Delete(ctx, key); err != nil {
		m.fail("delete", key, err)
		return false
	}
	logrus.WithField("key", short(key)).Info("cache entry invalidated")
	return true
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		Hits:       m.hits.Load(),
		Misses:     m.misses.Load(),
		Stores:     m.stores.Load(),
		Rejections: m.rejections.Load(),
		Errors:     m.errors.Load(),
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups)
	}
	return s
}

func (m *Manager) fail(op, key string, err error) {
	m.errors.Add(1)
	cacheErr := &analysis.CacheError{Op: op, Key: short(key), Err: err}
	logrus.WithError(cacheErr).WithField("op", op).Warn("cache operation failed")
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

func (s Stats) String() string {
	return fmt.Sprintf("hits=%d misses=%d stores=%d rejections=%d errors=%d hit_rate=%.2f",
		s.Hits, s.Misses, s.Stores, s.Rejections, s.Errors, s.HitRate)
}

var _ analysis.ResultCache = (*Manager)(nil)
