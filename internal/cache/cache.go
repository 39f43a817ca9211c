// Package cache provides the TTL-bounded geocode cache keyed by
// normalized-address hash.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/medintel/geocoding-service/internal/domain"
	"github.com/medintel/geocoding-service/internal/observability"
)

// entry is one cached geocode result with its expiry.
type entry struct {
	result    domain.GeocodeResult
	storedAt  time.Time
	expiresAt time.Time
}

// Memory is an in-process implementation of domain.GeocodeCache.
// Expired entries are evicted lazily on Get and by the background Sweep
// loop; they are never served either way. Concurrent Get/Put on the same
// key are safe — reads only contend with writes for the duration of a
// single entry swap.
type Memory struct {
	ttl     time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory creates an in-memory cache with the given TTL.
func NewMemory(ttl time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Memory {
	return &Memory{
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]entry),
	}
}

// Get returns the cached result for hash if present and unexpired.
// A hit on an expired entry behaves as a miss and evicts it.
func (m *Memory) Get(_ context.Context, hash string) (domain.GeocodeResult, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[hash]
	m.mu.RUnlock()

	if !ok {
		return domain.GeocodeResult{}, false, nil
	}
	if !m.clock.Now().Before(e.expiresAt) {
		m.evict(hash, e.expiresAt)
		return domain.GeocodeResult{}, false, nil
	}
	return e.result, true, nil
}

// Put stores a result under hash, overwriting any previous entry and
// restarting its TTL.
func (m *Memory) Put(_ context.Context, hash string, result domain.GeocodeResult) error {
	now := m.clock.Now()

	m.mu.Lock()
	m.entries[hash] = entry{
		result:    result,
		storedAt:  now,
		expiresAt: now.Add(m.ttl),
	}
	size := len(m.entries)
	m.mu.Unlock()

	m.metrics.CacheSize.Set(float64(size))
	return nil
}

// Invalidate removes the entry for hash, if any.
func (m *Memory) Invalidate(_ context.Context, hash string) error {
	m.mu.Lock()
	delete(m.entries, hash)
	size := len(m.entries)
	m.mu.Unlock()

	m.metrics.CacheSize.Set(float64(size))
	return nil
}

// Sweep evicts expired entries every interval until ctx is cancelled.
// Run it on its own goroutine.
func (m *Memory) Sweep(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			evicted := m.sweepOnce()
			if evicted > 0 {
				m.logger.Debug("cache sweep", "evicted", evicted)
			}
		}
	}
}

func (m *Memory) sweepOnce() int {
	now := m.clock.Now()

	m.mu.Lock()
	evicted := 0
	for hash, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, hash)
			evicted++
		}
	}
	size := len(m.entries)
	m.mu.Unlock()

	m.metrics.CacheEvictions.Add(float64(evicted))
	m.metrics.CacheSize.Set(float64(size))
	return evicted
}

// evict removes hash only if its expiry still matches, so a concurrent
// Put that refreshed the entry is not discarded.
func (m *Memory) evict(hash string, expiresAt time.Time) {
	m.mu.Lock()
	if e, ok := m.entries[hash]; ok && e.expiresAt.Equal(expiresAt) {
		delete(m.entries, hash)
		m.metrics.CacheEvictions.Inc()
	}
	size := len(m.entries)
	m.mu.Unlock()

	m.metrics.CacheSize.Set(float64(size))
}

// Len reports the live entry count, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
