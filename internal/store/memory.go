package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/swinglab/go-bars-pipeline/internal/models"
)

type memoryEntry struct {
	series *models.Series
	meta   *models.CacheMeta
}

// MemoryStore is a thread-safe in-memory cache store. It copies series on
// the way in and out so callers cannot mutate cached state.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[key]memoryEntry
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[key]memoryEntry),
		now:     time.Now,
	}
}

// WithClock overrides the stored-at clock. Used by tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// Load implements CacheStore.
func (m *MemoryStore) Load(ctx context.Context, symbol string, tf models.Timeframe) (*models.Series, *models.CacheMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, newStoreError("load", keyOf(symbol, tf), err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, nil, newStoreError("load", keyOf(symbol, tf), errors.New("store is closed"))
	}

	entry, ok := m.entries[keyOf(symbol, tf)]
	if !ok {
		return nil, nil, ErrNotFound
	}

	metaCopy := *entry.meta
	return entry.series.Clone(), &metaCopy, nil
}

// Save implements CacheStore. The previous entry for the key, if any, is
// replaced wholesale.
func (m *MemoryStore) Save(ctx context.Context, series *models.Series) error {
	k := keyOf(series.Symbol, series.Timeframe)
	if err := ctx.Err(); err != nil {
		return newStoreError("save", k, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return newStoreError("save", k, errors.New("store is closed"))
	}

	m.entries[k] = memoryEntry{
		series: series.Clone(),
		meta:   metaFor(series, m.now()),
	}
	return nil
}

// Close implements CacheStore.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}
