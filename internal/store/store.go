// Package store defines the cache store collaborator: persistence of bar
// series plus the metadata the freshness gate decides on. Two backends are
// provided, an in-memory store for tests and ephemeral runs and a
// DuckDB-backed store for durable caching. A save supersedes the previous
// entry for its (symbol, timeframe) key wholesale; entries are never
// merged or partially updated.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/swinglab/go-bars-pipeline/internal/models"
)

// ErrNotFound is returned by Load when no entry exists for the key.
var ErrNotFound = errors.New("cache entry not found")

// CacheStore is the collaborator contract used around the freshness gate.
// The gate itself never calls the store; the caller loads metadata, asks
// the gate, and fetches/saves as directed.
type CacheStore interface {
	// Load returns the cached series and its metadata for a key, or
	// ErrNotFound.
	Load(ctx context.Context, symbol string, tf models.Timeframe) (*models.Series, *models.CacheMeta, error)

	// Save persists the series under its (symbol, timeframe) key,
	// replacing any previous entry, and stamps the stored-at time.
	Save(ctx context.Context, series *models.Series) error

	// Close releases backend resources.
	Close() error
}

// StoreError wraps a backend failure with the operation and key context.
type StoreError struct {
	Op        string
	Symbol    string
	Timeframe string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s for %s/%s: %v", e.Op, e.Symbol, e.Timeframe, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func newStoreError(op string, series key, err error) *StoreError {
	return &StoreError{Op: op, Symbol: series.symbol, Timeframe: series.timeframe, Err: err}
}

type key struct {
	symbol    string
	timeframe string
}

func keyOf(symbol string, tf models.Timeframe) key {
	return key{symbol: symbol, timeframe: string(tf)}
}

// joinColumns flattens a source-column list for storage. A nil list means
// every required column was present in the source.
func joinColumns(cols []string) string {
	return strings.Join(cols, ",")
}

func splitColumns(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func metaFor(series *models.Series, storedAt time.Time) *models.CacheMeta {
	return &models.CacheMeta{
		Symbol:    series.Symbol,
		Timeframe: series.Timeframe,
		MinDate:   series.MinDate(),
		MaxDate:   series.MaxDate(),
		StoredAt:  storedAt,
	}
}
