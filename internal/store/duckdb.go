package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/swinglab/go-bars-pipeline/internal/models"
)

// DuckDBStore persists cached series in a DuckDB database. Each save runs
// in a transaction that deletes the previous rows for the key and inserts
// the new ones, so a reader always sees a whole entry or none.
type DuckDBStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewDuckDBStore opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an ephemeral database.
func NewDuckDBStore(dbPath string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, newStoreError("open", key{}, fmt.Errorf("open duckdb at %s: %w", dbPath, err))
	}

	// DuckDB favors a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &DuckDBStore{
		db:     db,
		dbPath: dbPath,
		logger: logger,
		now:    time.Now,
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("duckdb cache store ready", "db_path", dbPath)
	return s, nil
}

// WithClock overrides the stored-at clock. Used by tests.
func (s *DuckDBStore) WithClock(now func() time.Time) *DuckDBStore {
	s.now = now
	return s
}

func (s *DuckDBStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			symbol VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE,
			PRIMARY KEY (symbol, timeframe, date)
		)`,
		`CREATE TABLE IF NOT EXISTS cache_meta (
			symbol VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			columns VARCHAR NOT NULL,
			min_date TIMESTAMPTZ NOT NULL,
			max_date TIMESTAMPTZ NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (symbol, timeframe)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return newStoreError("migrate", key{}, err)
		}
	}
	return nil
}

// Load implements CacheStore.
func (s *DuckDBStore) Load(ctx context.Context, symbol string, tf models.Timeframe) (*models.Series, *models.CacheMeta, error) {
	k := keyOf(symbol, tf)

	meta := &models.CacheMeta{Symbol: symbol, Timeframe: tf}
	var columns string
	err := s.db.QueryRowContext(ctx,
		`SELECT columns, min_date, max_date, stored_at FROM cache_meta WHERE symbol = ? AND timeframe = ?`,
		symbol, string(tf),
	).Scan(&columns, &meta.MinDate, &meta.MaxDate, &meta.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, newStoreError("load", k, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT date, open, high, low, close, volume FROM bars
		 WHERE symbol = ? AND timeframe = ? ORDER BY date`,
		symbol, string(tf),
	)
	if err != nil {
		return nil, nil, newStoreError("load", k, err)
	}
	defer rows.Close()

	series := &models.Series{
		Symbol:    symbol,
		Timeframe: tf,
		Columns:   splitColumns(columns),
	}
	for rows.Next() {
		var bar models.Bar
		var open, high, low, closeP, volume sql.NullFloat64
		if err := rows.Scan(&bar.Date, &open, &high, &low, &closeP, &volume); err != nil {
			return nil, nil, newStoreError("load", k, err)
		}
		bar.Open = nullToNaN(open)
		bar.High = nullToNaN(high)
		bar.Low = nullToNaN(low)
		bar.Close = nullToNaN(closeP)
		bar.Volume = nullToNaN(volume)
		series.Bars = append(series.Bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, newStoreError("load", k, err)
	}

	return series, meta, nil
}

// Save implements CacheStore.
func (s *DuckDBStore) Save(ctx context.Context, series *models.Series) error {
	k := keyOf(series.Symbol, series.Timeframe)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newStoreError("save", k, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM bars WHERE symbol = ? AND timeframe = ?`,
		`DELETE FROM cache_meta WHERE symbol = ? AND timeframe = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, series.Symbol, string(series.Timeframe)); err != nil {
			return newStoreError("save", k, err)
		}
	}

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO bars (symbol, timeframe, date, open, high, low, close, volume)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return newStoreError("save", k, err)
	}
	defer insert.Close()

	for _, bar := range series.Bars {
		_, err := insert.ExecContext(ctx,
			series.Symbol, string(series.Timeframe), bar.Date,
			naNToNull(bar.Open), naNToNull(bar.High), naNToNull(bar.Low),
			naNToNull(bar.Close), naNToNull(bar.Volume),
		)
		if err != nil {
			return newStoreError("save", k, err)
		}
	}

	meta := metaFor(series, s.now())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO cache_meta (symbol, timeframe, columns, min_date, max_date, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		series.Symbol, string(series.Timeframe), joinColumns(series.Columns),
		meta.MinDate, meta.MaxDate, meta.StoredAt,
	)
	if err != nil {
		return newStoreError("save", k, err)
	}

	if err := tx.Commit(); err != nil {
		return newStoreError("save", k, err)
	}

	s.logger.Debug("series cached",
		"symbol", series.Symbol,
		"timeframe", string(series.Timeframe),
		"bars", series.Len(),
	)
	return nil
}

// Close implements CacheStore.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

func nullToNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func naNToNull(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}
