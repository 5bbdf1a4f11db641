package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists quality records to a SQLite database, one row per
// record with the defect and anomaly lists stored as JSON columns.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteSink opens (or creates) the database and runs migrations.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the pipeline writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quality_records (
			id                TEXT PRIMARY KEY,
			symbol            TEXT NOT NULL,
			timeframe         TEXT NOT NULL,
			start_date        INTEGER,
			end_date          INTEGER,
			total_bars        INTEGER,
			valid             INTEGER,
			defect_count      INTEGER,
			return_count      INTEGER,
			daily_return_mean REAL,
			daily_return_std  REAL,
			daily_return_min  REAL,
			daily_return_max  REAL,
			missing_days      INTEGER,
			zero_volume       INTEGER,
			stagnant_bars     INTEGER,
			defects           TEXT,
			anomalies         TEXT,
			generated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quality_symbol_tf
			ON quality_records(symbol, timeframe, generated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Write inserts one record.
func (s *SQLiteSink) Write(ctx context.Context, rec *QualityRecord) error {
	defects, err := json.Marshal(rec.Defects)
	if err != nil {
		return fmt.Errorf("marshal defects: %w", err)
	}
	anomalies, err := json.Marshal(rec.Anomalies)
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT INTO quality_records (
			id, symbol, timeframe, start_date, end_date, total_bars, valid,
			defect_count, return_count, daily_return_mean, daily_return_std,
			daily_return_min, daily_return_max, missing_days, zero_volume,
			stagnant_bars, defects, anomalies, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, string(rec.Timeframe),
		rec.StartDate.Unix(), rec.EndDate.Unix(), rec.TotalBars, rec.Valid,
		len(rec.Defects), rec.Statistics.ReturnCount,
		rec.Statistics.DailyReturnMean, rec.Statistics.DailyReturnStd,
		rec.Statistics.DailyReturnMin, rec.Statistics.DailyReturnMax,
		rec.Statistics.MissingDaysCount, rec.Statistics.ZeroVolumeCount,
		rec.Statistics.StagnantBarCount,
		string(defects), string(anomalies), rec.GeneratedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert quality record: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
