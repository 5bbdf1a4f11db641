package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Sink renders a quality record to some external destination.
type Sink interface {
	Write(ctx context.Context, rec *QualityRecord) error
}

// JSONSink writes one indented JSON file per record into a directory,
// named <symbol>_<timeframe>_quality_<timestamp>.json.
type JSONSink struct {
	dir string
}

// NewJSONSink creates the output directory if needed.
func NewJSONSink(dir string) (*JSONSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	return &JSONSink{dir: dir}, nil
}

// Write persists the record. The filename timestamp comes from the record
// itself so re-writing a record is reproducible.
func (s *JSONSink) Write(ctx context.Context, rec *QualityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s_quality_%s.json",
		rec.Symbol, rec.Timeframe, rec.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal quality record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write quality report %s: %w", path, err)
	}
	return nil
}

// LogSink emits a summary line per record, warn-level when defects were
// found.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "quality_report")}
}

func (s *LogSink) Write(_ context.Context, rec *QualityRecord) error {
	attrs := []any{
		"symbol", rec.Symbol,
		"timeframe", rec.Timeframe,
		"bars", rec.TotalBars,
		"defects", len(rec.Defects),
		"missing_days", rec.Statistics.MissingDaysCount,
	}
	if rec.Valid {
		s.logger.Info("no data quality issues found", attrs...)
		return nil
	}
	s.logger.Warn("data quality issues found", attrs...)
	for _, d := range rec.Defects {
		s.logger.Warn("quality issue", "symbol", rec.Symbol, "timeframe", rec.Timeframe, "issue", d.Message)
	}
	return nil
}

// MultiSink fans a record out to several sinks, stopping at the first
// failure.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec *QualityRecord) error {
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
