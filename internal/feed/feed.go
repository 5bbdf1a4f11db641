// Package feed is the fetch collaborator boundary. A Fetcher returns raw
// candles for a (symbol, timeframe, date range) request; ParseRaw turns
// the raw payload into a models.Series, coercing unparseable numerics to
// NaN so validation can report them instead of the fetch failing.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	pipeerrors "github.com/swinglab/go-bars-pipeline/internal/errors"
	"github.com/swinglab/go-bars-pipeline/internal/models"
)

// Request identifies one fetch unit.
type Request struct {
	Symbol    string
	Timeframe models.Timeframe
	Start     time.Time
	End       time.Time
}

// RawCandle is one bar as delivered by a feed: a date plus string numeric
// fields. An empty string marks a value the feed omitted.
type RawCandle struct {
	Date   string `json:"date"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// Payload is a feed response: the candles plus the columns the feed
// actually delivered. A nil Columns means all required columns.
type Payload struct {
	Columns []string    `json:"columns,omitempty"`
	Candles []RawCandle `json:"candles"`
}

// Fetcher retrieves raw candles for a request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Payload, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) (*Payload, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Payload, error) {
	return f(ctx, req)
}

// ParseRaw converts a payload into a series. Dates must parse; a candle
// with an unparseable date is rejected with an error. Numeric fields are
// parsed through decimal and coerced to NaN when empty or malformed.
func ParseRaw(symbol string, tf models.Timeframe, payload *Payload) (*models.Series, error) {
	if payload == nil {
		return nil, fmt.Errorf("nil payload for %s/%s", symbol, tf)
	}

	series := &models.Series{
		Symbol:    symbol,
		Timeframe: tf,
		Columns:   append([]string(nil), payload.Columns...),
	}
	if len(payload.Columns) == 0 {
		series.Columns = nil
	}

	for i, raw := range payload.Candles {
		date, err := parseDate(raw.Date)
		if err != nil {
			return nil, fmt.Errorf("candle %d for %s/%s: %w", i, symbol, tf, err)
		}
		series.Bars = append(series.Bars, models.Bar{
			Date:   date,
			Open:   coerceFloat(raw.Open),
			High:   coerceFloat(raw.High),
			Low:    coerceFloat(raw.Low),
			Close:  coerceFloat(raw.Close),
			Volume: coerceFloat(raw.Volume),
		})
	}
	return series, nil
}

var dateLayouts = []string{time.DateOnly, time.RFC3339, "2006-01-02 15:04:05"}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// coerceFloat parses a feed numeric through decimal, NaN on failure.
func coerceFloat(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.NaN()
	}
	f, _ := d.Float64()
	return f
}

// FileFetcher reads payloads from <dir>/<symbol>_<timeframe>.json. It
// serves offline runs and tests; date range filtering happens after parse.
type FileFetcher struct {
	dir    string
	logger *slog.Logger
}

// NewFileFetcher creates a fetcher serving payload files from dir.
func NewFileFetcher(dir string, logger *slog.Logger) *FileFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileFetcher{dir: dir, logger: logger}
}

// Fetch implements Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, req Request) (*Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, pipeerrors.NewCollaborator("fetch", err)
	}

	path := filepath.Join(f.dir, fmt.Sprintf("%s_%s.json", req.Symbol, req.Timeframe))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeerrors.NewCollaborator("fetch", fmt.Errorf("read payload %s: %w", path, err))
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, pipeerrors.NewCollaborator("fetch", fmt.Errorf("decode payload %s: %w", path, err))
	}

	f.logger.Debug("payload loaded",
		"symbol", req.Symbol,
		"timeframe", string(req.Timeframe),
		"candles", len(payload.Candles),
	)
	return &payload, nil
}

// RetryingFetcher wraps a Fetcher with the collaborator retry policy.
type RetryingFetcher struct {
	inner  Fetcher
	policy pipeerrors.RetryPolicy
	logger *slog.Logger
}

// NewRetryingFetcher wraps inner with retries per policy.
func NewRetryingFetcher(inner Fetcher, policy pipeerrors.RetryPolicy, logger *slog.Logger) *RetryingFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingFetcher{inner: inner, policy: policy, logger: logger}
}

// Fetch implements Fetcher. Transient failures are retried with backoff;
// permanent ones return immediately.
func (r *RetryingFetcher) Fetch(ctx context.Context, req Request) (*Payload, error) {
	var payload *Payload
	op := fmt.Sprintf("fetch %s/%s", req.Symbol, req.Timeframe)
	err := pipeerrors.Retry(ctx, r.logger, op, r.policy, func() error {
		var ferr error
		payload, ferr = r.inner.Fetch(ctx, req)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// TrimRange drops bars outside [start, end] inclusive. Zero bounds are
// open on that side.
func TrimRange(series *models.Series, start, end time.Time) *models.Series {
	out := series.Clone()
	filtered := out.Bars[:0]
	for _, b := range out.Bars {
		if !start.IsZero() && b.Date.Before(start) {
			continue
		}
		if !end.IsZero() && b.Date.After(end) {
			continue
		}
		filtered = append(filtered, b)
	}
	out.Bars = filtered
	return out
}
