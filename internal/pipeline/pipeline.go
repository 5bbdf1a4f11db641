// Package pipeline orchestrates the per-unit flow: freshness gate, fetch
// on miss, validate, clean when dirty, align the daily/weekly pair, and
// report. A unit is one (symbol, timeframe) pair; units never share
// mutable state, so symbols fan out across a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	pipeerrors "github.com/swinglab/go-bars-pipeline/internal/errors"
	"github.com/swinglab/go-bars-pipeline/internal/feed"
	"github.com/swinglab/go-bars-pipeline/internal/freshness"
	"github.com/swinglab/go-bars-pipeline/internal/models"
	"github.com/swinglab/go-bars-pipeline/internal/quality"
	"github.com/swinglab/go-bars-pipeline/internal/report"
	"github.com/swinglab/go-bars-pipeline/internal/store"
)

// Mode selects how much of the flow runs.
type Mode int

const (
	// ModeRun performs the full flow including cleaning, alignment and
	// report writing.
	ModeRun Mode = iota
	// ModeCheck stops after validation; nothing is cleaned or written.
	ModeCheck
)

// Options configures a Pipeline.
type Options struct {
	Workers    int
	RatePerSec float64
	Mode       Mode
}

// UnitResult is the outcome for one (symbol, timeframe) unit.
type UnitResult struct {
	Symbol    string
	Timeframe models.Timeframe
	Decision  freshness.Decision
	Fetched   bool
	Cleaned   bool
	Report    *models.DefectReport
	Record    *report.QualityRecord
	Err       error

	series *models.Series
}

// RunResult aggregates all unit results of one pipeline run.
type RunResult struct {
	Units []UnitResult
}

// Failed returns the units that ended in error.
func (r *RunResult) Failed() []UnitResult {
	var failed []UnitResult
	for _, u := range r.Units {
		if u.Err != nil {
			failed = append(failed, u)
		}
	}
	return failed
}

// Pipeline wires the collaborators together.
type Pipeline struct {
	store     store.CacheStore
	fetcher   feed.Fetcher
	gate      *freshness.Gate
	validator *quality.Validator
	cleaner   *quality.Cleaner
	aligner   Aligner
	sink      report.Sink
	logger    *slog.Logger
	opts      Options
	limiter   *rate.Limiter
}

// New creates a pipeline. A nil sink disables report writing.
func New(cs store.CacheStore, fetcher feed.Fetcher, gate *freshness.Gate,
	validator *quality.Validator, cleaner *quality.Cleaner, aligner Aligner,
	sink report.Sink, logger *slog.Logger, opts Options) *Pipeline {

	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}

	return &Pipeline{
		store:     cs,
		fetcher:   fetcher,
		gate:      gate,
		validator: validator,
		cleaner:   cleaner,
		aligner:   aligner,
		sink:      sink,
		logger:    logger,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}
}

// Aligner trims two series to their common date range.
type Aligner interface {
	Align(sa, sb *models.Series) (*models.Series, *models.Series)
}

// Run processes every symbol against every timeframe. Symbols fan out
// across the worker pool; the timeframes of one symbol run sequentially so
// the daily/weekly pair can be aligned without coordination.
func (p *Pipeline) Run(ctx context.Context, symbols []string, timeframes []models.Timeframe, start, end time.Time) (*RunResult, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols to process")
	}
	if len(timeframes) == 0 {
		return nil, fmt.Errorf("no timeframes to process")
	}

	p.logger.Info("pipeline run starting",
		"symbols", len(symbols),
		"timeframes", len(timeframes),
		"workers", p.opts.Workers,
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		result  RunResult
		workers = make(chan struct{}, p.opts.Workers)
	)

	for _, symbol := range symbols {
		symbol := symbol
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case workers <- struct{}{}:
				defer func() { <-workers }()
			case <-ctx.Done():
				mu.Lock()
				result.Units = append(result.Units, UnitResult{
					Symbol: symbol,
					Err:    ctx.Err(),
				})
				mu.Unlock()
				return
			}

			units := p.runSymbol(ctx, symbol, timeframes, start, end)
			mu.Lock()
			result.Units = append(result.Units, units...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	failed := len(result.Failed())
	p.logger.Info("pipeline run finished",
		"units", len(result.Units),
		"failed", failed,
	)
	return &result, nil
}

// runSymbol runs every timeframe unit for one symbol, aligns the
// daily/weekly pair when both are present, then reports.
func (p *Pipeline) runSymbol(ctx context.Context, symbol string, timeframes []models.Timeframe, start, end time.Time) []UnitResult {
	units := make([]UnitResult, 0, len(timeframes))
	for _, tf := range timeframes {
		units = append(units, p.runUnit(ctx, symbol, tf, start, end))
	}

	if p.opts.Mode == ModeRun {
		p.alignPair(units)
		for i := range units {
			p.report(ctx, &units[i])
		}
	}
	return units
}

// runUnit takes one (symbol, timeframe) through gate, fetch, validate and
// clean.
func (p *Pipeline) runUnit(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) UnitResult {
	unit := UnitResult{Symbol: symbol, Timeframe: tf}
	log := p.logger.With("symbol", symbol, "timeframe", string(tf))

	series, meta, err := p.store.Load(ctx, symbol, tf)
	if err != nil && err != store.ErrNotFound {
		unit.Err = pipeerrors.NewCollaborator("cache load", err)
		return unit
	}

	unit.Decision = p.gate.Evaluate(meta, start, end)
	log.Debug("freshness decision", "decision", unit.Decision.String())

	if unit.Decision != freshness.Fresh {
		series, err = p.fetchAndCache(ctx, symbol, tf, start, end)
		if err != nil {
			unit.Err = err
			return unit
		}
		unit.Fetched = true
	}
	if !start.IsZero() || !end.IsZero() {
		series = feed.TrimRange(series, start, end)
	}

	defects, err := p.validator.Validate(series)
	if err != nil {
		unit.Err = err
		return unit
	}
	unit.Report = defects

	if p.opts.Mode == ModeCheck || defects.IsValid() {
		unit.series = series
		return unit
	}

	cleaned, err := p.cleaner.Clean(series)
	if err != nil {
		unit.Err = err
		return unit
	}
	unit.series = cleaned
	unit.Cleaned = true
	log.Info("series cleaned",
		"bars_before", series.Len(),
		"bars_after", cleaned.Len(),
		"issues", len(defects.Issues()),
	)
	return unit
}

func (p *Pipeline) fetchAndCache(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) (*models.Series, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, pipeerrors.NewCollaborator("rate wait", err)
	}

	payload, err := p.fetcher.Fetch(ctx, feed.Request{
		Symbol:    symbol,
		Timeframe: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, err
	}

	series, err := feed.ParseRaw(symbol, tf, payload)
	if err != nil {
		return nil, pipeerrors.NewCollaborator("parse payload", err)
	}

	if err := p.store.Save(ctx, series); err != nil {
		return nil, pipeerrors.NewCollaborator("cache save", err)
	}
	return series, nil
}

// alignPair trims the daily and weekly units of a symbol to their common
// range. Other timeframes pass through untouched.
func (p *Pipeline) alignPair(units []UnitResult) {
	var daily, weekly *UnitResult
	for i := range units {
		if units[i].Err != nil || units[i].series == nil {
			continue
		}
		switch units[i].Timeframe {
		case models.TimeframeDaily:
			daily = &units[i]
		case models.TimeframeWeekly:
			weekly = &units[i]
		}
	}
	if daily == nil || weekly == nil {
		return
	}
	daily.series, weekly.series = p.aligner.Align(daily.series, weekly.series)
}

func (p *Pipeline) report(ctx context.Context, unit *UnitResult) {
	if unit.Err != nil || unit.series == nil || unit.Report == nil {
		return
	}

	unit.Record = report.Build(unit.series, unit.Report)
	if p.sink == nil {
		return
	}
	if err := p.sink.Write(ctx, unit.Record); err != nil {
		unit.Err = pipeerrors.NewCollaborator("report write", err)
	}
}
