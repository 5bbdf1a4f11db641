// Package align trims two bar series on different timeframes of the same
// symbol to their overlapping date range, so downstream cross-timeframe
// analysis sees a synchronized calendar window.
package align

import (
	"log/slog"
	"time"

	"github.com/swinglab/go-bars-pipeline/internal/models"
)

// Aligner computes calendar-aligned series pairs. Alignment is symmetric
// (operand order does not change the common range) and idempotent
// (already-aligned inputs come back unchanged).
type Aligner struct {
	logger *slog.Logger
}

// NewAligner creates an aligner.
func NewAligner(logger *slog.Logger) *Aligner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aligner{logger: logger.With("component", "aligner")}
}

// Align sorts both series and trims each to [max(minA, minB),
// min(maxA, maxB)] inclusive. When the ranges do not overlap, including
// when either input is empty, both outputs are empty series; that is a
// valid degenerate result the caller must handle, not an error. Inputs are
// never mutated.
func (a *Aligner) Align(sa, sb *models.Series) (*models.Series, *models.Series) {
	outA, outB := sa.Clone(), sb.Clone()
	outA.SortByDate()
	outB.SortByDate()

	if outA.Empty() || outB.Empty() {
		outA.Bars = nil
		outB.Bars = nil
		return outA, outB
	}

	start := laterOf(outA.MinDate(), outB.MinDate())
	end := earlierOf(outA.MaxDate(), outB.MaxDate())

	if start.After(end) {
		a.logger.Warn("series do not overlap",
			"symbol", sa.Symbol,
			"a_timeframe", sa.Timeframe,
			"b_timeframe", sb.Timeframe)
		outA.Bars = nil
		outB.Bars = nil
		return outA, outB
	}

	outA.Bars = trimRange(outA.Bars, start, end)
	outB.Bars = trimRange(outB.Bars, start, end)

	a.logger.Info("aligned series",
		"symbol", sa.Symbol,
		"common_start", start.Format(time.DateOnly),
		"common_end", end.Format(time.DateOnly),
		"a_bars", outA.Len(),
		"b_bars", outB.Len())

	return outA, outB
}

func trimRange(bars []models.Bar, start, end time.Time) []models.Bar {
	out := bars[:0]
	for _, b := range bars {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
