package quality

import (
	"log/slog"
	"math"
	"time"

	pipeerrors "github.com/swinglab/go-bars-pipeline/internal/errors"
	"github.com/swinglab/go-bars-pipeline/internal/models"
)

// Cleaner applies the fixed repair policy to a series. It is deterministic
// and total for parseable input: given the required columns it always
// returns a series, never a partial failure. The step order matters;
// later steps assume earlier ones already normalized the series.
type Cleaner struct {
	cfg    Config
	logger *slog.Logger
}

// NewCleaner creates a cleaner. A nil config uses the defaults.
func NewCleaner(cfg *Config, logger *slog.Logger) *Cleaner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		cfg:    cfg.sanitized(),
		logger: logger.With("component", "cleaner"),
	}
}

// Clean returns a repaired copy of the series:
//
//  1. drop duplicate dates, keeping the first occurrence
//  2. forward-fill nulls, then backward-fill any left at the head
//  3. swap high/low where inverted (treated as a field-mapping error)
//  4. clamp the envelope: high = max(high, open, close), low = min(low,
//     open, close), unconditionally
//  5. drop rows with any price still null or <= 0 (unrepairable)
//  6. re-detect extreme moves and only warn; a large move is valid market
//     data until domain review says otherwise, so it is never auto-removed
//  7. sort ascending by date
//
// The input series is never mutated. Missing required columns or an empty
// series are a StructuralError.
func (c *Cleaner) Clean(series *models.Series) (*models.Series, error) {
	if series.Empty() {
		var symbol, tf string
		if series != nil {
			symbol, tf = series.Symbol, series.Timeframe.String()
		}
		return nil, pipeerrors.NewStructural(symbol, tf, "series has no rows")
	}
	if missing := series.MissingColumns(); len(missing) > 0 {
		return nil, pipeerrors.NewStructural(series.Symbol, series.Timeframe.String(),
			"missing required columns: %v", missing)
	}

	log := c.logger.With("symbol", series.Symbol, "timeframe", series.Timeframe)
	log.Info("cleaning series", "bars", series.Len())

	out := series.Clone()

	if dropped := dropDuplicateDates(out); dropped > 0 {
		log.Info("removed duplicate dates", "count", dropped)
	}

	if filled := fillNulls(out); filled > 0 {
		log.Info("filled missing values", "count", filled)
	}

	if swapped := swapInvertedHighLow(out); swapped > 0 {
		log.Info("fixed high/low inversions", "count", swapped)
	}

	clampEnvelope(out)

	if dropped := dropUnrepairableRows(out); dropped > 0 {
		log.Info("removed rows with zero or negative prices", "count", dropped)
	}

	if extremes := countExtremeMoves(out, c.cfg.ExtremeMoveThreshold); extremes > 0 {
		// Flagged only. Genuine large moves are valid data.
		log.Warn("extreme price movements present after cleaning", "count", extremes)
	}

	out.SortByDate()

	log.Info("cleaning completed", "bars", out.Len())
	return out, nil
}

// dropDuplicateDates keeps the first occurrence of each date, preserving
// arrival order for the survivors, and returns the number dropped.
func dropDuplicateDates(s *models.Series) int {
	seen := make(map[time.Time]bool, len(s.Bars))
	kept := s.Bars[:0]
	dropped := 0
	for _, b := range s.Bars {
		d := models.Day(b.Date)
		if seen[d] {
			dropped++
			continue
		}
		seen[d] = true
		kept = append(kept, b)
	}
	s.Bars = kept
	return dropped
}

// fillNulls forward-fills each column in row order, then backward-fills
// values still missing at the head. Columns that are entirely null stay
// null; those rows fall to the unrepairable screen. Returns the number of
// values filled.
func fillNulls(s *models.Series) int {
	filled := 0
	for _, col := range barColumns() {
		last := math.NaN()
		for i := range s.Bars {
			v := col.get(&s.Bars[i])
			if math.IsNaN(v) {
				if !math.IsNaN(last) {
					col.set(&s.Bars[i], last)
					filled++
				}
			} else {
				last = v
			}
		}
		next := math.NaN()
		for i := len(s.Bars) - 1; i >= 0; i-- {
			v := col.get(&s.Bars[i])
			if math.IsNaN(v) {
				if !math.IsNaN(next) {
					col.set(&s.Bars[i], next)
					filled++
				}
			} else {
				next = v
			}
		}
	}
	return filled
}

func swapInvertedHighLow(s *models.Series) int {
	swapped := 0
	for i := range s.Bars {
		b := &s.Bars[i]
		if b.High < b.Low {
			b.High, b.Low = b.Low, b.High
			swapped++
		}
	}
	return swapped
}

// clampEnvelope restores high >= max(open, close) and low <= min(open,
// close) for every row, regardless of upstream state. Rows with missing
// prices are left alone; they are dropped next.
func clampEnvelope(s *models.Series) {
	for i := range s.Bars {
		b := &s.Bars[i]
		if b.HasNullPrice() {
			continue
		}
		b.High = math.Max(b.High, math.Max(b.Open, b.Close))
		b.Low = math.Min(b.Low, math.Min(b.Open, b.Close))
	}
}

func dropUnrepairableRows(s *models.Series) int {
	kept := s.Bars[:0]
	dropped := 0
	for _, b := range s.Bars {
		if b.HasPositivePrices() {
			kept = append(kept, b)
		} else {
			dropped++
		}
	}
	s.Bars = kept
	return dropped
}

func countExtremeMoves(s *models.Series, threshold float64) int {
	count := 0
	for i := 1; i < len(s.Bars); i++ {
		change, ok := pctChange(s.Bars[i-1].Close, s.Bars[i].Close)
		if ok && math.Abs(change) > threshold {
			count++
		}
	}
	return count
}

// barColumn is a field accessor used by the fill pass so each column is
// filled independently.
type barColumn struct {
	name string
	get  func(*models.Bar) float64
	set  func(*models.Bar, float64)
}

func barColumns() []barColumn {
	return []barColumn{
		{"open", func(b *models.Bar) float64 { return b.Open }, func(b *models.Bar, v float64) { b.Open = v }},
		{"high", func(b *models.Bar) float64 { return b.High }, func(b *models.Bar, v float64) { b.High = v }},
		{"low", func(b *models.Bar) float64 { return b.Low }, func(b *models.Bar, v float64) { b.Low = v }},
		{"close", func(b *models.Bar) float64 { return b.Close }, func(b *models.Bar, v float64) { b.Close = v }},
		{"volume", func(b *models.Bar) float64 { return b.Volume }, func(b *models.Bar, v float64) { b.Volume = v }},
	}
}
