// Package models provides the core data structures for OHLCV bar series:
// bars, series keyed by (symbol, timeframe), cache metadata, and the defect
// report produced by validation.
package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Timeframe is the sampling cadence of a bar series.
type Timeframe string

const (
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
	Timeframe1Min    Timeframe = "1min"
	Timeframe5Min    Timeframe = "5min"
	Timeframe15Min   Timeframe = "15min"
	Timeframe30Min   Timeframe = "30min"
	Timeframe60Min   Timeframe = "60min"
)

var validTimeframes = map[Timeframe]bool{
	TimeframeDaily:   true,
	TimeframeWeekly:  true,
	TimeframeMonthly: true,
	Timeframe1Min:    true,
	Timeframe5Min:    true,
	Timeframe15Min:   true,
	Timeframe30Min:   true,
	Timeframe60Min:   true,
}

// ParseTimeframe validates and normalizes a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !validTimeframes[tf] {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// IsDaily reports whether the timeframe maps onto the business-day calendar.
// The calendar-gap check only applies to daily data: weekly and monthly
// cadence does not correspond to Mon-Fri days.
func (tf Timeframe) IsDaily() bool {
	return tf == TimeframeDaily
}

func (tf Timeframe) String() string {
	return string(tf)
}

// Required column names for a usable bar series.
var RequiredColumns = []string{"open", "high", "low", "close", "volume"}

// Bar is one OHLCV observation for one date. Price and volume fields use
// NaN to encode a value that was missing in the source payload; validation
// reports NaNs and cleaning resolves them.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Day truncates a timestamp to its UTC calendar day. Bar dates are
// day-resolution and timezone-naive; normalizing to UTC midnight makes
// dates directly comparable as map keys.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// HasNullPrice reports whether any of the OHLC fields is missing.
func (b Bar) HasNullPrice() bool {
	return math.IsNaN(b.Open) || math.IsNaN(b.High) || math.IsNaN(b.Low) || math.IsNaN(b.Close)
}

// HasPositivePrices reports whether all OHLC fields are finite and > 0.
// Rows failing this cannot be repaired and are dropped by the cleaner.
func (b Bar) HasPositivePrices() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return true
}

// Series is an ordered sequence of bars for one (symbol, timeframe) key.
// Columns records which of the required fields were present in the source
// payload; a nil Columns means all of them. Bars are stored as fetched:
// ordering, uniqueness and the high/low envelope are only guaranteed after
// cleaning.
type Series struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Columns   []string  `json:"columns,omitempty"`
	Bars      []Bar     `json:"bars"`
}

// NewSeries creates a series with all required columns present.
func NewSeries(symbol string, tf Timeframe, bars []Bar) *Series {
	return &Series{Symbol: symbol, Timeframe: tf, Bars: bars}
}

// Len returns the number of bars in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Empty reports whether the series holds no bars.
func (s *Series) Empty() bool {
	return s.Len() == 0
}

// HasColumn reports whether the named source column was present.
func (s *Series) HasColumn(name string) bool {
	if s.Columns == nil {
		return true
	}
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// MissingColumns returns the required columns absent from the source
// payload, in the canonical column order.
func (s *Series) MissingColumns() []string {
	var missing []string
	for _, c := range RequiredColumns {
		if !s.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// MinDate returns the earliest bar date. The series does not have to be
// sorted. Returns the zero time for an empty series.
func (s *Series) MinDate() time.Time {
	var min time.Time
	for _, b := range s.Bars {
		if min.IsZero() || b.Date.Before(min) {
			min = b.Date
		}
	}
	return min
}

// MaxDate returns the latest bar date, zero for an empty series.
func (s *Series) MaxDate() time.Time {
	var max time.Time
	for _, b := range s.Bars {
		if b.Date.After(max) {
			max = b.Date
		}
	}
	return max
}

// Clone returns a deep copy. Validator and cleaner outputs never share
// bar storage with their inputs.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	out := &Series{Symbol: s.Symbol, Timeframe: s.Timeframe}
	if s.Columns != nil {
		out.Columns = append([]string(nil), s.Columns...)
	}
	out.Bars = append([]Bar(nil), s.Bars...)
	return out
}

// SortByDate sorts the bars ascending by date, stable so that the first of
// two equal-dated bars keeps its position.
func (s *Series) SortByDate() {
	sort.SliceStable(s.Bars, func(i, j int) bool {
		return s.Bars[i].Date.Before(s.Bars[j].Date)
	})
}

// CacheMeta describes one cached series: the stored date range and the
// time the entry was written. An entry is superseded wholesale by a later
// save for the same key, never partially updated.
type CacheMeta struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	MinDate   time.Time `json:"min_date"`
	MaxDate   time.Time `json:"max_date"`
	StoredAt  time.Time `json:"stored_at"`
}

// Covers reports whether the stored range spans [start, end] inclusive.
// A zero bound is open on that side and always covered.
func (m *CacheMeta) Covers(start, end time.Time) bool {
	if !start.IsZero() && m.MinDate.After(start) {
		return false
	}
	if !end.IsZero() && m.MaxDate.Before(end) {
		return false
	}
	return true
}
