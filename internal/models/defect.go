package models

import (
	"fmt"
	"time"
)

// DefectKind classifies a data-quality defect found by validation.
type DefectKind string

const (
	DefectMissingColumn    DefectKind = "missing_column"
	DefectNullValues       DefectKind = "null_values"
	DefectDuplicateDates   DefectKind = "duplicate_dates"
	DefectNonPositiveClose DefectKind = "non_positive_close"
	DefectHighLowInversion DefectKind = "high_low_inversion"
	DefectExtremeMove      DefectKind = "extreme_move"
	DefectMissingDays      DefectKind = "missing_days"
	DefectZeroVolume       DefectKind = "zero_volume"
	DefectStagnantBars     DefectKind = "stagnant_bars"
)

// AnomalyKind classifies a per-row anomaly record attached to a report.
type AnomalyKind string

const (
	AnomalyExtremeMove AnomalyKind = "extreme_price_movement"
	AnomalyMissingDay  AnomalyKind = "missing_day"
)

// Defect is one detected defect category with its occurrence count.
// Column is set for per-column defects (missing_column, null_values).
type Defect struct {
	Kind    DefectKind `json:"kind"`
	Column  string     `json:"column,omitempty"`
	Count   int        `json:"count"`
	Message string     `json:"message"`
}

// Anomaly is a bounded sample record for display: an extreme move with its
// close, predecessor close and percentage change, or a missing business
// day with just its date.
type Anomaly struct {
	Kind      AnomalyKind `json:"type"`
	Date      time.Time   `json:"date"`
	Close     float64     `json:"close,omitempty"`
	PrevClose float64     `json:"previous_close,omitempty"`
	PctChange float64     `json:"pct_change,omitempty"`
}

// DefectReport is the immutable result of one validation call. Reports are
// produced fresh per call; validators never share state across calls.
type DefectReport struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	CheckedAt time.Time `json:"checked_at"`
	Defects   []Defect  `json:"defects"`
	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// IsValid reports whether validation found no defects. Callers use this to
// decide whether to invoke the cleaner.
func (r *DefectReport) IsValid() bool {
	return len(r.Defects) == 0
}

// Count returns the occurrence count for a defect kind, summed across
// columns for per-column kinds. Zero when the kind was not reported.
func (r *DefectReport) Count(kind DefectKind) int {
	total := 0
	for _, d := range r.Defects {
		if d.Kind == kind {
			total += d.Count
		}
	}
	return total
}

// Has reports whether the given defect kind was found.
func (r *DefectReport) Has(kind DefectKind) bool {
	for _, d := range r.Defects {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// Add appends a defect entry.
func (r *DefectReport) Add(kind DefectKind, column string, count int, format string, args ...any) {
	r.Defects = append(r.Defects, Defect{
		Kind:    kind,
		Column:  column,
		Count:   count,
		Message: fmt.Sprintf(format, args...),
	})
}

// Issues returns the defect messages in report order, mirroring the
// human-readable issue list rendered by report sinks.
func (r *DefectReport) Issues() []string {
	out := make([]string, 0, len(r.Defects))
	for _, d := range r.Defects {
		out = append(out, d.Message)
	}
	return out
}
