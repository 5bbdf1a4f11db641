// Package quality implements defect detection and deterministic repair for
// OHLCV bar series. The validator inspects a series without mutating it
// and produces a models.DefectReport; the cleaner applies a fixed repair
// policy and always leaves the series sorted with a restored high/low
// envelope. Both are pure functions of their input plus configuration, so
// repeated runs over the same series are idempotent.
package quality

import (
	"time"
)

// Config carries the tunable thresholds shared by validator and cleaner.
type Config struct {
	// ExtremeMoveThreshold is the absolute day-over-day close change above
	// which a move is flagged (0.20 means 20%).
	ExtremeMoveThreshold float64

	// StagnantBarRatio is the share of open==close bars above which the
	// series is flagged as a likely feed malfunction.
	StagnantBarRatio float64

	// MaxAnomalySamples bounds the per-check anomaly records kept for
	// display; counts are always exact.
	MaxAnomalySamples int
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() *Config {
	return &Config{
		ExtremeMoveThreshold: 0.20,
		StagnantBarRatio:     0.50,
		MaxAnomalySamples:    10,
	}
}

func (c *Config) sanitized() Config {
	out := *c
	if out.ExtremeMoveThreshold <= 0 {
		out.ExtremeMoveThreshold = 0.20
	}
	if out.StagnantBarRatio <= 0 {
		out.StagnantBarRatio = 0.50
	}
	if out.MaxAnomalySamples <= 0 {
		out.MaxAnomalySamples = 10
	}
	return out
}

// BusinessDays returns every Mon-Fri calendar day in [start, end]
// inclusive, at UTC midnight. Exchange holidays are not modeled; a
// holiday weekday therefore counts as a missing day in the gap check.
func BusinessDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := dayStart(start); !d.After(dayStart(end)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, d)
		}
	}
	return days
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
