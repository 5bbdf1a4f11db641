// Package report aggregates validator output and derived statistics into a
// serialization-ready quality record, and provides the sinks that persist
// records. Building a record is pure; all I/O lives in the sinks.
package report

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/swinglab/go-bars-pipeline/internal/models"
	"github.com/swinglab/go-bars-pipeline/internal/quality"
)

// Statistics is the derived-numbers block of a quality record. Return
// statistics skip undefined changes (first row, missing neighbours);
// ReturnCount says how many changes they summarize, zero meaning the other
// return fields are meaningless.
type Statistics struct {
	ReturnCount      int            `json:"return_count"`
	DailyReturnMean  float64        `json:"daily_return_mean"`
	DailyReturnStd   float64        `json:"daily_return_std"`
	DailyReturnMin   float64        `json:"daily_return_min"`
	DailyReturnMax   float64        `json:"daily_return_max"`
	MissingDaysCount int            `json:"missing_days_count"`
	ZeroVolumeCount  int            `json:"zero_volume_count"`
	StagnantBarCount int            `json:"stagnant_bar_count"`
	NullCounts       map[string]int `json:"null_counts,omitempty"`
}

// QualityRecord is the aggregated quality summary for one (symbol,
// timeframe) series: identity, range, the full defect list and the
// statistics block. Rendering to files or dashboards is a sink concern.
type QualityRecord struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	Timeframe   models.Timeframe  `json:"timeframe"`
	StartDate   time.Time         `json:"start_date"`
	EndDate     time.Time         `json:"end_date"`
	TotalBars   int               `json:"total_bars"`
	Valid       bool              `json:"valid"`
	Defects     []models.Defect   `json:"defects"`
	Anomalies   []models.Anomaly  `json:"anomalies,omitempty"`
	Statistics  Statistics        `json:"statistics"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Build combines a series and its defect report into a quality record.
// The defect report may come from before cleaning while the series is the
// cleaned one; identity fields are taken from the series.
func Build(series *models.Series, defects *models.DefectReport) *QualityRecord {
	rec := &QualityRecord{
		ID:          uuid.NewString(),
		Symbol:      series.Symbol,
		Timeframe:   series.Timeframe,
		StartDate:   series.MinDate(),
		EndDate:     series.MaxDate(),
		TotalBars:   series.Len(),
		Valid:       defects.IsValid(),
		Defects:     defects.Defects,
		Anomalies:   defects.Anomalies,
		GeneratedAt: time.Now().UTC(),
	}

	rec.Statistics = Statistics{
		MissingDaysCount: len(quality.MissingBusinessDays(series)),
		ZeroVolumeCount:  zeroVolumeCount(series),
		StagnantBarCount: quality.StagnantBars(series),
		NullCounts:       nonZero(quality.NullCounts(series)),
	}
	if !series.Timeframe.IsDaily() {
		rec.Statistics.MissingDaysCount = 0
	}

	fillReturnStats(series, &rec.Statistics)
	return rec
}

// fillReturnStats computes mean, sample standard deviation, min and max of
// day-over-day close changes. NaN never reaches the record: with fewer
// than two usable changes the fields stay zero and ReturnCount says so.
func fillReturnStats(series *models.Series, stats *Statistics) {
	var returns []float64
	for i := 1; i < len(series.Bars); i++ {
		prev, cur := series.Bars[i-1].Close, series.Bars[i].Close
		if math.IsNaN(prev) || math.IsNaN(cur) || prev <= 0 {
			continue
		}
		returns = append(returns, cur/prev-1)
	}
	stats.ReturnCount = len(returns)
	if len(returns) == 0 {
		return
	}

	sum := 0.0
	min, max := returns[0], returns[0]
	for _, r := range returns {
		sum += r
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	mean := sum / float64(len(returns))
	stats.DailyReturnMean = mean
	stats.DailyReturnMin = min
	stats.DailyReturnMax = max

	if len(returns) > 1 {
		ss := 0.0
		for _, r := range returns {
			d := r - mean
			ss += d * d
		}
		stats.DailyReturnStd = math.Sqrt(ss / float64(len(returns)-1))
	}
}

func zeroVolumeCount(series *models.Series) int {
	count := 0
	for _, b := range series.Bars {
		if !math.IsNaN(b.Volume) && b.Volume <= 0 {
			count++
		}
	}
	return count
}

func nonZero(counts map[string]int) map[string]int {
	out := make(map[string]int)
	for k, v := range counts {
		if v > 0 {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
