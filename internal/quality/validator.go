package quality

import (
	"log/slog"
	"math"
	"strings"
	"time"

	pipeerrors "github.com/swinglab/go-bars-pipeline/internal/errors"
	"github.com/swinglab/go-bars-pipeline/internal/models"
)

// Validator runs the defect checks over a series. It never mutates its
// input; every call produces a fresh report. All checks always run, so one
// call can surface several simultaneous defect kinds.
type Validator struct {
	cfg    Config
	logger *slog.Logger
}

// NewValidator creates a validator. A nil config uses the defaults.
func NewValidator(cfg *Config, logger *slog.Logger) *Validator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		cfg:    cfg.sanitized(),
		logger: logger.With("component", "validator"),
	}
}

// Validate inspects the series and returns its defect report. An empty or
// nil series is a StructuralError: there is nothing to assess and no
// recovery the cleaner could attempt.
func (v *Validator) Validate(series *models.Series) (*models.DefectReport, error) {
	if series.Empty() {
		var symbol, tf string
		if series != nil {
			symbol, tf = series.Symbol, series.Timeframe.String()
		}
		return nil, pipeerrors.NewStructural(symbol, tf, "series has no rows")
	}

	report := &models.DefectReport{
		Symbol:    series.Symbol,
		Timeframe: series.Timeframe,
		CheckedAt: time.Now().UTC(),
	}

	v.checkMissingColumns(series, report)
	v.checkNulls(series, report)
	v.checkDuplicateDates(series, report)
	v.checkNonPositiveClose(series, report)
	v.checkHighLowInversion(series, report)
	v.checkExtremeMoves(series, report)
	v.checkCalendarGaps(series, report)
	v.checkZeroVolume(series, report)
	v.checkStagnantBars(series, report)

	v.logger.Debug("validation completed",
		"symbol", series.Symbol,
		"timeframe", series.Timeframe,
		"bars", series.Len(),
		"defects", len(report.Defects))

	return report, nil
}

func (v *Validator) checkMissingColumns(series *models.Series, report *models.DefectReport) {
	for _, col := range series.MissingColumns() {
		report.Add(models.DefectMissingColumn, col, 1, "missing required column %q", col)
	}
}

func (v *Validator) checkNulls(series *models.Series, report *models.DefectReport) {
	counts := NullCounts(series)
	var parts []string
	for _, col := range models.RequiredColumns {
		if n := counts[col]; n > 0 {
			report.Add(models.DefectNullValues, col, n, "found %d null values in column %q", n, col)
			parts = append(parts, col)
		}
	}
	if len(parts) > 0 {
		v.logger.Debug("null values found", "symbol", series.Symbol, "columns", strings.Join(parts, ","))
	}
}

// NullCounts returns the NaN count per column. Columns absent from the
// source are not counted here; they are reported as missing columns.
func NullCounts(series *models.Series) map[string]int {
	counts := make(map[string]int, len(models.RequiredColumns))
	for _, b := range series.Bars {
		if series.HasColumn("open") && math.IsNaN(b.Open) {
			counts["open"]++
		}
		if series.HasColumn("high") && math.IsNaN(b.High) {
			counts["high"]++
		}
		if series.HasColumn("low") && math.IsNaN(b.Low) {
			counts["low"]++
		}
		if series.HasColumn("close") && math.IsNaN(b.Close) {
			counts["close"]++
		}
		if series.HasColumn("volume") && math.IsNaN(b.Volume) {
			counts["volume"]++
		}
	}
	return counts
}

func (v *Validator) checkDuplicateDates(series *models.Series, report *models.DefectReport) {
	seen := make(map[time.Time]bool, series.Len())
	dups := 0
	for _, b := range series.Bars {
		d := models.Day(b.Date)
		if seen[d] {
			dups++
		}
		seen[d] = true
	}
	if dups > 0 {
		report.Add(models.DefectDuplicateDates, "", dups, "found %d duplicate dates", dups)
	}
}

func (v *Validator) checkNonPositiveClose(series *models.Series, report *models.DefectReport) {
	count := 0
	for _, b := range series.Bars {
		if b.Close <= 0 {
			count++
		}
	}
	if count > 0 {
		report.Add(models.DefectNonPositiveClose, "", count, "found %d rows with close price <= 0", count)
	}
}

func (v *Validator) checkHighLowInversion(series *models.Series, report *models.DefectReport) {
	count := 0
	for _, b := range series.Bars {
		if b.High < b.Low {
			count++
		}
	}
	if count > 0 {
		report.Add(models.DefectHighLowInversion, "", count, "found %d rows where high < low", count)
	}
}

func (v *Validator) checkExtremeMoves(series *models.Series, report *models.DefectReport) {
	count, samples := 0, 0
	for i := 1; i < len(series.Bars); i++ {
		prev, cur := series.Bars[i-1].Close, series.Bars[i].Close
		change, ok := pctChange(prev, cur)
		if !ok || math.Abs(change) <= v.cfg.ExtremeMoveThreshold {
			continue
		}
		count++
		if samples < v.cfg.MaxAnomalySamples {
			samples++
			report.Anomalies = append(report.Anomalies, models.Anomaly{
				Kind:      models.AnomalyExtremeMove,
				Date:      series.Bars[i].Date,
				Close:     cur,
				PrevClose: prev,
				PctChange: change * 100,
			})
		}
	}
	if count > 0 {
		report.Add(models.DefectExtremeMove, "", count,
			"found %d rows with >%.0f%% price movement", count, v.cfg.ExtremeMoveThreshold*100)
	}
}

// pctChange returns (close[t]/close[t-1]) - 1. It is undefined when either
// close is missing or the predecessor is not positive.
func pctChange(prev, cur float64) (float64, bool) {
	if math.IsNaN(prev) || math.IsNaN(cur) || prev <= 0 {
		return 0, false
	}
	return cur/prev - 1, true
}

func (v *Validator) checkCalendarGaps(series *models.Series, report *models.DefectReport) {
	if !series.Timeframe.IsDaily() {
		return
	}
	missing := MissingBusinessDays(series)
	if len(missing) == 0 {
		return
	}
	report.Add(models.DefectMissingDays, "", len(missing), "found %d missing business days", len(missing))
	for i, day := range missing {
		if i >= v.cfg.MaxAnomalySamples {
			break
		}
		report.Anomalies = append(report.Anomalies, models.Anomaly{
			Kind: models.AnomalyMissingDay,
			Date: day,
		})
	}
}

// MissingBusinessDays returns the Mon-Fri days inside the series' own date
// range that have no bar, in ascending order.
func MissingBusinessDays(series *models.Series) []time.Time {
	if series.Len() == 0 {
		return nil
	}
	present := make(map[time.Time]bool, series.Len())
	for _, b := range series.Bars {
		present[models.Day(b.Date)] = true
	}
	var missing []time.Time
	for _, day := range BusinessDays(series.MinDate(), series.MaxDate()) {
		if !present[day] {
			missing = append(missing, day)
		}
	}
	return missing
}

func (v *Validator) checkZeroVolume(series *models.Series, report *models.DefectReport) {
	if !series.HasColumn("volume") {
		return
	}
	count := 0
	for _, b := range series.Bars {
		if b.Volume <= 0 {
			count++
		}
	}
	if count > 0 {
		report.Add(models.DefectZeroVolume, "", count, "found %d rows with volume <= 0", count)
	}
}

func (v *Validator) checkStagnantBars(series *models.Series, report *models.DefectReport) {
	count := StagnantBars(series)
	if float64(count) > float64(series.Len())*v.cfg.StagnantBarRatio {
		report.Add(models.DefectStagnantBars, "", count,
			"found %d (%.1f%%) bars with unchanged price", count, float64(count)/float64(series.Len())*100)
	}
}

// StagnantBars counts rows where open equals close exactly. The count is
// always available as a statistic; it only becomes a defect above the
// configured ratio, which signals a feed malfunction rather than genuine
// illiquidity.
func StagnantBars(series *models.Series) int {
	count := 0
	for _, b := range series.Bars {
		if b.Open == b.Close {
			count++
		}
	}
	return count
}
