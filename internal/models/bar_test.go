package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		input   string
		want    Timeframe
		wantErr bool
	}{
		{"daily", TimeframeDaily, false},
		{"weekly", TimeframeWeekly, false},
		{"monthly", TimeframeMonthly, false},
		{"5min", Timeframe5Min, false},
		{"hourly", "", true},
		{"", "", true},
		{"Daily", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tf, err := ParseTimeframe(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tf)
		})
	}
}

func TestTimeframeIsDaily(t *testing.T) {
	assert.True(t, TimeframeDaily.IsDaily())
	assert.False(t, TimeframeWeekly.IsDaily())
	assert.False(t, TimeframeMonthly.IsDaily())
	assert.False(t, Timeframe5Min.IsDaily())
}

func TestDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got := Day(time.Date(2024, 3, 15, 18, 30, 45, 123, loc))
	assert.Equal(t, day(2024, 3, 15), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestBarNullAndPositiveChecks(t *testing.T) {
	valid := Bar{Date: day(2024, 1, 2), Open: 10, High: 12, Low: 9, Close: 11, Volume: 100}
	assert.False(t, valid.HasNullPrice())
	assert.True(t, valid.HasPositivePrices())

	t.Run("null open", func(t *testing.T) {
		b := valid
		b.Open = math.NaN()
		assert.True(t, b.HasNullPrice())
		assert.False(t, b.HasPositivePrices())
	})

	t.Run("null volume is not a null price", func(t *testing.T) {
		b := valid
		b.Volume = math.NaN()
		assert.False(t, b.HasNullPrice())
		assert.True(t, b.HasPositivePrices())
	})

	t.Run("zero close", func(t *testing.T) {
		b := valid
		b.Close = 0
		assert.False(t, b.HasNullPrice())
		assert.False(t, b.HasPositivePrices())
	})

	t.Run("negative low", func(t *testing.T) {
		b := valid
		b.Low = -1
		assert.False(t, b.HasPositivePrices())
	})
}

func TestSeriesColumns(t *testing.T) {
	t.Run("nil columns means all present", func(t *testing.T) {
		s := NewSeries("AAPL", TimeframeDaily, nil)
		assert.True(t, s.HasColumn("close"))
		assert.Empty(t, s.MissingColumns())
	})

	t.Run("explicit columns", func(t *testing.T) {
		s := &Series{
			Symbol:    "AAPL",
			Timeframe: TimeframeDaily,
			Columns:   []string{"open", "high", "low", "close"},
		}
		assert.True(t, s.HasColumn("open"))
		assert.False(t, s.HasColumn("volume"))
		assert.Equal(t, []string{"volume"}, s.MissingColumns())
	})
}

func TestSeriesDateRange(t *testing.T) {
	s := NewSeries("AAPL", TimeframeDaily, []Bar{
		{Date: day(2024, 3, 5)},
		{Date: day(2024, 3, 1)},
		{Date: day(2024, 3, 4)},
	})

	// Range scan must not require sorted input.
	assert.Equal(t, day(2024, 3, 1), s.MinDate())
	assert.Equal(t, day(2024, 3, 5), s.MaxDate())

	empty := NewSeries("AAPL", TimeframeDaily, nil)
	assert.True(t, empty.MinDate().IsZero())
	assert.True(t, empty.MaxDate().IsZero())
}

func TestSeriesClone(t *testing.T) {
	s := NewSeries("AAPL", TimeframeDaily, []Bar{
		{Date: day(2024, 3, 1), Close: 10},
	})
	s.Columns = []string{"open", "close"}

	c := s.Clone()
	c.Bars[0].Close = 99
	c.Columns[0] = "volume"

	assert.Equal(t, 10.0, s.Bars[0].Close)
	assert.Equal(t, "open", s.Columns[0])
}

func TestSeriesSortByDateStable(t *testing.T) {
	s := NewSeries("AAPL", TimeframeDaily, []Bar{
		{Date: day(2024, 3, 2), Close: 1},
		{Date: day(2024, 3, 1), Close: 2},
		{Date: day(2024, 3, 2), Close: 3},
	})
	s.SortByDate()

	require.Len(t, s.Bars, 3)
	assert.Equal(t, 2.0, s.Bars[0].Close)
	// Stable: first arrival of the duplicated date stays first.
	assert.Equal(t, 1.0, s.Bars[1].Close)
	assert.Equal(t, 3.0, s.Bars[2].Close)
}

func TestCacheMetaCovers(t *testing.T) {
	meta := &CacheMeta{
		MinDate: day(2024, 1, 1),
		MaxDate: day(2024, 6, 30),
	}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"exact range", day(2024, 1, 1), day(2024, 6, 30), true},
		{"inner range", day(2024, 2, 1), day(2024, 5, 1), true},
		{"starts too early", day(2023, 12, 1), day(2024, 5, 1), false},
		{"ends too late", day(2024, 2, 1), day(2024, 7, 1), false},
		{"open start", time.Time{}, day(2024, 5, 1), true},
		{"open end", day(2024, 2, 1), time.Time{}, true},
		{"fully open", time.Time{}, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, meta.Covers(tt.start, tt.end))
		})
	}
}

func TestDefectReport(t *testing.T) {
	r := &DefectReport{Symbol: "AAPL", Timeframe: TimeframeDaily}
	assert.True(t, r.IsValid())

	r.Add(DefectNullValues, "close", 3, "found %d null values in column %q", 3, "close")
	r.Add(DefectNullValues, "open", 2, "found %d null values in column %q", 2, "open")
	r.Add(DefectDuplicateDates, "", 1, "found %d duplicate dates", 1)

	assert.False(t, r.IsValid())
	assert.Equal(t, 5, r.Count(DefectNullValues))
	assert.Equal(t, 1, r.Count(DefectDuplicateDates))
	assert.Equal(t, 0, r.Count(DefectExtremeMove))
	assert.True(t, r.Has(DefectDuplicateDates))
	assert.False(t, r.Has(DefectMissingDays))

	issues := r.Issues()
	require.Len(t, issues, 3)
	assert.Equal(t, `found 3 null values in column "close"`, issues[0])
}
