package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/swinglab/go-bars-pipeline/internal/errors"
	"github.com/swinglab/go-bars-pipeline/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseRaw(t *testing.T) {
	payload := &Payload{
		Candles: []RawCandle{
			{Date: "2024-03-04", Open: "99.5", High: "101.25", Low: "98.75", Close: "100.00", Volume: "12345"},
			{Date: "2024-03-05", Open: "", High: "102", Low: "99", Close: "n/a", Volume: "9000"},
		},
	}

	series, err := ParseRaw("AAPL", models.TimeframeDaily, payload)
	require.NoError(t, err)
	require.Equal(t, 2, series.Len())
	assert.Equal(t, "AAPL", series.Symbol)
	assert.Nil(t, series.Columns)

	assert.Equal(t, day(2024, 3, 4), series.Bars[0].Date)
	assert.Equal(t, 99.5, series.Bars[0].Open)
	assert.Equal(t, 100.0, series.Bars[0].Close)

	// Empty and malformed numerics coerce to NaN for validation to find.
	assert.True(t, math.IsNaN(series.Bars[1].Open))
	assert.True(t, math.IsNaN(series.Bars[1].Close))
	assert.Equal(t, 9000.0, series.Bars[1].Volume)
}

func TestParseRawDateFormats(t *testing.T) {
	payload := &Payload{
		Candles: []RawCandle{
			{Date: "2024-03-04", Close: "1"},
			{Date: "2024-03-05T16:00:00Z", Close: "1"},
			{Date: "2024-03-06 16:00:00", Close: "1"},
		},
	}

	series, err := ParseRaw("AAPL", models.TimeframeDaily, payload)
	require.NoError(t, err)
	// Timestamps normalize to UTC midnight.
	assert.Equal(t, day(2024, 3, 4), series.Bars[0].Date)
	assert.Equal(t, day(2024, 3, 5), series.Bars[1].Date)
	assert.Equal(t, day(2024, 3, 6), series.Bars[2].Date)
}

func TestParseRawBadDate(t *testing.T) {
	payload := &Payload{Candles: []RawCandle{{Date: "04/03/2024", Close: "1"}}}
	_, err := ParseRaw("AAPL", models.TimeframeDaily, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable date")
}

func TestParseRawColumns(t *testing.T) {
	payload := &Payload{
		Columns: []string{"open", "high", "low", "close"},
		Candles: []RawCandle{{Date: "2024-03-04", Open: "1", High: "1", Low: "1", Close: "1"}},
	}

	series, err := ParseRaw("AAPL", models.TimeframeDaily, payload)
	require.NoError(t, err)
	assert.False(t, series.HasColumn("volume"))
	assert.Equal(t, []string{"volume"}, series.MissingColumns())
}

func TestParseRawNilPayload(t *testing.T) {
	_, err := ParseRaw("AAPL", models.TimeframeDaily, nil)
	assert.Error(t, err)
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	content := `{"candles":[{"date":"2024-03-04","open":"99","high":"101","low":"98","close":"100","volume":"1000"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL_daily.json"), []byte(content), 0644))

	f := NewFileFetcher(dir, nil)
	payload, err := f.Fetch(context.Background(), Request{Symbol: "AAPL", Timeframe: models.TimeframeDaily})
	require.NoError(t, err)
	require.Len(t, payload.Candles, 1)
	assert.Equal(t, "100", payload.Candles[0].Close)

	t.Run("missing file is a collaborator error", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), Request{Symbol: "MSFT", Timeframe: models.TimeframeDaily})
		require.Error(t, err)
		var ce *pipeerrors.CollaboratorError
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("malformed json is a collaborator error", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "BAD_daily.json"), []byte("{"), 0644))
		_, err := f.Fetch(context.Background(), Request{Symbol: "BAD", Timeframe: models.TimeframeDaily})
		assert.Error(t, err)
	})
}

func TestRetryingFetcher(t *testing.T) {
	policy := pipeerrors.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Strategy:     "fixed",
	}

	t.Run("retries transient failures", func(t *testing.T) {
		attempts := 0
		inner := FetcherFunc(func(ctx context.Context, req Request) (*Payload, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			return &Payload{}, nil
		})

		payload, err := NewRetryingFetcher(inner, policy, nil).Fetch(context.Background(), Request{Symbol: "AAPL"})
		require.NoError(t, err)
		assert.NotNil(t, payload)
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent failures return immediately", func(t *testing.T) {
		attempts := 0
		inner := FetcherFunc(func(ctx context.Context, req Request) (*Payload, error) {
			attempts++
			return nil, fmt.Errorf("unknown symbol")
		})

		_, err := NewRetryingFetcher(inner, policy, nil).Fetch(context.Background(), Request{Symbol: "NOPE"})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("attempt budget is exhausted", func(t *testing.T) {
		attempts := 0
		inner := FetcherFunc(func(ctx context.Context, req Request) (*Payload, error) {
			attempts++
			return nil, errors.New("request timeout")
		})

		_, err := NewRetryingFetcher(inner, policy, nil).Fetch(context.Background(), Request{Symbol: "AAPL"})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
	})
}

func TestTrimRange(t *testing.T) {
	series := models.NewSeries("AAPL", models.TimeframeDaily, []models.Bar{
		{Date: day(2024, 3, 1)},
		{Date: day(2024, 3, 4)},
		{Date: day(2024, 3, 5)},
		{Date: day(2024, 3, 6)},
	})

	t.Run("inclusive bounds", func(t *testing.T) {
		out := TrimRange(series, day(2024, 3, 4), day(2024, 3, 5))
		require.Equal(t, 2, out.Len())
		assert.Equal(t, day(2024, 3, 4), out.Bars[0].Date)
		assert.Equal(t, day(2024, 3, 5), out.Bars[1].Date)
	})

	t.Run("zero bounds are open", func(t *testing.T) {
		out := TrimRange(series, time.Time{}, day(2024, 3, 4))
		assert.Equal(t, 2, out.Len())

		out = TrimRange(series, day(2024, 3, 5), time.Time{})
		assert.Equal(t, 2, out.Len())

		out = TrimRange(series, time.Time{}, time.Time{})
		assert.Equal(t, 4, out.Len())
	})

	t.Run("input is not mutated", func(t *testing.T) {
		before := series.Clone()
		TrimRange(series, day(2024, 3, 4), day(2024, 3, 5))
		assert.Equal(t, before, series)
	})
}
