package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/swinglab/go-bars-pipeline/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGateAbsent(t *testing.T) {
	gate := NewGate(7)
	assert.Equal(t, Absent, gate.Evaluate(nil, day(2024, 1, 1), day(2024, 6, 30)))
}

func TestGateAge(t *testing.T) {
	now := day(2024, 7, 10)
	meta := &models.CacheMeta{
		Symbol:    "AAPL",
		Timeframe: models.TimeframeDaily,
		MinDate:   day(2024, 1, 1),
		MaxDate:   day(2024, 7, 9),
		StoredAt:  now.Add(-6 * 24 * time.Hour),
	}

	gate := NewGate(7).WithClock(fixedClock(now))
	assert.Equal(t, Fresh, gate.Evaluate(meta, day(2024, 2, 1), day(2024, 6, 30)))

	t.Run("exactly at the bound is still fresh", func(t *testing.T) {
		m := *meta
		m.StoredAt = now.Add(-7 * 24 * time.Hour)
		assert.Equal(t, Fresh, gate.Evaluate(&m, day(2024, 2, 1), day(2024, 6, 30)))
	})

	t.Run("past the bound is stale", func(t *testing.T) {
		m := *meta
		m.StoredAt = now.Add(-7*24*time.Hour - time.Second)
		assert.Equal(t, Stale, gate.Evaluate(&m, day(2024, 2, 1), day(2024, 6, 30)))
	})
}

func TestGateCoverage(t *testing.T) {
	now := day(2024, 7, 10)
	gate := NewGate(7).WithClock(fixedClock(now))
	meta := &models.CacheMeta{
		MinDate:  day(2024, 3, 1),
		MaxDate:  day(2024, 6, 30),
		StoredAt: now,
	}

	t.Run("young but narrow entry is stale", func(t *testing.T) {
		assert.Equal(t, Stale, gate.Evaluate(meta, day(2024, 1, 1), day(2024, 6, 30)))
		assert.Equal(t, Stale, gate.Evaluate(meta, day(2024, 3, 1), day(2024, 7, 5)))
	})

	t.Run("covered range is fresh", func(t *testing.T) {
		assert.Equal(t, Fresh, gate.Evaluate(meta, day(2024, 3, 1), day(2024, 6, 30)))
	})

	t.Run("open-ended request only needs a live entry", func(t *testing.T) {
		assert.Equal(t, Fresh, gate.Evaluate(meta, time.Time{}, time.Time{}))
	})
}

// Freshness is monotone: once an entry has gone stale by age, it never
// becomes fresh again as the clock advances.
func TestGateMonotonicity(t *testing.T) {
	meta := &models.CacheMeta{
		MinDate:  day(2024, 1, 1),
		MaxDate:  day(2024, 6, 30),
		StoredAt: day(2024, 7, 1),
	}
	start, end := day(2024, 2, 1), day(2024, 6, 1)

	staleSeen := false
	for offset := 0; offset <= 14; offset++ {
		now := meta.StoredAt.Add(time.Duration(offset) * 24 * time.Hour)
		decision := NewGate(7).WithClock(fixedClock(now)).Evaluate(meta, start, end)
		if staleSeen {
			assert.Equal(t, Stale, decision, "clock offset %d days", offset)
		}
		if decision == Stale {
			staleSeen = true
		}
	}
	assert.True(t, staleSeen)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "stale", Stale.String())
	assert.Equal(t, "fresh", Fresh.String())
	assert.Equal(t, "unknown", Decision(42).String())
}
