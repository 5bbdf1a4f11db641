// Package freshness implements the cache freshness gate: a pure decision
// over cache metadata that tells the caller whether a cached series
// satisfies a request or a refetch is needed. The gate never touches the
// store or the network; fetch-on-miss and persist-on-fetch stay with the
// caller.
package freshness

import (
	"time"

	"github.com/swinglab/go-bars-pipeline/internal/models"
)

// Decision is the gate outcome for one request.
type Decision int

const (
	// Absent means no cache entry exists for the key.
	Absent Decision = iota
	// Stale means an entry exists but fails the age bound or does not
	// cover the requested range.
	Stale
	// Fresh means the cached series satisfies the request unchanged.
	Fresh
)

func (d Decision) String() string {
	switch d {
	case Absent:
		return "absent"
	case Stale:
		return "stale"
	case Fresh:
		return "fresh"
	default:
		return "unknown"
	}
}

// Gate evaluates cache metadata against requests. The clock is injected so
// age decisions are deterministic under test.
type Gate struct {
	maxAge time.Duration
	now    func() time.Time
}

// DefaultMaxAgeDays is the default cache expiry.
const DefaultMaxAgeDays = 7

// NewGate creates a gate with the given maximum cache age in days.
func NewGate(maxAgeDays int) *Gate {
	return &Gate{
		maxAge: time.Duration(maxAgeDays) * 24 * time.Hour,
		now:    time.Now,
	}
}

// WithClock overrides the gate clock, returning the gate for chaining.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Evaluate decides whether the cached entry described by meta satisfies a
// request for [start, end]. Coverage dominates age: an entry younger than
// the age bound but narrower than the request is Stale, because returning
// it would silently truncate the requested window.
func (g *Gate) Evaluate(meta *models.CacheMeta, start, end time.Time) Decision {
	if meta == nil {
		return Absent
	}
	if g.now().Sub(meta.StoredAt) > g.maxAge {
		return Stale
	}
	if !meta.Covers(start, end) {
		return Stale
	}
	return Fresh
}
