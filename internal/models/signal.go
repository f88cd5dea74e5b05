package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalMap maps a symbol to its trend signal: the arithmetic mean of
// consecutive close-price deltas over the lookback window. A symbol with
// fewer than two bars has no signal and is absent from the map.
type SignalMap map[string]decimal.Decimal

// CacheEntry is a persisted signal computation. An entry is usable only if
// now minus ComputedAt is under the cache TTL; otherwise the whole entry is
// discarded and recomputed, never returned partially.
type CacheEntry struct {
	ComputedAt time.Time `json:"computed_at"`
	Signals    SignalMap `json:"data"`
}

// Fresh reports whether the entry is still usable at the given time.
func (e *CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.ComputedAt) < ttl
}
