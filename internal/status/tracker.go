// Package status exposes a small operational surface for a running
// strategy: a health check and the last cycle's outcome.
package status

import (
	"sync"
	"time"
)

// Snapshot is one consistent view of the tracker.
type Snapshot struct {
	Strategy       string     `json:"strategy"`
	StartedAt      time.Time  `json:"started_at"`
	Cycles         int64      `json:"cycles"`
	LastCycleStart *time.Time `json:"last_cycle_start,omitempty"`
	LastCycleEnd   *time.Time `json:"last_cycle_end,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// Tracker records cycle lifecycle events from the control loop. Safe for
// concurrent use; the HTTP handler reads while the loop writes.
type Tracker struct {
	mu             sync.RWMutex
	strategy       string
	startedAt      time.Time
	cycles         int64
	lastCycleStart *time.Time
	lastCycleEnd   *time.Time
	lastError      string
}

// NewTracker creates a tracker.
func NewTracker() *Tracker {
	return &Tracker{startedAt: time.Now()}
}

// CycleStarted marks the beginning of a cycle.
func (t *Tracker) CycleStarted(strategyName string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strategy = strategyName
	t.lastCycleStart = &at
}

// CycleFinished marks the end of a cycle.
func (t *Tracker) CycleFinished(at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycles++
	t.lastCycleEnd = &at
	if err != nil {
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Strategy:       t.strategy,
		StartedAt:      t.startedAt,
		Cycles:         t.cycles,
		LastCycleStart: t.lastCycleStart,
		LastCycleEnd:   t.lastCycleEnd,
		LastError:      t.lastError,
	}
}

// Uptime reports how long the tracker has existed.
func (t *Tracker) Uptime() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Since(t.startedAt)
}
