// Package clock provides a manually driven time source for deterministic tests
// and simulations. Production code uses time.Now, which carries a monotonic reading.
package clock

import (
	"sync"
	"time"
)

// Manual is a clock that only moves when told to. It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current simulated time. Its method value satisfies the
// func() time.Time clock option accepted by the throttles.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d. Negative durations are ignored so the
// clock stays monotonic.
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
