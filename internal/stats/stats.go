// Package stats records throttle decisions to a best-effort sink.
//
// Recording never influences a throttle decision: recorders are fed after the
// decision has been made, and their errors are logged and counted, not returned
// to the caller of Record.
package stats

import (
	"context"
	"time"
)

// Event is a single allow/deny decision.
//
// Beware of cardinality when per-key tracking is enabled: every distinct key
// becomes a counter in the backend.
type Event struct {
	Throttle string
	Key      string
	Allowed  bool
	At       time.Time
}

// Outcome returns "allowed" or "denied".
func (e Event) Outcome() string {
	if e.Allowed {
		return "allowed"
	}
	return "denied"
}

// Recorder persists decision events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
