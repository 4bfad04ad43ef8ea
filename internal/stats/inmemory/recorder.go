// Package statsinmemory provides an in-memory decision statistics recorder.
// It is useful for tests, development and the simulate command; nothing expires.
package statsinmemory

import (
	"context"
	"sync"

	"learn.throttle/internal/stats"
)

// Counters holds allow/deny totals.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
}

// Recorder keeps counters per throttle and, optionally, per key.
type Recorder struct {
	mu         sync.Mutex
	byThrottle map[string]Counters
	byKey      map[string]map[string]Counters
	trackKeys  bool
}

var _ stats.Recorder = (*Recorder)(nil)

// RecorderOption is a function type for setting options on a Recorder.
type RecorderOption func(*Recorder)

// WithTrackKeys enables per-key counters.
func WithTrackKeys(track bool) RecorderOption {
	return func(r *Recorder) { r.trackKeys = track }
}

// NewRecorder creates an empty Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		byThrottle: make(map[string]Counters),
		byKey:      make(map[string]map[string]Counters),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Record(_ context.Context, ev stats.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.byThrottle[ev.Throttle]
	c.add(ev.Allowed)
	r.byThrottle[ev.Throttle] = c

	if r.trackKeys {
		keys, ok := r.byKey[ev.Throttle]
		if !ok {
			keys = make(map[string]Counters)
			r.byKey[ev.Throttle] = keys
		}
		k := keys[ev.Key]
		k.add(ev.Allowed)
		keys[ev.Key] = k
	}
	return nil
}

// Total returns the counters of one throttle.
func (r *Recorder) Total(throttle string) Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byThrottle[throttle]
}

// ByKey returns a copy of the per-key counters of one throttle.
// It is empty unless key tracking is enabled.
func (r *Recorder) ByKey(throttle string) map[string]Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Counters, len(r.byKey[throttle]))
	for k, v := range r.byKey[throttle] {
		out[k] = v
	}
	return out
}
