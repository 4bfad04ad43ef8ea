package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrDropped is returned when the async buffer is full or the recorder is closed.
var ErrDropped = errors.New("stats event dropped")

// Async hands events to a single background worker through a bounded buffer,
// so recording never blocks the caller. Events that do not fit are dropped.
type Async struct {
	next    Recorder
	timeout time.Duration
	onError func(Event, error)

	mu      sync.RWMutex
	closed  bool
	events  chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// AsyncOption is a function type for setting options on an Async recorder.
type AsyncOption func(*Async)

// WithTimeout bounds each call to the wrapped recorder.
func WithTimeout(d time.Duration) AsyncOption {
	return func(a *Async) { a.timeout = d }
}

// WithErrorHandler is called from the worker for every failed event.
func WithErrorHandler(fn func(Event, error)) AsyncOption {
	return func(a *Async) { a.onError = fn }
}

// NewAsync starts the worker. Close must be called to release it.
func NewAsync(next Recorder, buffer int, opts ...AsyncOption) *Async {
	if buffer < 1 {
		buffer = 1
	}
	a := &Async{
		next:    next,
		timeout: 2 * time.Second,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

// Record enqueues ev without blocking.
func (a *Async) Record(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return ErrDropped
	}
	select {
	case a.events <- ev:
		return nil
	default:
		a.dropped.Add(1)
		return ErrDropped
	}
}

// Dropped returns how many events were discarded so far.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting events, drains the buffer and waits for the worker.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()

	<-a.done
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Record(ctx, ev)
		cancel()
		if err == nil {
			continue
		}
		if a.onError != nil {
			a.onError(ev, err)
			continue
		}
		log.Warn().Err(err).Str("throttle_key", ev.Throttle).Msg("Stats: Failed to record event")
	}
}
