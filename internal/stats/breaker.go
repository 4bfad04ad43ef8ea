package stats

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Breaker wraps a remote recorder with a circuit breaker. While the circuit is
// open, events are rejected immediately instead of waiting on a failing backend.
type Breaker struct {
	next      Recorder
	cb        *gobreaker.CircuitBreaker
	sometimes rate.Sometimes
}

// BreakerSettings configures NewBreaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the circuit. Defaults to 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before probing. Defaults to 30s.
	OpenTimeout time.Duration
}

// NewBreaker wraps next in a circuit breaker named name.
func NewBreaker(name string, next Recorder, settings BreakerSettings) *Breaker {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	st := gobreaker.Settings{Name: name}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
	}
	st.Timeout = settings.OpenTimeout
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Stats: Circuit breaker state changed")
	}
	return &Breaker{
		next:      next,
		cb:        gobreaker.NewCircuitBreaker(st),
		sometimes: rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Record forwards ev unless the circuit is open.
func (b *Breaker) Record(ctx context.Context, ev Event) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Record(ctx, ev)
	})
	if err != nil {
		b.sometimes.Do(func() {
			log.Error().Err(err).Str("breaker", b.cb.Name()).Str("throttle_key", ev.Throttle).Msg("Stats: Backend unavailable")
		})
	}
	return err
}

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// IsOpen reports whether err was produced by an open or saturated circuit.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
