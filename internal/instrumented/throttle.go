// Package instrumented decorates a throttle with metrics and decision statistics.
package instrumented

import (
	"context"
	"errors"
	"sync"
	"time"

	"learn.throttle/internal/stats"
	"learn.throttle/metrics"
	"learn.throttle/types"
)

// Throttle forwards every call to the wrapped throttler and reports the outcome
// of Record. Reporting happens after the decision and never changes it.
type Throttle struct {
	name     string
	inner    types.Throttler
	recorder stats.Recorder
	metrics  *metrics.ThrottleMetrics
	nowFunc  func() time.Time

	closeOnce sync.Once
	closers   []func() error
}

var _ types.Throttler = (*Throttle)(nil)

// Option is a function type for setting options on a Throttle.
type Option func(*Throttle)

// WithRecorder sets the stats recorder. It should not block; see stats.NewAsync.
func WithRecorder(r stats.Recorder) Option {
	return func(t *Throttle) { t.recorder = r }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.ThrottleMetrics) Option {
	return func(t *Throttle) { t.metrics = m }
}

// WithClock sets the clock used to timestamp stats events.
func WithClock(nowFunc func() time.Time) Option {
	return func(t *Throttle) { t.nowFunc = nowFunc }
}

// WithCloser registers fn to run on Close, in registration order.
func WithCloser(fn func() error) Option {
	return func(t *Throttle) { t.closers = append(t.closers, fn) }
}

// New wraps inner under name.
func New(name string, inner types.Throttler, opts ...Option) *Throttle {
	t := &Throttle{
		name:     name,
		inner:    inner,
		recorder: stats.Nop{},
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the throttle key from configuration.
func (t *Throttle) Name() string {
	return t.name
}

// Unwrap returns the decorated throttler.
func (t *Throttle) Unwrap() types.Throttler {
	return t.inner
}

func (t *Throttle) MayProceed(key string) bool {
	return t.inner.MayProceed(key)
}

func (t *Throttle) TimeUntilAllowed(key string) time.Duration {
	return t.inner.TimeUntilAllowed(key)
}

func (t *Throttle) Record(key string) bool {
	allowed := t.inner.Record(key)

	t.metrics.RecordDecision(t.name, allowed)
	if allowed {
		if l, ok := t.inner.(interface{ Len() int }); ok {
			t.metrics.SetTrackedKeys(t.name, l.Len())
		}
	}

	ev := stats.Event{Throttle: t.name, Key: key, Allowed: allowed, At: t.nowFunc()}
	if err := t.recorder.Record(context.Background(), ev); err != nil {
		if errors.Is(err, stats.ErrDropped) {
			t.metrics.RecordStatsDrop(t.name)
		} else {
			t.metrics.RecordStatsError(t.name)
		}
	}
	return allowed
}

// Close runs the registered closers once and joins their errors.
func (t *Throttle) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		for _, fn := range t.closers {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
