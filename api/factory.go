package api

import (
	"time"

	"learn.throttle/config"
	"learn.throttle/internal/factory"
	"learn.throttle/metrics"
	"learn.throttle/types"
)

// Option is a function type for setting options on the throttles built by this package.
type Option func(*options)

type options struct {
	factoryOpts []factory.FactoryOption
}

// WithMetrics reports every throttle's decisions to m.
func WithMetrics(m *metrics.ThrottleMetrics) Option {
	return func(o *options) { o.factoryOpts = append(o.factoryOpts, factory.WithMetrics(m)) }
}

// WithClock replaces time.Now as the time source of every throttle.
func WithClock(nowFunc func() time.Time) Option {
	return func(o *options) { o.factoryOpts = append(o.factoryOpts, factory.WithClock(nowFunc)) }
}

// NewThrottle creates a single in-process throttle from cfg. Stats backends that need
// a network client are not available here; use NewThrottlesFromConfig for those.
func NewThrottle(cfg config.ThrottleConfig, opts ...Option) (Throttle, error) {
	th, err := newFactory(opts).CreateThrottle(cfg, types.BackendClients{})
	if err != nil {
		return nil, err
	}
	return th, nil
}

func newFactory(opts []Option) *factory.MinIntervalFactory {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return factory.NewMinIntervalFactory(o.factoryOpts...)
}
