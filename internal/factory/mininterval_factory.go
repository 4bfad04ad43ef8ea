package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"learn.throttle/config"
	"learn.throttle/internal/instrumented"
	"learn.throttle/internal/mininterval"
	"learn.throttle/internal/stats"
	statsinmemory "learn.throttle/internal/stats/inmemory"
	statsmemcache "learn.throttle/internal/stats/memcache"
	statsredis "learn.throttle/internal/stats/redis"
	"learn.throttle/metrics"
	"learn.throttle/types"
)

// MinIntervalFactory creates throttles using minimum-interval throttling.
type MinIntervalFactory struct {
	metrics *metrics.ThrottleMetrics
	nowFunc func() time.Time
}

// FactoryOption is a function type for setting options on a MinIntervalFactory.
type FactoryOption func(*MinIntervalFactory)

// WithMetrics sets the Prometheus collectors every created throttle reports to.
func WithMetrics(m *metrics.ThrottleMetrics) FactoryOption {
	return func(f *MinIntervalFactory) { f.metrics = m }
}

// WithClock sets the clock shared by every created throttle.
func WithClock(nowFunc func() time.Time) FactoryOption {
	return func(f *MinIntervalFactory) { f.nowFunc = nowFunc }
}

// NewMinIntervalFactory returns a new MinIntervalFactory instance.
func NewMinIntervalFactory(opts ...FactoryOption) *MinIntervalFactory {
	f := &MinIntervalFactory{nowFunc: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateThrottle validates cfg and creates an instrumented minimum-interval throttle.
// The caller owns the returned throttle and must Close it to stop its janitor and
// flush its stats recorder.
func (f *MinIntervalFactory) CreateThrottle(cfg config.ThrottleConfig, clients types.BackendClients) (*instrumented.Throttle, error) {
	log.Debug().Str("throttle_key", cfg.Key).Msg("Factory(MinInterval): Creating throttle")
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Str("throttle_key", cfg.Key).Msg("Factory(MinInterval): Invalid configuration")
		return nil, err
	}

	limiter, err := mininterval.NewLimiter(cfg.Key, cfg.MinIntervalDuration(),
		mininterval.WithClock(f.nowFunc),
		mininterval.WithSweepHook(func(_, remaining int) {
			f.metrics.SetTrackedKeys(cfg.Key, remaining)
		}),
	)
	if err != nil {
		return nil, err
	}

	recorder, err := f.createRecorder(cfg, clients)
	if err != nil {
		log.Error().Err(err).Str("throttle_key", cfg.Key).Msg("Factory(MinInterval): Creation failed")
		return nil, err
	}

	opts := []instrumented.Option{
		instrumented.WithMetrics(f.metrics),
		instrumented.WithClock(f.nowFunc),
	}
	if recorder != nil {
		async := stats.NewAsync(recorder, cfg.Stats.Buffer, stats.WithErrorHandler(func(ev stats.Event, err error) {
			f.metrics.RecordStatsError(ev.Throttle)
		}))
		opts = append(opts, instrumented.WithRecorder(async), instrumented.WithCloser(async.Close))
	}

	if cfg.IdleTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		limiter.StartJanitor(ctx, cfg.SweepEvery, cfg.IdleTTL)
		opts = append(opts, instrumented.WithCloser(func() error {
			cancel()
			return nil
		}))
	}

	return instrumented.New(cfg.Key, limiter, opts...), nil
}

// createRecorder returns nil when stats are disabled.
func (f *MinIntervalFactory) createRecorder(cfg config.ThrottleConfig, clients types.BackendClients) (stats.Recorder, error) {
	if cfg.Stats == nil {
		return nil, nil
	}
	s := cfg.Stats
	switch s.Backend {
	case config.NoBackend:
		return nil, nil
	case config.InMemory:
		log.Info().Str("throttle_key", cfg.Key).Str("backend", "InMemory").Msg("Factory(MinInterval): Recording decision stats")
		return statsinmemory.NewRecorder(statsinmemory.WithTrackKeys(s.TrackKeys)), nil
	case config.Redis:
		if clients.RedisClient == nil {
			return nil, fmt.Errorf("redis client is required but not provided for redis stats backend for key '%s'", cfg.Key)
		}
		log.Info().Str("throttle_key", cfg.Key).Str("backend", "Redis").Str("prefix", s.Prefix).Msg("Factory(MinInterval): Recording decision stats")
		r := statsredis.NewRecorder(clients.RedisClient,
			statsredis.WithPrefix(s.Prefix),
			statsredis.WithTTL(s.TTL),
			statsredis.WithTrackKeys(s.TrackKeys),
		)
		return stats.NewBreaker("stats-redis-"+cfg.Key, r, stats.BreakerSettings{}), nil
	case config.Memcache:
		if clients.MemcacheClient == nil {
			return nil, fmt.Errorf("memcache client is required but not provided for memcache stats backend for key '%s'", cfg.Key)
		}
		log.Info().Str("throttle_key", cfg.Key).Str("backend", "Memcache").Str("prefix", s.Prefix).Msg("Factory(MinInterval): Recording decision stats")
		r := statsmemcache.NewRecorder(clients.MemcacheClient, s.Prefix,
			statsmemcache.WithExpiration(memcacheExpiration(s.TTL)),
			statsmemcache.WithTrackKeys(s.TrackKeys),
		)
		return stats.NewBreaker("stats-memcache-"+cfg.Key, r, stats.BreakerSettings{}), nil
	default:
		return nil, fmt.Errorf("%w '%s' for key '%s'", config.ErrUnsupportedBackend, s.Backend, cfg.Key)
	}
}

// memcacheExpiration converts ttl to relative seconds. Memcache reads values above
// 30 days as absolute Unix times, so longer TTLs are capped.
func memcacheExpiration(ttl time.Duration) int32 {
	const maxRelative = 30 * 24 * time.Hour
	if ttl > maxRelative {
		ttl = maxRelative
	}
	return int32(ttl / time.Second)
}
