// Package mininterval provides an in-memory implementation of minimum-interval throttling:
// a key may proceed only if at least minInterval has elapsed since its last allowed request.
package mininterval

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"learn.throttle/config"
	"learn.throttle/types"
)

// shardCount must be a power of two.
const shardCount = 32

// Limiter is the in-memory minimum-interval throttle.
// Keys are spread over lock-striped shards so that calls on different keys
// rarely contend, while every read-decide-write on one key runs under its shard lock.
type Limiter struct {
	key         string
	minInterval time.Duration
	nowFunc     func() time.Time
	shards      [shardCount]shard
	size        atomic.Int64
	onSweep     func(removed, remaining int)
}

type shard struct {
	mu          sync.RWMutex
	lastAllowed map[string]time.Time
}

var _ types.Throttler = (*Limiter)(nil)

// NewLimiterOption is a function type for setting options on a Limiter.
type NewLimiterOption func(*Limiter)

// WithClock sets a custom clock (nowFunc) for the Limiter.
func WithClock(nowFunc func() time.Time) NewLimiterOption {
	return func(l *Limiter) {
		l.nowFunc = nowFunc
	}
}

// WithSweepHook registers fn to be called by the janitor after every sweep.
func WithSweepHook(fn func(removed, remaining int)) NewLimiterOption {
	return func(l *Limiter) {
		l.onSweep = fn
	}
}

// NewLimiter creates a new in-memory minimum-interval throttle.
// A negative, NaN or infinite interval is rejected with config.ErrInvalidMinInterval.
func NewLimiter(key string, minInterval time.Duration, opts ...NewLimiterOption) (*Limiter, error) {
	if minInterval < 0 {
		return nil, fmt.Errorf("throttle '%s': %w: got %s", key, config.ErrInvalidMinInterval, minInterval)
	}
	l := &Limiter{
		key:         key,
		minInterval: minInterval,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	for i := range l.shards {
		l.shards[i].lastAllowed = make(map[string]time.Time)
	}
	log.Info().Str("limiter_type", "MinInterval").Str("backend", "InMemory").Str("throttle_key", key).Dur("min_interval", minInterval).Msg("Throttle: Initialized")
	return l, nil
}

// NewLimiterFromSeconds validates a floating point interval in seconds and creates a Limiter.
func NewLimiterFromSeconds(key string, minIntervalSeconds float64, opts ...NewLimiterOption) (*Limiter, error) {
	if err := config.ValidateMinInterval(minIntervalSeconds); err != nil {
		return nil, fmt.Errorf("throttle '%s': %w", key, err)
	}
	return NewLimiter(key, config.SecondsToDuration(minIntervalSeconds), opts...)
}

// MinInterval returns the configured minimum spacing between two allowed requests.
func (l *Limiter) MinInterval() time.Duration {
	return l.minInterval
}

// MayProceed reports whether identifier would be allowed now. It does not modify state.
func (l *Limiter) MayProceed(identifier string) bool {
	s := l.shardFor(identifier)
	s.mu.RLock()
	last, ok := s.lastAllowed[identifier]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	return l.nowFunc().Sub(last) >= l.minInterval
}

// Record allows identifier and stores the current time if enough time has elapsed
// since its last allowed request. A denied request leaves state unchanged.
func (l *Limiter) Record(identifier string) bool {
	s := l.shardFor(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.nowFunc()
	last, ok := s.lastAllowed[identifier]
	if ok && now.Sub(last) < l.minInterval {
		log.Debug().Str("throttle_key", l.key).Str("identifier", identifier).Msg("Throttle: Request denied")
		return false
	}
	if !ok {
		l.size.Add(1)
	}
	s.lastAllowed[identifier] = now
	log.Debug().Str("throttle_key", l.key).Str("identifier", identifier).Msg("Throttle: Request allowed")
	return true
}

// TimeUntilAllowed returns the remaining wait before identifier may proceed, never negative.
// The value is informational: time passes between this call and a later Record.
func (l *Limiter) TimeUntilAllowed(identifier string) time.Duration {
	s := l.shardFor(identifier)
	s.mu.RLock()
	last, ok := s.lastAllowed[identifier]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	remaining := l.minInterval - l.nowFunc().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	return int(l.size.Load())
}

// Sweep removes keys whose last allowed request is older than idleTTL, and returns how many
// were removed. Keys still inside their throttle window are never removed, so sweeping
// cannot let a request through early.
func (l *Limiter) Sweep(idleTTL time.Duration) int {
	cutoff := idleTTL
	if cutoff < l.minInterval {
		cutoff = l.minInterval
	}
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		now := l.nowFunc()
		for k, last := range s.lastAllowed {
			if now.Sub(last) >= cutoff {
				delete(s.lastAllowed, k)
				l.size.Add(-1)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// StartJanitor starts a goroutine that sweeps idle keys every interval until ctx is done.
// It does nothing if either duration is not positive.
func (l *Limiter) StartJanitor(ctx context.Context, every, idleTTL time.Duration) {
	if every <= 0 || idleTTL <= 0 {
		return
	}
	log.Info().Str("throttle_key", l.key).Dur("sweep_every", every).Dur("idle_ttl", idleTTL).Msg("Throttle: Starting janitor")

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug().Str("throttle_key", l.key).Msg("Throttle: Janitor stopped")
				return
			case <-t.C:
				n := l.Sweep(idleTTL)
				if n > 0 {
					log.Debug().Str("throttle_key", l.key).Int("removed", n).Int("remaining", l.Len()).Msg("Throttle: Swept idle keys")
				}
				if l.onSweep != nil {
					l.onSweep(n, l.Len())
				}
			}
		}
	}()
}

func (l *Limiter) shardFor(identifier string) *shard {
	return &l.shards[xxhash.Sum64String(identifier)&(shardCount-1)]
}
