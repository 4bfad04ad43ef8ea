// Package statsmemcache provides a Memcache implementation of the decision statistics recorder.
package statsmemcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/rs/zerolog/log"

	"learn.throttle/internal/memcacheiface"
	"learn.throttle/internal/stats"
)

// Recorder keeps one counter per throttle and outcome:
//
//	<prefix>:<throttle>:allowed
//	<prefix>:<throttle>:denied
//
// and, with key tracking, <prefix>:<throttle>:key:<key>:<outcome>.
// Memcache keys may not contain spaces or control characters, so such keys are
// skipped for per-key tracking.
type Recorder struct {
	client     memcacheiface.Client
	prefix     string
	expiration int32
	trackKeys  bool
}

var _ stats.Recorder = (*Recorder)(nil)

// RecorderOption is a function type for setting options on a Recorder.
type RecorderOption func(*Recorder)

// WithExpiration sets the expiry in seconds applied when a counter is created. Zero never expires.
func WithExpiration(seconds int32) RecorderOption {
	return func(r *Recorder) { r.expiration = seconds }
}

// WithTrackKeys enables per-key counters.
func WithTrackKeys(track bool) RecorderOption {
	return func(r *Recorder) { r.trackKeys = track }
}

// NewRecorder creates a Memcache-backed recorder.
func NewRecorder(client memcacheiface.Client, prefix string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		client: client,
		prefix: strings.Trim(prefix, ":"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Record(_ context.Context, ev stats.Event) error {
	if _, err := r.increment(r.CounterKey(ev.Throttle, ev.Allowed), 0); err != nil {
		return err
	}
	if !r.trackKeys {
		return nil
	}
	keyKey := r.KeyCounterKey(ev.Throttle, ev.Key, ev.Allowed)
	if !validKey(keyKey) {
		log.Debug().Str("throttle_key", ev.Throttle).Str("identifier", ev.Key).Msg("Stats: Identifier not usable as memcache key, skipping per-key counter")
		return nil
	}
	_, err := r.increment(keyKey, r.expiration)
	return err
}

// Count returns the current value of one counter; a missing counter reads as 0.
func (r *Recorder) Count(throttle string, allowed bool) (uint64, error) {
	item, err := r.client.Get(r.CounterKey(throttle, allowed))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("memcache get failed: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(item.Value)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memcache counter '%s' is not a number: %w", item.Key, err)
	}
	return n, nil
}

// CounterKey returns the memcache key of a throttle-wide counter.
func (r *Recorder) CounterKey(throttle string, allowed bool) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, throttle, outcome(allowed))
}

// KeyCounterKey returns the memcache key of a per-key counter.
func (r *Recorder) KeyCounterKey(throttle, key string, allowed bool) string {
	return fmt.Sprintf("%s:%s:key:%s:%s", r.prefix, throttle, key, outcome(allowed))
}

// increment creates the counter with value 1 if it does not exist, and increments it otherwise.
func (r *Recorder) increment(key string, expiration int32) (uint64, error) {
	err := r.client.Add(&memcache.Item{Key: key, Value: []byte("1"), Expiration: expiration})
	if err == nil {
		return 1, nil
	}
	if !errors.Is(err, memcache.ErrNotStored) {
		return 0, fmt.Errorf("memcache add failed for '%s': %w", key, err)
	}

	// Increment does not touch the TTL set by Add.
	n, err := r.client.Increment(key, 1)
	if errors.Is(err, memcache.ErrCacheMiss) {
		// The counter expired between Add and Increment.
		return r.increment(key, expiration)
	}
	if err != nil {
		return 0, fmt.Errorf("memcache increment failed for '%s': %w", key, err)
	}
	return n, nil
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// validKey mirrors the key rules enforced by the memcache client.
func validKey(key string) bool {
	if len(key) > 250 {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}
