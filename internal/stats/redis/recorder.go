// Package statsredis provides a Redis implementation of the decision statistics recorder.
package statsredis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"learn.throttle/internal/stats"
)

// Recorder increments hash counters in Redis:
//
//	<prefix>:<throttle>:total              cumulative, never expires
//	<prefix>:<throttle>:minute:<yyyymmddhhmm>  per-minute bucket, expires after ttl
//	<prefix>:<throttle>:key:<key>          per-key, only with WithTrackKeys, expires after ttl
//
// Each hash has the fields "allowed" and "denied".
type Recorder struct {
	client    redis.Cmdable
	prefix    string
	ttl       time.Duration
	trackKeys bool
}

var _ stats.Recorder = (*Recorder)(nil)

// RecorderOption is a function type for setting options on a Recorder.
type RecorderOption func(*Recorder)

// WithPrefix sets the key prefix. Surrounding colons are trimmed.
func WithPrefix(prefix string) RecorderOption {
	return func(r *Recorder) { r.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the expiry of bucket and per-key hashes. Zero disables expiry.
func WithTTL(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.ttl = d }
}

// WithTrackKeys enables per-key counters.
func WithTrackKeys(track bool) RecorderOption {
	return func(r *Recorder) { r.trackKeys = track }
}

// NewRecorder creates a Redis-backed recorder.
func NewRecorder(client redis.Cmdable, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		client: client,
		prefix: "throttle:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record writes ev in a single pipeline round trip.
func (r *Recorder) Record(ctx context.Context, ev stats.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := ev.Outcome()

	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, r.TotalKey(ev.Throttle), field, 1)

	bucketKey := r.MinuteKey(ev.Throttle, at)
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, bucketKey, r.ttl)
	}

	if r.trackKeys {
		keyKey := r.KeyKey(ev.Throttle, ev.Key)
		pipe.HIncrBy(ctx, keyKey, field, 1)
		if r.ttl > 0 {
			pipe.Expire(ctx, keyKey, r.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stats pipeline for throttle '%s': %w", ev.Throttle, err)
	}
	return nil
}

// TotalKey returns the Redis key of the cumulative counters of throttle.
func (r *Recorder) TotalKey(throttle string) string {
	return fmt.Sprintf("%s:%s:total", r.prefix, throttle)
}

// MinuteKey returns the Redis key of the per-minute bucket containing at.
func (r *Recorder) MinuteKey(throttle string, at time.Time) string {
	return fmt.Sprintf("%s:%s:minute:%s", r.prefix, throttle, at.UTC().Format("200601021504"))
}

// KeyKey returns the Redis key of the per-key counters.
func (r *Recorder) KeyKey(throttle, key string) string {
	return fmt.Sprintf("%s:%s:key:%s", r.prefix, throttle, key)
}
