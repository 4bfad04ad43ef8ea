package stats_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"learn.throttle/internal/stats"
)

type countingRecorder struct {
	calls int
	err   error
}

func (c *countingRecorder) Record(context.Context, stats.Event) error {
	c.calls++
	return c.err
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	backend := &countingRecorder{err: errors.New("backend down")}
	b := stats.NewBreaker("test", backend, stats.BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Record(ctx, stats.Event{Throttle: "chat"})
		assert.Error(t, err)
		assert.False(t, stats.IsOpen(err))
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Record(ctx, stats.Event{Throttle: "chat"})
	assert.True(t, stats.IsOpen(err))
	assert.Equal(t, 3, backend.calls, "an open circuit must not reach the backend")
}

func TestBreaker_PassesThrough(t *testing.T) {
	backend := &countingRecorder{}
	b := stats.NewBreaker("test", backend, stats.BreakerSettings{})

	for i := 0; i < 10; i++ {
		assert.NoError(t, b.Record(context.Background(), stats.Event{Throttle: "chat"}))
	}
	assert.Equal(t, 10, backend.calls)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
