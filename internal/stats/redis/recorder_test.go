package statsredis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learn.throttle/internal/stats"
	statsredis "learn.throttle/internal/stats/redis"
	"learn.throttle/internal/testharness/redistest"
)

// mockTime is a fixed point in time for testing.
var mockTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func TestRecorder_Totals(t *testing.T) {
	server, client := redistest.StartMiniredis(t)
	ctx := context.Background()
	r := statsredis.NewRecorder(client, statsredis.WithPrefix("test:stats:"), statsredis.WithTTL(time.Hour))

	require.NoError(t, r.Record(ctx, stats.Event{Throttle: "chat", Key: "1", Allowed: true, At: mockTime}))
	require.NoError(t, r.Record(ctx, stats.Event{Throttle: "chat", Key: "1", Allowed: false, At: mockTime}))
	require.NoError(t, r.Record(ctx, stats.Event{Throttle: "chat", Key: "2", Allowed: false, At: mockTime}))

	assert.Equal(t, "test:stats:chat:total", r.TotalKey("chat"))
	total, err := client.HGetAll(ctx, r.TotalKey("chat")).Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"allowed": "1", "denied": "2"}, total)

	bucketKey := r.MinuteKey("chat", mockTime)
	assert.Equal(t, "test:stats:chat:minute:202401011200", bucketKey)
	bucket, err := client.HGetAll(ctx, bucketKey).Result()
	require.NoError(t, err)
	assert.Equal(t, total, bucket)
	assert.Equal(t, time.Hour, server.TTL(bucketKey))
	assert.Equal(t, time.Duration(0), server.TTL(r.TotalKey("chat")), "total counters must not expire")

	assert.False(t, server.Exists(r.KeyKey("chat", "1")), "per-key counters written without tracking enabled")
}

func TestRecorder_TrackKeysExpire(t *testing.T) {
	server, client := redistest.StartMiniredis(t)
	ctx := context.Background()
	r := statsredis.NewRecorder(client, statsredis.WithTrackKeys(true), statsredis.WithTTL(time.Minute))

	require.NoError(t, r.Record(ctx, stats.Event{Throttle: "chat", Key: "user1", Allowed: true, At: mockTime}))

	keyKey := r.KeyKey("chat", "user1")
	allowed, err := client.HGet(ctx, keyKey, "allowed").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", allowed)

	server.FastForward(2 * time.Minute)
	assert.False(t, server.Exists(keyKey), "per-key counters should expire after the ttl")
	assert.True(t, server.Exists(r.TotalKey("chat")))
}

func TestRecorder_ZeroTimeUsesNow(t *testing.T) {
	_, client := redistest.StartMiniredis(t)
	ctx := context.Background()
	r := statsredis.NewRecorder(client)

	require.NoError(t, r.Record(ctx, stats.Event{Throttle: "chat", Key: "1", Allowed: true}))
	keys, err := client.Keys(ctx, "throttle:stats:chat:minute:*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRecorder_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := statsredis.NewRecorder(db)
	redisErr := errors.New("redis connection refused")

	mock.ExpectHIncrBy("throttle:stats:chat:total", "allowed", 1).SetErr(redisErr)

	err := r.Record(context.Background(), stats.Event{Throttle: "chat", Key: "1", Allowed: true, At: mockTime})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttle 'chat'")
}

func TestRecorder_ServerDown(t *testing.T) {
	server, client := redistest.StartMiniredis(t)
	r := statsredis.NewRecorder(client)
	server.Close()

	err := r.Record(context.Background(), stats.Event{Throttle: "chat", Key: "1", Allowed: true, At: mockTime})
	require.Error(t, err)
}
