package redistest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// GetRedisAddress returns the address of an external Redis from REDIS_ADDR.
// If CI is "true" it defaults to "redis:6379". An empty result means no external Redis.
func GetRedisAddress() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	if os.Getenv("CI") == "true" {
		return "redis:6379"
	}
	return ""
}

// StartMiniredis starts an in-process Redis server and a client connected to it.
// Both are closed when the test finishes.
func StartMiniredis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

// SetupRedisClient returns a client for an external Redis if one is configured,
// otherwise for an in-process miniredis. It fails the test if the connection cannot
// be established.
func SetupRedisClient(t testing.TB) *redis.Client {
	t.Helper()
	redisAddr := GetRedisAddress()
	if redisAddr == "" {
		_, client := StartMiniredis(t)
		return client
	}
	t.Logf("Connecting to Redis for integration tests at %s", redisAddr)

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Fatalf("Failed to connect to Redis at %s: %v. Ensure Redis is running and accessible.", redisAddr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// CleanupRedisKeys deletes every key starting with "prefix:".
func CleanupRedisKeys(t testing.TB, client *redis.Client, prefix string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	scanPattern := fmt.Sprintf("%s:*", prefix)
	var keys []string
	var cursor uint64
	for i := 0; i < 1000; i++ {
		batch, next, err := client.Scan(ctx, cursor, scanPattern, 100).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			t.Fatalf("Failed to SCAN for keys with pattern '%s': %v", scanPattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	if len(keys) == 0 {
		return
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		t.Errorf("Failed to DEL keys during cleanup (pattern: %s): %v", scanPattern, err)
	}
}
