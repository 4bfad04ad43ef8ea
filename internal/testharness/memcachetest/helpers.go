package memcachetest

import (
	"os"
	"testing"

	"github.com/bradfitz/gomemcache/memcache"
)

// GetMemcachedAddress returns the Memcached address from MEMCACHED_ADDR.
// If CI is "true" it defaults to "memcached:11211". An empty result means no Memcached.
func GetMemcachedAddress() string {
	if addr := os.Getenv("MEMCACHED_ADDR"); addr != "" {
		return addr
	}
	if os.Getenv("CI") == "true" {
		return "memcached:11211"
	}
	return ""
}

// SetupMemcachedClient returns a client for an external Memcached.
// The test is skipped when none is configured, and fails if it is unreachable.
func SetupMemcachedClient(t testing.TB) *memcache.Client {
	t.Helper()
	memcachedAddr := GetMemcachedAddress()
	if memcachedAddr == "" {
		t.Skip("MEMCACHED_ADDR not set, skipping Memcached integration test")
	}
	t.Logf("Connecting to Memcached for integration tests at %s", memcachedAddr)

	mc := memcache.New(memcachedAddr)
	if err := mc.Ping(); err != nil {
		t.Fatalf("Failed to connect to Memcached at %s: %v. Ensure Memcached is running and accessible.", memcachedAddr, err)
	}
	return mc
}

// CleanupMemcachedKeys deletes the specified keys. Cleanup is best-effort.
func CleanupMemcachedKeys(t testing.TB, client *memcache.Client, keys []string) {
	t.Helper()
	for _, key := range keys {
		if err := client.Delete(key); err != nil && err != memcache.ErrCacheMiss {
			t.Logf("Warning: Failed to delete Memcached key '%s': %v", key, err)
		}
	}
}
