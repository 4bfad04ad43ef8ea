// Package types defines common types and interfaces used throughout the throttle.
package types

import (
	"time"

	"github.com/go-redis/redis/v8"

	"learn.throttle/internal/memcacheiface"
)

// Throttler is the interface every per-key throttling strategy implements.
// All methods are safe for concurrent use and never block on I/O.
type Throttler interface {
	// MayProceed reports whether a request for key would be allowed now, without recording it.
	MayProceed(key string) bool
	// Record allows and records the request if MayProceed holds; otherwise it leaves state untouched.
	// The decision and the write are a single atomic step per key.
	Record(key string) bool
	// TimeUntilAllowed returns how long key must wait before it may proceed, or 0.
	TimeUntilAllowed(key string) time.Duration
}

// BackendClients holds initialized backend client instances.
type BackendClients struct {
	// RedisClient is the Redis client instance.
	RedisClient *redis.Client
	// MemcacheClient is the Memcache client instance.
	MemcacheClient memcacheiface.Client
}
