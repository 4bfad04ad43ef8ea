package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// BackendType represents the storage backend for decision statistics.
type BackendType string

const (
	NoBackend BackendType = ""
	InMemory  BackendType = "in_memory"
	Redis     BackendType = "redis"
	Memcache  BackendType = "memcache"
)

const (
	// DefaultMinInterval is the minimum spacing, in seconds, used when a throttle omits min_interval.
	DefaultMinInterval = 10.0

	DefaultSweepEvery  = time.Minute
	DefaultStatsPrefix = "throttle:stats"
	DefaultStatsTTL    = 24 * time.Hour
	DefaultStatsBuffer = 1024
)

var (
	ErrInvalidMinInterval   = errors.New("min_interval must be a finite number of seconds >= 0")
	ErrMissingKey           = errors.New("throttle configuration missing 'key' field")
	ErrDuplicateKey         = errors.New("duplicate throttle key")
	ErrMissingBackendParams = errors.New("stats backend parameters are missing")
	ErrUnsupportedBackend   = errors.New("unsupported stats backend")
	ErrConflictingBackends  = errors.New("throttles disagree on backend connection parameters")
)

// File is the top-level structure of the configuration file.
type File struct {
	Throttles []ThrottleConfig `yaml:"throttles"`
}

// ThrottleConfig holds the configuration for a single throttle instance.
type ThrottleConfig struct {
	Key string `yaml:"key"`
	// MinInterval is in seconds. Nil means DefaultMinInterval; an explicit 0 disables throttling.
	MinInterval *float64 `yaml:"min_interval,omitempty"`

	// IdleTTL enables sweeping of keys whose last allowed request is older than
	// max(IdleTTL, min_interval). Zero keeps every key for the process lifetime.
	IdleTTL    time.Duration `yaml:"idle_ttl,omitempty"`
	SweepEvery time.Duration `yaml:"sweep_every,omitempty"`

	Stats *StatsConfig `yaml:"stats,omitempty"`
}

// StatsConfig holds parameters for recording allow/deny decisions.
type StatsConfig struct {
	Backend   BackendType   `yaml:"backend"`
	Prefix    string        `yaml:"prefix,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
	TrackKeys bool          `yaml:"track_keys,omitempty"`
	Buffer    int           `yaml:"buffer,omitempty"`

	RedisParams    *RedisBackendConfig    `yaml:"redis_params,omitempty"`
	MemcacheParams *MemcacheBackendConfig `yaml:"memcache_params,omitempty"`
}

// RedisBackendConfig holds parameters for the Redis backend.
type RedisBackendConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// MemcacheBackendConfig holds parameters for the Memcache backend.
type MemcacheBackendConfig struct {
	Addresses []string `yaml:"addresses"`
}

// Seconds returns a pointer suitable for ThrottleConfig.MinInterval.
func Seconds(v float64) *float64 {
	return &v
}

// MinIntervalSeconds returns the configured interval, or DefaultMinInterval when unset.
func (c ThrottleConfig) MinIntervalSeconds() float64 {
	if c.MinInterval == nil {
		return DefaultMinInterval
	}
	return *c.MinInterval
}

// MinIntervalDuration converts the configured interval to a time.Duration.
// The result is only meaningful after Validate succeeded.
func (c ThrottleConfig) MinIntervalDuration() time.Duration {
	return SecondsToDuration(c.MinIntervalSeconds())
}

// SecondsToDuration converts floating point seconds to a time.Duration.
func SecondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ValidateMinInterval rejects negative, NaN, infinite and out of range intervals.
func ValidateMinInterval(s float64) error {
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 || s*float64(time.Second) >= math.MaxInt64 {
		return fmt.Errorf("%w: got %v", ErrInvalidMinInterval, s)
	}
	return nil
}

// Validate checks the throttle configuration and fills in defaults.
func (c *ThrottleConfig) Validate() error {
	if c.Key == "" {
		return ErrMissingKey
	}
	if err := ValidateMinInterval(c.MinIntervalSeconds()); err != nil {
		return fmt.Errorf("throttle '%s': %w", c.Key, err)
	}
	if c.IdleTTL < 0 {
		return fmt.Errorf("throttle '%s': idle_ttl must be >= 0, got %s", c.Key, c.IdleTTL)
	}
	if c.IdleTTL > 0 && c.SweepEvery <= 0 {
		c.SweepEvery = DefaultSweepEvery
	}
	if c.Stats != nil {
		if err := c.Stats.validate(); err != nil {
			return fmt.Errorf("throttle '%s': %w", c.Key, err)
		}
	}
	return nil
}

func (s *StatsConfig) validate() error {
	if s.Prefix == "" {
		s.Prefix = DefaultStatsPrefix
	}
	if s.TTL <= 0 {
		s.TTL = DefaultStatsTTL
	}
	if s.Buffer <= 0 {
		s.Buffer = DefaultStatsBuffer
	}
	switch s.Backend {
	case NoBackend, InMemory:
		return nil
	case Redis:
		if s.RedisParams == nil || s.RedisParams.Address == "" {
			return fmt.Errorf("%w: redis backend selected but redis_params are missing", ErrMissingBackendParams)
		}
		return nil
	case Memcache:
		if s.MemcacheParams == nil || len(s.MemcacheParams.Addresses) == 0 {
			return fmt.Errorf("%w: memcache backend selected but memcache_params are missing", ErrMissingBackendParams)
		}
		return nil
	default:
		return fmt.Errorf("%w: '%s'", ErrUnsupportedBackend, s.Backend)
	}
}

// Validate checks every throttle, rejects duplicate keys, and makes sure all
// throttles sharing a backend agree on how to reach it.
func (f *File) Validate() error {
	if len(f.Throttles) == 0 {
		return errors.New("no throttle configurations found")
	}
	seen := make(map[string]struct{}, len(f.Throttles))
	var redisParams *RedisBackendConfig
	var memcacheParams *MemcacheBackendConfig
	for i := range f.Throttles {
		cfg := &f.Throttles[i]
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, dup := seen[cfg.Key]; dup {
			return fmt.Errorf("%w: '%s'", ErrDuplicateKey, cfg.Key)
		}
		seen[cfg.Key] = struct{}{}

		if cfg.Stats == nil {
			continue
		}
		switch cfg.Stats.Backend {
		case Redis:
			if redisParams != nil && *redisParams != *cfg.Stats.RedisParams {
				return fmt.Errorf("%w: redis params of '%s'", ErrConflictingBackends, cfg.Key)
			}
			redisParams = cfg.Stats.RedisParams
		case Memcache:
			if memcacheParams != nil && !sameAddresses(memcacheParams.Addresses, cfg.Stats.MemcacheParams.Addresses) {
				return fmt.Errorf("%w: memcache params of '%s'", ErrConflictingBackends, cfg.Key)
			}
			memcacheParams = cfg.Stats.MemcacheParams
		}
	}
	return nil
}

// RedisParams returns the Redis parameters shared by all throttles, or nil if none needs Redis.
func (f *File) RedisParams() *RedisBackendConfig {
	for _, cfg := range f.Throttles {
		if cfg.Stats != nil && cfg.Stats.Backend == Redis {
			return cfg.Stats.RedisParams
		}
	}
	return nil
}

// MemcacheParams returns the Memcache parameters shared by all throttles, or nil if none needs Memcache.
func (f *File) MemcacheParams() *MemcacheBackendConfig {
	for _, cfg := range f.Throttles {
		if cfg.Stats != nil && cfg.Stats.Backend == Memcache {
			return cfg.Stats.MemcacheParams
		}
	}
	return nil
}

func sameAddresses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
