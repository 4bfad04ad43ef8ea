package api

import (
	"errors"
	"fmt"
	"io"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	apiinternal "learn.throttle/api/internal"
	"learn.throttle/config"
	"learn.throttle/types"
)

// clientCloser holds the created throttles and backend clients and implements io.Closer.
type clientCloser struct {
	throttles      []Throttle
	redisClient    *redis.Client
	memcacheClient *memcache.Client
}

// Close stops every throttle, flushing pending stats, then shuts down the backend clients.
func (c *clientCloser) Close() error {
	log.Info().Msg("API: Starting shutdown")
	var errs []error

	for _, th := range c.throttles {
		if err := th.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close throttle: %w", err))
		}
	}

	if c.redisClient != nil {
		log.Debug().Msg("API: Closing Redis client")
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
			log.Error().Err(err).Msg("API: Error closing Redis client")
		}
	}
	if c.memcacheClient != nil {
		log.Debug().Msg("API: Closing Memcache client")
		if err := c.memcacheClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Memcache client: %w", err))
			log.Error().Err(err).Msg("API: Error closing Memcache client")
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info().Msg("API: Shutdown complete")
	return nil
}

// NewThrottlesFromConfigPath loads config, initializes any needed backend clients,
// and returns the throttles by key, their validated configs, and an io.Closer that
// releases everything.
func NewThrottlesFromConfigPath(configPath string, opts ...Option) (map[string]Throttler, map[string]config.ThrottleConfig, io.Closer, error) {
	log.Info().Str("config_path", configPath).Msg("API: Initializing throttles from config")
	cfgFile, err := apiinternal.LoadConfig(configPath)
	if err != nil {
		log.Error().Err(err).Str("config_path", configPath).Msg("API: Initialization failed")
		return nil, nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}
	return NewThrottlesFromConfig(cfgFile, opts...)
}

// NewThrottlesFromConfig is NewThrottlesFromConfigPath for an already parsed file.
func NewThrottlesFromConfig(cfgFile *config.File, opts ...Option) (map[string]Throttler, map[string]config.ThrottleConfig, io.Closer, error) {
	if err := cfgFile.Validate(); err != nil {
		return nil, nil, nil, err
	}

	closer := &clientCloser{}
	clients := types.BackendClients{}

	if params := cfgFile.RedisParams(); params != nil {
		log.Info().Msg("API: Redis stats backend required, initializing client")
		client, err := apiinternal.InitRedisClient(params)
		if err != nil {
			return nil, nil, nil, err
		}
		closer.redisClient = client
		clients.RedisClient = client
	}
	if params := cfgFile.MemcacheParams(); params != nil {
		log.Info().Msg("API: Memcache stats backend required, initializing client")
		client, err := apiinternal.InitMemcacheClient(params)
		if err != nil {
			_ = closer.Close()
			return nil, nil, nil, err
		}
		closer.memcacheClient = client
		clients.MemcacheClient = client
	}

	f := newFactory(opts)
	throttles := make(map[string]Throttler, len(cfgFile.Throttles))
	configs := make(map[string]config.ThrottleConfig, len(cfgFile.Throttles))

	log.Info().Int("count", len(cfgFile.Throttles)).Msg("API: Creating throttle instances")
	for _, cfg := range cfgFile.Throttles {
		th, err := f.CreateThrottle(cfg, clients)
		if err != nil {
			_ = closer.Close()
			err = fmt.Errorf("throttle '%s': failed to create instance: %w", cfg.Key, err)
			log.Error().Err(err).Str("throttle_key", cfg.Key).Msg("API: Initialization failed")
			return nil, nil, nil, err
		}
		closer.throttles = append(closer.throttles, th)
		throttles[cfg.Key] = th
		configs[cfg.Key] = cfg
		log.Info().Str("throttle_key", cfg.Key).Float64("min_interval", cfg.MinIntervalSeconds()).Msg("API: Throttle created")
	}

	log.Info().Msg("API: All throttles initialized")
	return throttles, configs, closer, nil
}
