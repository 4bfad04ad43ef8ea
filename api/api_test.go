package api_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learn.throttle/api"
	"learn.throttle/config"
	"learn.throttle/internal/clock"
	"learn.throttle/internal/testharness/redistest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewThrottlesFromConfigPath_InMemory(t *testing.T) {
	path := writeConfig(t, `
throttles:
  - key: chat
    min_interval: 2.5
  - key: defaults
    stats:
      backend: in_memory
`)
	c := clock.NewManual(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))

	throttles, configs, closer, err := api.NewThrottlesFromConfigPath(path, api.WithClock(c.Now))
	require.NoError(t, err)
	defer closer.Close()

	require.Len(t, throttles, 2)
	assert.Equal(t, 2500*time.Millisecond, configs["chat"].MinIntervalDuration())
	assert.Equal(t, 10*time.Second, configs["defaults"].MinIntervalDuration())

	chat := throttles["chat"]
	assert.True(t, chat.Record("1"))
	assert.False(t, chat.Record("1"))
	assert.Equal(t, 2500*time.Millisecond, chat.TimeUntilAllowed("1"))

	c.Advance(2500 * time.Millisecond)
	assert.True(t, chat.MayProceed("1"))
	assert.True(t, throttles["defaults"].Record("1"), "throttles must not share state")
}

func TestNewThrottlesFromConfigPath_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"negative interval", "throttles:\n  - key: chat\n    min_interval: -1\n", config.ErrInvalidMinInterval},
		{"missing key", "throttles:\n  - min_interval: 1\n", config.ErrMissingKey},
		{"duplicate key", "throttles:\n  - key: a\n  - key: a\n", config.ErrDuplicateKey},
		{"unknown backend", "throttles:\n  - key: a\n    stats:\n      backend: postgres\n", config.ErrUnsupportedBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := api.NewThrottlesFromConfigPath(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, _, _, err := api.NewThrottlesFromConfigPath(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, _, _, err := api.NewThrottlesFromConfigPath(writeConfig(t, "throttles:\n  - key: a\n    algorithm: token_bucket\n"))
		assert.Error(t, err)
	})
}

func TestNewThrottlesFromConfig_RedisStats(t *testing.T) {
	mr, _ := redistest.StartMiniredis(t)

	cfgFile := &config.File{Throttles: []config.ThrottleConfig{{
		Key:         "chat",
		MinInterval: config.Seconds(10),
		Stats: &config.StatsConfig{
			Backend:     config.Redis,
			Prefix:      "apitest",
			RedisParams: &config.RedisBackendConfig{Address: mr.Addr()},
		},
	}}}

	throttles, _, closer, err := api.NewThrottlesFromConfig(cfgFile)
	require.NoError(t, err)

	chat := throttles["chat"]
	chat.Record("1")
	chat.Record("1")
	chat.Record("2")
	require.NoError(t, closer.Close())

	assert.Equal(t, "2", mr.HGet("apitest:chat:total", "allowed"))
	assert.Equal(t, "1", mr.HGet("apitest:chat:total", "denied"))
}

func TestNewThrottlesFromConfig_RedisUnreachable(t *testing.T) {
	const addr = "127.0.0.1:1"
	cfgFile := &config.File{Throttles: []config.ThrottleConfig{{
		Key: "chat",
		Stats: &config.StatsConfig{
			Backend:     config.Redis,
			RedisParams: &config.RedisBackendConfig{Address: addr},
		},
	}}}
	_, _, _, err := api.NewThrottlesFromConfig(cfgFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("failed to connect to Redis at %s", addr))
}

func TestNewThrottle(t *testing.T) {
	th, err := api.NewThrottle(config.ThrottleConfig{Key: "single", MinInterval: config.Seconds(0)})
	require.NoError(t, err)
	defer th.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, th.Record("k"))
	}

	_, err = api.NewThrottle(config.ThrottleConfig{Key: "bad", MinInterval: config.Seconds(-3)})
	assert.ErrorIs(t, err, config.ErrInvalidMinInterval)
}
