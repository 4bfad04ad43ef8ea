// Package simulate replays bursts of chat messages from a handful of users
// against a throttle and prints one line per decision.
package simulate

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"learn.throttle/types"
)

// Config controls a simulation run.
type Config struct {
	// Messages is the number of messages per burst.
	Messages int
	Users    int
	// Pause is the wait between the two bursts, usually the throttle's min interval.
	Pause    time.Duration
	MinDelay time.Duration
	MaxDelay time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer based wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand picks the delay between messages. Defaults to a time seeded source.
	Rand *rand.Rand
}

// Validate checks that the run can produce output.
func (c Config) Validate() error {
	if c.Messages <= 0 {
		return fmt.Errorf("messages must be > 0, got %d", c.Messages)
	}
	if c.Users <= 0 {
		return fmt.Errorf("users must be > 0, got %d", c.Users)
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("delay range must satisfy 0 <= min <= max, got [%s, %s]", c.MinDelay, c.MaxDelay)
	}
	if c.Pause < 0 {
		return fmt.Errorf("pause must be >= 0, got %s", c.Pause)
	}
	return nil
}

// Run sends two bursts of cfg.Messages messages to th and writes one line per message to w.
// Message n is sent by user n%Users+1.
func Run(ctx context.Context, w io.Writer, th types.Throttler, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	log.Debug().Int("messages", cfg.Messages).Int("users", cfg.Users).Dur("pause", cfg.Pause).Msg("Simulate: Starting")

	fmt.Fprintln(w, "=== Message stream simulation (throttling) ===")
	if err := burst(ctx, w, th, cfg, 1); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Waiting %s...\n", cfg.Pause)
	fmt.Fprintln(w)
	if err := cfg.Sleep(ctx, cfg.Pause); err != nil {
		return err
	}

	fmt.Fprintln(w, "=== New burst after waiting ===")
	return burst(ctx, w, th, cfg, cfg.Messages+1)
}

func burst(ctx context.Context, w io.Writer, th types.Throttler, cfg Config, first int) error {
	for id := first; id < first+cfg.Messages; id++ {
		user := fmt.Sprint(id%cfg.Users + 1)

		allowed := th.Record(user)
		wait := th.TimeUntilAllowed(user)
		if allowed {
			fmt.Fprintf(w, "Message %2d | User %s | allowed\n", id, user)
		} else {
			fmt.Fprintf(w, "Message %2d | User %s | denied (wait %.1fs)\n", id, user, wait.Seconds())
		}

		if err := cfg.Sleep(ctx, delay(cfg)); err != nil {
			return err
		}
	}
	return nil
}

func delay(cfg Config) time.Duration {
	span := cfg.MaxDelay - cfg.MinDelay
	if span <= 0 {
		return cfg.MinDelay
	}
	return cfg.MinDelay + time.Duration(cfg.Rand.Int63n(int64(span)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
