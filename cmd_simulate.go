package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"learn.throttle/api"
	"learn.throttle/config"
	"learn.throttle/internal/simulate"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay two bursts of chat messages against a throttle",
	Long: `Send two bursts of messages from a few users through an in-memory throttle,
printing whether each message was allowed and, if not, how long the user must wait.
The bursts are separated by a pause of min_interval.`,
	RunE: runSimulate,
}

var (
	simMinInterval float64
	simMessages    int
	simUsers       int
	simMinDelay    time.Duration
	simMaxDelay    time.Duration
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().Float64Var(&simMinInterval, "min-interval", config.DefaultMinInterval, "Minimum seconds between two allowed messages of one user")
	simulateCmd.Flags().IntVar(&simMessages, "messages", 10, "Messages per burst")
	simulateCmd.Flags().IntVar(&simUsers, "users", 5, "Number of distinct users")
	simulateCmd.Flags().DurationVar(&simMinDelay, "min-delay", 100*time.Millisecond, "Minimum delay between messages")
	simulateCmd.Flags().DurationVar(&simMaxDelay, "max-delay", time.Second, "Maximum delay between messages")
	simulateCmd.Flags().Duration("pause", 0, "Pause between bursts (default: min-interval)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg := config.ThrottleConfig{Key: "simulation", MinInterval: config.Seconds(simMinInterval)}
	th, err := api.NewThrottle(cfg)
	if err != nil {
		return err
	}
	defer th.Close()

	pause, err := cmd.Flags().GetDuration("pause")
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("pause") {
		pause = cfg.MinIntervalDuration()
	}

	err = simulate.Run(cmd.Context(), os.Stdout, th, simulate.Config{
		Messages: simMessages,
		Users:    simUsers,
		Pause:    pause,
		MinDelay: simMinDelay,
		MaxDelay: simMaxDelay,
	})
	if err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	return nil
}
