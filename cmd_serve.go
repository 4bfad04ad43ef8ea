package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"learn.throttle/api"
	"learn.throttle/metrics"
	"learn.throttle/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run an HTTP server exposing:
  /unlimited                 never throttled
  /limited                   throttled per client IP
  /throttles/{name}/{key}    status of a key as JSON
  /metrics                   Prometheus metrics`,
	RunE: runServe,
}

var (
	serveConfigPath string
	servePort       int
	serveThrottle   string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config.yaml", "Path to the configuration file")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to run the HTTP server on")
	serveCmd.Flags().StringVar(&serveThrottle, "throttle", "", "Throttle guarding /limited (default: first key in sorted order)")
}

// throttleStatus is the JSON body of /throttles/{name}/{key}.
type throttleStatus struct {
	Throttle                string  `json:"throttle"`
	Key                     string  `json:"key"`
	MayProceed              bool    `json:"may_proceed"`
	TimeUntilAllowedSeconds float64 `json:"time_until_allowed_seconds"`
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info().Str("config_path", serveConfigPath).Msg("Starting application initialization")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewThrottleMetrics(registry)

	throttles, _, closer, err := api.NewThrottlesFromConfigPath(serveConfigPath, api.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("initializing throttles from %s: %w", serveConfigPath, err)
	}
	defer closer.Close()

	guarded := serveThrottle
	if guarded == "" {
		guarded = firstKey(throttles)
	}
	if _, ok := throttles[guarded]; !ok {
		return fmt.Errorf("throttle '%s' not found in config", guarded)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           newRouter(throttles, guarded, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx := cmd.Context()
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", srv.Addr).Str("throttle_key", guarded).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter wires the HTTP routes. The throttle named guarded protects /limited.
func newRouter(throttles map[string]api.Throttler, guarded string, registry *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/unlimited", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Unlimited! Let's Go!")
	}).Methods(http.MethodGet)

	limited := middleware.NewThrottleMiddleware(throttles[guarded], guarded)
	r.HandleFunc("/limited", limited.Handle(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Limited, don't over use me!")
	}, middleware.ClientIP)).Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/throttles/{name}/{key}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		th, ok := throttles[vars["name"]]
		if !ok {
			http.Error(w, "throttle not found", http.StatusNotFound)
			return
		}
		status := throttleStatus{
			Throttle:                vars["name"],
			Key:                     vars["key"],
			MayProceed:              th.MayProceed(vars["key"]),
			TimeUntilAllowedSeconds: th.TimeUntilAllowed(vars["key"]).Seconds(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Error().Err(err).Msg("Failed to encode throttle status")
		}
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// firstKey returns the lexically smallest key, since map order is random.
func firstKey(throttles map[string]api.Throttler) string {
	keys := make([]string, 0, len(throttles))
	for k := range throttles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
