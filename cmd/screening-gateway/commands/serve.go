package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/holocare/screening-gateway/internal/config"
	"github.com/holocare/screening-gateway/internal/ingest"
	"github.com/holocare/screening-gateway/internal/observability"
	"github.com/holocare/screening-gateway/internal/resilience"
	"github.com/holocare/screening-gateway/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the screening gateway",
	Long: `Run the WebSocket gateway: screening sessions on /ws/screening,
health on /healthz, readiness on /readyz, Prometheus metrics on
/metrics. Configuration comes from the environment (and .env).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
		logger := observability.GetLogger()

		cal, err := config.LoadCalibration(cfg.CalibrationFile)
		if err != nil {
			return fmt.Errorf("load calibration: %w", err)
		}

		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = cfg.RetryMaxAttempts
		retry.InitialBackoff = cfg.RetryBackoff()

		st, err := store.Open(store.Options{
			Dir:      cfg.DataDir,
			InMemory: cfg.StoreInMemory,
			Retry:    retry,
			Logger:   logger.With().Str("component", "store").Logger(),
		})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		logger.Info().
			Str("port", cfg.Port).
			Str("data_dir", cfg.DataDir).
			Bool("store_in_memory", cfg.StoreInMemory).
			Str("log_level", cfg.LogLevel).
			Msg("screening gateway starting")

		mux := http.NewServeMux()
		mux.Handle("/ws/screening", ingest.NewHandler(cfg, &cal, st))
		mux.HandleFunc("/healthz", observability.HealthCheckHandler(version))
		mux.HandleFunc("/readyz", observability.ReadinessHandler(version, observability.DependencyCheck{
			Name:  "store",
			Check: st.HealthCheck,
		}))
		if cfg.MetricsEnabled {
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info().Msg("prometheus metrics enabled at /metrics")
		}

		server := &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		endpoint := fmt.Sprintf("ws://localhost:%s/ws/screening", cfg.Port)
		if cfg.PublicURL != "" {
			endpoint = cfg.PublicURL + "/ws/screening"
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("endpoint", endpoint).Msg("server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("server: %w", err)
		case sig := <-quit:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info().Msg("server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
