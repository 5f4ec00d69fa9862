package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openteams/pulse/internal/db"
	"github.com/openteams/pulse/internal/dispatch"
	"github.com/openteams/pulse/internal/log"
	"github.com/openteams/pulse/internal/observability"
	"github.com/openteams/pulse/internal/reaper"
	"github.com/openteams/pulse/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the realtime coordinator",
	Long:  `Starts the WebSocket coordinator with its presence, notification and admin endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")
		port, _ := cmd.Flags().GetInt("port")
		host, _ := cmd.Flags().GetString("host")

		jwtSecret := os.Getenv("PULSE_JWT_SECRET")
		if jwtSecret == "" {
			jwtSecret = "super-secret-jwt-key-please-change-in-production"
			fmt.Println("Warning: Using default JWT secret. Set PULSE_JWT_SECRET in production.")
		}

		if err := log.Init(buildLogConfig(cmd)); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database not found at %s. Run 'pulse init' first", dbPath)
		}

		database, err := db.New(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		// Run migrations in case the schema is outdated
		if err := database.RunMigrations(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		telemetry, cleanup, err := observability.Init(cmd.Context(), buildTelemetryConfig(cmd))
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer cleanup()

		srv := server.New(database, server.Config{
			JWTSecret: jwtSecret,
			Dispatch:  buildDispatchConfig(cmd),
			Reaper:    buildReaperConfig(cmd),
		})
		srv.SetMetrics(telemetry.Metrics())

		addr := fmt.Sprintf("%s:%d", host, port)
		fmt.Printf("Starting Pulse on %s\n", addr)
		fmt.Printf("  Realtime:  ws://%s/realtime/v1/websocket\n", addr)
		fmt.Printf("  Presence:  http://%s/presence/v1\n", addr)
		fmt.Printf("  Admin:     http://%s/admin/v1\n", addr)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-stop:
			log.Info("server: shutting down", "signal", sig.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

// buildLogConfig creates a log.Config from environment variables and flags.
// Priority: CLI flags > environment variables > defaults
func buildLogConfig(cmd *cobra.Command) *log.Config {
	cfg := log.DefaultConfig()

	if mode := os.Getenv("PULSE_LOG_MODE"); mode != "" {
		cfg.Mode = mode
	}
	if level := os.Getenv("PULSE_LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if format := os.Getenv("PULSE_LOG_FORMAT"); format != "" {
		cfg.Format = format
	}
	if path := os.Getenv("PULSE_LOG_FILE"); path != "" {
		cfg.FilePath = path
	}

	if cmd.Flags().Changed("log-mode") {
		cfg.Mode, _ = cmd.Flags().GetString("log-mode")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Format, _ = cmd.Flags().GetString("log-format")
	}

	return cfg
}

func buildTelemetryConfig(cmd *cobra.Command) *observability.Config {
	cfg := observability.NewConfig()

	if exporter := os.Getenv("PULSE_OTEL_EXPORTER"); exporter != "" {
		cfg.Exporter = exporter
	}
	if endpoint := os.Getenv("PULSE_OTEL_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if cmd.Flags().Changed("otel-exporter") {
		cfg.Exporter, _ = cmd.Flags().GetString("otel-exporter")
	}

	return cfg
}

func buildDispatchConfig(cmd *cobra.Command) dispatch.Config {
	cfg := dispatch.DefaultConfig()
	if d, _ := cmd.Flags().GetDuration("push-timeout"); d > 0 {
		cfg.PushTimeout = d
	}
	if n, _ := cmd.Flags().GetInt("push-failure-threshold"); n > 0 {
		cfg.FailureThreshold = n
	}
	return cfg
}

func buildReaperConfig(cmd *cobra.Command) reaper.Config {
	cfg := reaper.DefaultConfig()
	if d, _ := cmd.Flags().GetDuration("reap-interval"); d > 0 {
		cfg.Interval = d
	}
	if d, _ := cmd.Flags().GetDuration("stale-threshold"); d > 0 {
		cfg.Threshold = d
	}
	return cfg
}

func init() {
	serveCmd.Flags().String("db", "pulse.db", "Path to the SQLite database")
	serveCmd.Flags().Int("port", 8090, "Port to listen on")
	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")

	serveCmd.Flags().String("log-mode", "console", "Log destination: console or file")
	serveCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	serveCmd.Flags().String("log-format", "text", "Log format: text or json")

	serveCmd.Flags().String("otel-exporter", "none", "OTel metric exporter: none, stdout or otlp")

	serveCmd.Flags().Duration("push-timeout", 5*time.Second, "Bound on a single connection push")
	serveCmd.Flags().Int("push-failure-threshold", 3, "Consecutive push failures before eviction")
	serveCmd.Flags().Duration("reap-interval", 60*time.Second, "Time between stale-connection sweeps")
	serveCmd.Flags().Duration("stale-threshold", 5*time.Minute, "Liveness age that marks a connection stale")

	rootCmd.AddCommand(serveCmd)
}
