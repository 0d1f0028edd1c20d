package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/paceline/paceline/internal/config"
	"github.com/paceline/paceline/internal/core"
	"github.com/paceline/paceline/internal/core/engine"
	"github.com/paceline/paceline/internal/core/store"
	"github.com/paceline/paceline/internal/core/tasks"
	errwrap "github.com/paceline/paceline/internal/errors"
	"github.com/paceline/paceline/internal/metrics"
	"github.com/paceline/paceline/internal/observability"
	"github.com/paceline/paceline/internal/server"
	"github.com/paceline/paceline/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	// Check if signal system is responsive
	// This is a basic check - in production you might want more sophisticated checks
	return nil // Signal handlers are registered and ready
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// limiterHealthChecker confirms the shared limiter answers snapshot reads.
// Snapshot takes the bucket mutex, so the read is raced against ctx and a
// wedged limiter fails the check by timeout.
type limiterHealthChecker struct {
	limiter *engine.TokenBucketPair
}

func (l limiterHealthChecker) CheckHealth(ctx context.Context) error {
	if l.limiter == nil {
		return errwrap.NewInternalError("limiter not initialized")
	}
	done := make(chan core.Snapshot, 1)
	go func() { done <- l.limiter.Snapshot() }()
	select {
	case <-ctx.Done():
		return errwrap.WrapInternal(ctx, ctx.Err(), "limiter snapshot timed out")
	case <-done:
		return nil
	}
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

The server exposes the limiter snapshot at /api/v1/limiter and accepts task
queues at /api/v1/runs. Submitted queues drain sequentially through the same
dual-window limiter; only one run is in flight at a time.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (placeholder - restart recommended)

The server will cleanly shut down the HTTP server and flush logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Get app identity for telemetry namespace
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := config.Load(ctx)
		if err != nil {
			return err
		}

		// Initialize server logger with namespace
		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}

		// Initialize metrics with namespace
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		host, port := cfg.Server.Host, cfg.Server.Port
		if cmd.Flags().Changed("host") {
			host = serverHost
		}
		if cmd.Flags().Changed("port") {
			port = serverPort
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", host),
			zap.Int("port", port),
			zap.Int("metrics_port", metricsPort))

		// Open the run store; without it runs still drain but history is off
		var db *store.Store
		if db, err = store.Open(ctx, cfg.Store); err != nil {
			observability.ServerLogger.Warn("Run store unavailable, serving without persistence",
				zap.Error(err))
			db = nil
		} else if err = db.Migrate(ctx); err != nil {
			observability.ServerLogger.Warn("Run store migration failed, serving without persistence",
				zap.Error(err))
			_ = db.Close()
			db = nil
		}

		// Build the shared limiter all submitted runs drain through
		limits := cfg.RateLimit.Limits()
		limiter, err := engine.NewTokenBucketPair(limits)
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "invalid rate limit configuration")
		}
		limiter.StarveAfter = cfg.RateLimit.StarveAfter
		limiter.OnStarvation = func(waited time.Duration) {
			observability.ServerLogger.Warn("Rate budget exhausted, still waiting for a token",
				zap.Duration("waited", waited),
				zap.Int("per_second", limits.PerSecond),
				zap.Int("per_minute", limits.PerMinute))
			metrics.RecordStarvation()
		}
		limiter.Start(ctx)

		builder := &tasks.Builder{
			Client:    &http.Client{Timeout: cfg.HTTP.Timeout},
			UserAgent: cfg.HTTP.UserAgent,
		}

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		if db != nil {
			hm.RegisterChecker("store", db)
		}
		hm.RegisterChecker("limiter", limiterHealthChecker{limiter: limiter})

		// Create server with the limiter and run services wired in
		api := &handlers.API{
			Limiter: handlers.NewLimiterHandler(limiter, limits),
			Runs:    handlers.NewRunsHandler(limiter, limits, builder, db),
		}
		srv := server.New(host, port, api)
		srv.SetTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)

		// Set app identity for handlers
		handlers.SetAppIdentity(identity)

		// Publish token gauges and uptime while the server runs
		startedAt := time.Now()
		metrics.SetServerStartTime(startedAt.Unix())
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					snap := limiter.Snapshot()
					metrics.SetTokensRemaining(snap.SecondRemaining, snap.MinuteRemaining)
					metrics.SetServerUptime(int64(time.Since(startedAt).Seconds()))
				}
			}
		}()

		// Get shutdown timeout from config
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Close the run store (after the HTTP server has stopped)
		if db != nil {
			signals.OnShutdown(func(ctx context.Context) error {
				observability.ServerLogger.Info("Closing run store...")
				if err := db.Close(); err != nil {
					observability.ServerLogger.Warn("Run store close returned error",
						zap.Error(err))
				}
				return nil
			})
		}

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			// Attempt to reload configuration
			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					observability.ServerLogger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				observability.ServerLogger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			observability.ServerLogger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()))
			observability.ServerLogger.Info("Rate limit changes need a restart; the live limiter keeps its windows")

			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", host),
				zap.Int("port", port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(ctx); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
