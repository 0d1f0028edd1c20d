package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paceline/paceline/internal/config"
	errwrap "github.com/paceline/paceline/internal/errors"
	"github.com/paceline/paceline/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the application can start successfully.",
	Run: func(cmd *cobra.Command, args []string) {
		observability.CLILogger.Info("Running health check...")

		// Check 1: Version info available
		if versionInfo.Version == "" {
			observability.CLILogger.Error("❌ FAIL: Version information missing")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		// Check 2: Logger initialized
		if observability.CLILogger == nil {
			// Can't log if logger is nil, so use stderr
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		observability.CLILogger.Info("✅ Logger initialized")

		// Check 3: Configuration loads
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Configuration did not load", zap.Error(err))
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration did not load", err)
			return
		}
		observability.CLILogger.Info("✅ Configuration system ready")

		// Check 4: Rate limits produce a usable bucket pair
		limits := cfg.RateLimit.Limits()
		if err := limits.Validate(); err != nil {
			observability.CLILogger.Error("❌ FAIL: Rate limits rejected", zap.Error(err))
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Rate limits rejected", err)
			return
		}
		observability.CLILogger.Info("✅ Rate limits valid",
			zap.Int("per_second", limits.PerSecond),
			zap.Int("per_minute", limits.PerMinute))

		// Overall status
		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
