package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findRepoRootForTest(t *testing.T) string {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("could not locate repo root containing go.mod from %s", cwd)
	return ""
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	// Regression test: in CI containers the repo checkout may be outside $HOME.
	// When $HOME is not an ancestor of the repo, pathfinder's default home boundary
	// can prevent repo root discovery unless a CI boundary hint is applied.
	t.Run("CIBoundaryHint", func(t *testing.T) {
		repoRoot := findRepoRootForTest(t)
		t.Setenv("HOME", t.TempDir())
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", repoRoot)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)
	})

	// Test basic config loading with defaults
	t.Run("LoadDefaults", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", t.TempDir())

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify store defaults
		assert.Equal(t, "libsql", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir("paceline"), "paceline.db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)
		assert.Equal(t, "", cfg.Store.URL)
		assert.Equal(t, "", cfg.Store.AuthToken)

		// Verify rate limit defaults
		assert.Equal(t, 60, cfg.RateLimit.PerSecond)
		assert.Equal(t, 1000, cfg.RateLimit.PerMinute)
		assert.Equal(t, 10.0, cfg.RateLimit.BufferPct)
		assert.Equal(t, 10*time.Second, cfg.RateLimit.StarveAfter)

		// Verify outbound HTTP defaults
		assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
		assert.Equal(t, "paceline", cfg.HTTP.UserAgent)

		// Verify logging defaults
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "SIMPLE", cfg.Logging.Profile)

		// Verify metrics defaults
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)

		// Verify health defaults
		assert.True(t, cfg.Health.Enabled)

		// Verify debug defaults
		assert.False(t, cfg.Debug.Enabled)
		assert.False(t, cfg.Debug.PprofEnabled)
	})

	// Test runtime overrides
	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify overrides were applied
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Verify non-overridden values remain default
		assert.Equal(t, "SIMPLE", cfg.Logging.Profile)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	// Test environment variable overrides
	t.Run("EnvOverrides", func(t *testing.T) {
		// Set environment variables
		require.NoError(t, os.Setenv("PACELINE_PORT", "3000"))
		require.NoError(t, os.Setenv("PACELINE_LOG_LEVEL", "warn"))
		require.NoError(t, os.Setenv("PACELINE_METRICS_ENABLED", "false"))
		require.NoError(t, os.Setenv("PACELINE_RATE_LIMIT_PER_SECOND", "30"))
		require.NoError(t, os.Setenv("PACELINE_RATE_LIMIT_BUFFER_PCT", "25.5"))
		defer func() {
			_ = os.Unsetenv("PACELINE_PORT")
			_ = os.Unsetenv("PACELINE_LOG_LEVEL")
			_ = os.Unsetenv("PACELINE_METRICS_ENABLED")
			_ = os.Unsetenv("PACELINE_RATE_LIMIT_PER_SECOND")
			_ = os.Unsetenv("PACELINE_RATE_LIMIT_BUFFER_PCT")
		}()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify env overrides were applied
		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 30, cfg.RateLimit.PerSecond)
		assert.Equal(t, 25.5, cfg.RateLimit.BufferPct)
	})

	// Test bare provider-style names, accepted without the app prefix
	t.Run("BareRateLimitEnvNames", func(t *testing.T) {
		require.NoError(t, os.Setenv("RATE_LIMIT_PER_SECOND", "12"))
		require.NoError(t, os.Setenv("RATE_LIMIT_PER_MINUTE", "240"))
		require.NoError(t, os.Setenv("BUFFER_PERCENTAGE", "5"))
		defer func() {
			_ = os.Unsetenv("RATE_LIMIT_PER_SECOND")
			_ = os.Unsetenv("RATE_LIMIT_PER_MINUTE")
			_ = os.Unsetenv("BUFFER_PERCENTAGE")
		}()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 12, cfg.RateLimit.PerSecond)
		assert.Equal(t, 240, cfg.RateLimit.PerMinute)
		assert.Equal(t, 5.0, cfg.RateLimit.BufferPct)
	})

	// Prefixed names win over bare ones when both are set
	t.Run("PrefixedRateLimitWins", func(t *testing.T) {
		require.NoError(t, os.Setenv("RATE_LIMIT_PER_SECOND", "12"))
		require.NoError(t, os.Setenv("PACELINE_RATE_LIMIT_PER_SECOND", "48"))
		defer func() {
			_ = os.Unsetenv("RATE_LIMIT_PER_SECOND")
			_ = os.Unsetenv("PACELINE_RATE_LIMIT_PER_SECOND")
		}()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 48, cfg.RateLimit.PerSecond)
	})

	// Test config precedence: runtime > env > defaults
	t.Run("ConfigPrecedence", func(t *testing.T) {
		// Set environment variable
		require.NoError(t, os.Setenv("PACELINE_PORT", "4000"))
		defer func() {
			_ = os.Unsetenv("PACELINE_PORT")
		}()

		// Runtime override should win
		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Runtime override should take precedence over env var
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	// Invalid limiter settings must fail the load, not surface later
	t.Run("RejectsInvalidRateLimit", func(t *testing.T) {
		overrides := map[string]any{
			"rate_limit": map[string]any{
				"per_second": 0,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "rate_limit")
	})

	t.Run("RejectsBufferAtFullCapacity", func(t *testing.T) {
		require.NoError(t, os.Setenv("BUFFER_PERCENTAGE", "100"))
		defer func() {
			_ = os.Unsetenv("BUFFER_PERCENTAGE")
		}()

		cfg, err := Load(ctx)
		require.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("RejectsMalformedRateLimitEnv", func(t *testing.T) {
		require.NoError(t, os.Setenv("RATE_LIMIT_PER_MINUTE", "plenty"))
		defer func() {
			_ = os.Unsetenv("RATE_LIMIT_PER_MINUTE")
		}()

		cfg, err := Load(ctx)
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "per-minute")
	})
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()

	// Load config first
	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Test GetConfig returns the same instance
	t.Run("GetConfigReturnsLoadedConfig", func(t *testing.T) {
		retrieved := GetConfig()
		assert.NotNil(t, retrieved)
		assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
		assert.Equal(t, cfg.RateLimit.PerSecond, retrieved.RateLimit.PerSecond)
	})
}

func TestEnvSpecs(t *testing.T) {
	// Need to set app identity for env specs
	ctx := context.Background()
	_, err := Load(ctx)
	require.NoError(t, err)

	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	// Verify critical env var mappings exist
	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
	}

	// Check required Workhorse Standard env vars
	assert.True(t, envVarNames["PACELINE_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["PACELINE_PORT"], "PORT env var must be mapped")
	assert.True(t, envVarNames["PACELINE_HOST"], "HOST env var must be mapped")
	assert.True(t, envVarNames["PACELINE_METRICS_PORT"], "METRICS_PORT env var must be mapped")
	assert.True(t, envVarNames["PACELINE_DB_PATH"], "DB_PATH env var must be mapped")
	assert.True(t, envVarNames["PACELINE_RATE_LIMIT_STARVE_AFTER"], "RATE_LIMIT_STARVE_AFTER env var must be mapped")
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()

	// Test duration parsing from string env var
	t.Run("DurationFromEnv", func(t *testing.T) {
		require.NoError(t, os.Setenv("PACELINE_READ_TIMEOUT", "45s"))
		require.NoError(t, os.Setenv("PACELINE_RATE_LIMIT_STARVE_AFTER", "2m"))
		defer func() {
			_ = os.Unsetenv("PACELINE_READ_TIMEOUT")
			_ = os.Unsetenv("PACELINE_RATE_LIMIT_STARVE_AFTER")
		}()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 2*time.Minute, cfg.RateLimit.StarveAfter)
	})
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	// Load initial config
	cfg1, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg1)
	initialPort := cfg1.Server.Port

	// Reload with different runtime overrides
	overrides := map[string]any{
		"server": map[string]any{
			"port": initialPort + 1000,
		},
	}

	cfg2, err := Load(ctx, overrides)
	require.NoError(t, err)
	require.NotNil(t, cfg2)

	// Verify reload updated the config
	assert.Equal(t, initialPort+1000, cfg2.Server.Port)

	// Verify GetConfig returns the updated config
	current := GetConfig()
	assert.Equal(t, cfg2.Server.Port, current.Server.Port)
}
