package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/paceline/paceline/internal/config"
)

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the stored run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Runs stored: %d\n", stats.Runs)
		if stats.Cancelled > 0 {
			fmt.Printf("Cancelled: %d\n", stats.Cancelled)
		}
		fmt.Printf("Tasks drained: %d (%d succeeded, %d failed)\n", stats.Tasks, stats.Succeeded, stats.Failed)
		fmt.Printf("First run: %s\n", formatTime(stats.FirstStartedAt))
		fmt.Printf("Latest run: %s\n", formatTime(stats.LastFinishedAt))
		fmt.Printf("Database: %s\n", getDBPath())
		return nil
	},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return t.UTC().Format(time.RFC3339)
}

// getDBPath returns the resolved database path from config
func getDBPath() string {
	cfg := config.GetConfig()
	if cfg == nil {
		return config.DefaultStorePath()
	}
	if cfg.Store.URL != "" {
		return cfg.Store.URL
	}
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = config.DefaultStorePath()
	}
	if absPath, err := filepath.Abs(dbPath); err == nil {
		return absPath
	}
	return dbPath
}

func init() {
	historyCmd.AddCommand(historyStatsCmd)
}
