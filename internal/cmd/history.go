package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paceline/paceline/internal/observability"
	"github.com/paceline/paceline/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect persisted run reports",
}

var (
	historyListOutput string
	historyListOut    string
	historyListOutDir string
	historyListLimit  int
)

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(historyListOutput)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		summaries, err := db.ListRuns(cmd.Context(), historyListLimit)
		if err != nil {
			return err
		}

		outPath := strings.TrimSpace(historyListOut)
		outDir := strings.TrimSpace(historyListOutDir)
		if outPath != "" && outDir != "" {
			return fmt.Errorf("--out and --out-dir are mutually exclusive")
		}

		if outDir != "" {
			outDir, err = ensureOutDir(outDir)
			if err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("history.%s", outputExtension(format)))
		}

		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		formatter := output.NewFormatter(format)
		rendered, err := formatter.FormatHistory(summaries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

var (
	historyShowOutput string
	historyShowOut    string
	historyShowOutDir string
)

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full report for one stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := strings.TrimSpace(args[0])
		if runID == "" {
			return fmt.Errorf("run id is required")
		}

		format, err := output.ParseFormat(historyShowOutput)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		report, err := db.GetRun(cmd.Context(), runID)
		if err != nil {
			return err
		}
		if report == nil {
			return fmt.Errorf("run %q not found", runID)
		}

		outPath := strings.TrimSpace(historyShowOut)
		outDir := strings.TrimSpace(historyShowOutDir)
		if outPath != "" && outDir != "" {
			return fmt.Errorf("--out and --out-dir are mutually exclusive")
		}

		if err := renderReport(format, outPath, outDir, report); err != nil {
			return err
		}
		return nil
	},
}

var historyPruneKeep int

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored runs beyond the most recent N",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyPruneKeep < 0 {
			return fmt.Errorf("--keep must not be negative")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		removed, err := db.PruneRuns(cmd.Context(), historyPruneKeep)
		if err != nil {
			return err
		}

		observability.CLILogger.Info("Pruned run history",
			zap.Int("removed", removed),
			zap.Int("kept", historyPruneKeep))
		return nil
	},
}

func init() {
	historyListCmd.Flags().StringVar(&historyListOutput, "output-format", string(output.FormatTable), "Output format: table, json, markdown")
	historyListCmd.Flags().StringVar(&historyListOut, "out", "", "Write output to a file (default stdout)")
	historyListCmd.Flags().StringVar(&historyListOutDir, "out-dir", "", "Write output to a directory")
	historyListCmd.Flags().IntVar(&historyListLimit, "limit", 20, "Maximum runs to list (0 lists all)")

	historyShowCmd.Flags().StringVar(&historyShowOutput, "output-format", string(output.FormatTable), "Output format: table, json, markdown")
	historyShowCmd.Flags().StringVar(&historyShowOut, "out", "", "Write output to a file (default stdout)")
	historyShowCmd.Flags().StringVar(&historyShowOutDir, "out-dir", "", "Write output to a directory")

	historyPruneCmd.Flags().IntVar(&historyPruneKeep, "keep", 20, "Number of most recent runs to keep")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}
