package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/paceline/paceline/internal/config"
	"github.com/paceline/paceline/internal/core"
	"github.com/paceline/paceline/internal/core/engine"
	"github.com/paceline/paceline/internal/output"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show the configured rate limits",
	Long: `Show the raw per-second and per-minute caps, the safety buffer, and the
effective capacities the limiter will enforce. For live token counts of a
running server, query its /api/v1/limiter endpoint instead.`,
	RunE: runLimits,
}

func init() {
	rootCmd.AddCommand(limitsCmd)

	limitsCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown")
	limitsCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	limitsCmd.Flags().String("out-dir", "", "Write output to a directory")
}

func runLimits(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return err
	}

	limits := cfg.RateLimit.Limits()
	view := core.LimitsView{
		PerSecondRaw:       limits.PerSecond,
		PerMinuteRaw:       limits.PerMinute,
		BufferPct:          limits.BufferPct,
		PerSecondEffective: engine.EffectiveCapacity(limits.PerSecond, limits.BufferPct),
		PerMinuteEffective: engine.EffectiveCapacity(limits.PerMinute, limits.BufferPct),
	}

	formatter := output.NewFormatter(format)
	rendered, err := formatter.FormatLimits(view)
	if err != nil {
		return err
	}

	if outDir != "" {
		outDir, err = ensureOutDir(outDir)
		if err != nil {
			return err
		}
		outPath = filepath.Join(outDir, fmt.Sprintf("limits.%s", outputExtension(format)))
	}

	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	_, err = fmt.Fprintln(sink.writer, rendered)
	return err
}
