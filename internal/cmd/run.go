package cmd

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paceline/paceline/internal/config"
	"github.com/paceline/paceline/internal/core"
	"github.com/paceline/paceline/internal/core/engine"
	"github.com/paceline/paceline/internal/core/store"
	"github.com/paceline/paceline/internal/core/tasks"
	"github.com/paceline/paceline/internal/metrics"
	"github.com/paceline/paceline/internal/observability"
	"github.com/paceline/paceline/internal/output"
)

var runCmd = &cobra.Command{
	Use:   "run <jobs-file>",
	Short: "Drain a task queue under rate control",
	Long: `Read queued requests from a jobs file and execute them strictly in order,
one at a time, acquiring from the dual-window rate limiter before each request.

The jobs file is YAML or JSON ({"tasks": [...]}) when it carries a matching
extension, otherwise a plain list with one URL per line. Use "-" to read a
plain list from stdin.

Failing tasks are captured in the report and the drain continues unless
--fail-fast is set. The exit status reflects the drain itself: a fully drained
queue exits zero even when individual tasks failed.`,
	Args: cobra.ExactArgs(1),
	RunE: executeRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown")
	runCmd.Flags().String("out", "", "Write the report to a file (default stdout)")
	runCmd.Flags().String("out-dir", "", "Write the report to a directory")
	runCmd.Flags().Bool("progress", true, "Log per-task progress while draining")
	runCmd.Flags().Bool("fail-fast", false, "Stop at the first failing task")
	runCmd.Flags().Bool("save", true, "Persist the run report to the store")
	runCmd.Flags().Int("per-second", 0, "Override the per-second rate limit")
	runCmd.Flags().Int("per-minute", 0, "Override the per-minute rate limit")
	runCmd.Flags().Float64("buffer", -1, "Override the safety buffer percentage")
}

func executeRun(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return err
	}

	showProgress, err := cmd.Flags().GetBool("progress")
	if err != nil {
		return err
	}
	failFast, err := cmd.Flags().GetBool("fail-fast")
	if err != nil {
		return err
	}
	save, err := cmd.Flags().GetBool("save")
	if err != nil {
		return err
	}
	perSecond, err := cmd.Flags().GetInt("per-second")
	if err != nil {
		return err
	}
	perMinute, err := cmd.Flags().GetInt("per-minute")
	if err != nil {
		return err
	}
	bufferPct, err := cmd.Flags().GetFloat64("buffer")
	if err != nil {
		return err
	}

	specs, err := readTaskSpecs(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	startedAt := time.Now()

	var db *store.Store
	if save {
		db, err = openStore(ctx)
		if err != nil {
			observability.CLILogger.Warn("Run store unavailable, continuing without persistence", zap.Error(err))
		} else {
			defer db.Close() // nolint:errcheck // best-effort cleanup; errors logged internally
		}
	}

	cfg := config.GetConfig()
	if cfg == nil {
		cfg, err = config.Load(ctx)
		if err != nil {
			return err
		}
	}

	limits := overrideLimits(cfg.RateLimit.Limits(), perSecond, perMinute, bufferPct)
	limiter, err := buildLimiter(cfg, limits)
	if err != nil {
		return err
	}
	limiter.Start(ctx)

	builder := &tasks.Builder{
		Client:    &http.Client{Timeout: cfg.HTTP.Timeout},
		UserAgent: cfg.HTTP.UserAgent,
	}
	queue, err := builder.Build(specs)
	if err != nil {
		return err
	}

	var onProgress engine.ProgressFunc
	if showProgress {
		onProgress = logProgress(queue)
	}

	drainer := &engine.Drainer{Limiter: limiter, Limits: limits, FailFast: failFast}
	report, runErr := drainer.Run(ctx, queue, onProgress)
	metrics.RecordRunReport(report)

	if db != nil {
		if err := db.SaveRun(ctx, report); err != nil {
			observability.CLILogger.Warn("Failed to persist run report",
				zap.String("run_id", report.RunID),
				zap.Error(err))
		}
	}

	if err := renderReport(format, outPath, outDir, report); err != nil {
		return err
	}

	if format != output.FormatJSON {
		logThroughput(len(report.Outcomes), startedAt)
	}

	// Captured task failures are data, not a drain failure; only
	// cancellation or a fail-fast abort surfaces as an error here.
	if runErr != nil {
		return runErr
	}
	return nil
}

// overrideLimits layers CLI flag overrides on top of the configured limits.
// Zero or negative flag values leave the configured value in place; the
// buffer uses -1 as its unset sentinel so an explicit 0 still applies.
func overrideLimits(base engine.Limits, perSecond, perMinute int, bufferPct float64) engine.Limits {
	if perSecond > 0 {
		base.PerSecond = perSecond
	}
	if perMinute > 0 {
		base.PerMinute = perMinute
	}
	if bufferPct >= 0 {
		base.BufferPct = bufferPct
	}
	return base
}

func buildLimiter(cfg *config.Config, limits engine.Limits) (*engine.TokenBucketPair, error) {
	limiter, err := engine.NewTokenBucketPair(limits)
	if err != nil {
		return nil, err
	}
	limiter.StarveAfter = cfg.RateLimit.StarveAfter
	limiter.OnStarvation = func(waited time.Duration) {
		observability.CLILogger.Warn("Rate budget exhausted, still waiting for a token",
			zap.Duration("waited", waited),
			zap.Int("per_second", limits.PerSecond),
			zap.Int("per_minute", limits.PerMinute))
		metrics.RecordStarvation()
	}
	return limiter, nil
}

func logProgress(queue []core.Task) engine.ProgressFunc {
	total := len(queue)
	return func(completed, pending int) {
		name := ""
		if completed > 0 && completed <= total {
			name = queue[completed-1].Name
		}
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] %s", completed, total, name),
			zap.Int("pending", pending))
	}
}

func renderReport(format output.Format, outPath, outDir string, report *core.RunReport) error {
	formatter := output.NewFormatter(format)
	rendered, err := formatter.FormatReport(report)
	if err != nil {
		return err
	}

	if outDir != "" {
		outDir, err = ensureOutDir(outDir)
		if err != nil {
			return err
		}
		outPath = filepath.Join(outDir, fmt.Sprintf("run.%s.%s", sanitizeFilename(report.RunID), outputExtension(format)))
	}

	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	_, err = fmt.Fprintln(sink.writer, rendered)
	return err
}

func logThroughput(count int, startedAt time.Time) {
	if count <= 0 {
		return
	}
	elapsed := time.Since(startedAt)
	if elapsed <= 0 {
		return
	}
	rate := float64(count) / elapsed.Seconds()
	observability.CLILogger.Info(
		"Drain throughput",
		zap.Int("tasks", count),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rate_per_sec", rate),
	)
}
