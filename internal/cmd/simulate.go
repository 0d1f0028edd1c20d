package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/paceline/paceline/internal/config"
	"github.com/paceline/paceline/internal/core"
	"github.com/paceline/paceline/internal/core/engine"
	"github.com/paceline/paceline/internal/metrics"
	"github.com/paceline/paceline/internal/output"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drain synthetic tasks to observe limiter pacing",
	Long: `Run a queue of synthetic no-op tasks through the limiter. Useful for
observing how the configured windows pace a drain without touching any
real endpoint. Simulated runs are never persisted.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().Int("tasks", 12, "Number of synthetic tasks to queue")
	simulateCmd.Flags().Duration("delay", 0, "Artificial work time per task")
	simulateCmd.Flags().Int("fail-every", 0, "Fail every Nth task (0 disables)")
	simulateCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown")
	simulateCmd.Flags().Int("per-second", 0, "Override the per-second rate limit")
	simulateCmd.Flags().Int("per-minute", 0, "Override the per-minute rate limit")
	simulateCmd.Flags().Float64("buffer", -1, "Override the safety buffer percentage")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	taskCount, err := cmd.Flags().GetInt("tasks")
	if err != nil {
		return err
	}
	if taskCount < 1 {
		return fmt.Errorf("tasks must be at least 1")
	}

	delay, err := cmd.Flags().GetDuration("delay")
	if err != nil {
		return err
	}
	failEvery, err := cmd.Flags().GetInt("fail-every")
	if err != nil {
		return err
	}

	formatValue, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(formatValue)
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

	ctx := cmd.Context()
	startedAt := time.Now()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	limits := overrideLimits(cfg.RateLimit.Limits(), perSecond, perMinute, bufferPct)
	limiter, err := buildLimiter(cfg, limits)
	if err != nil {
		return err
	}
	limiter.Start(ctx)

	queue := syntheticTasks(taskCount, delay, failEvery)

	drainer := &engine.Drainer{Limiter: limiter, Limits: limits}
	report, runErr := drainer.Run(ctx, queue, logProgress(queue))
	metrics.RecordRunReport(report)

	formatter := output.NewFormatter(format)
	rendered, err := formatter.FormatReport(report)
	if err != nil {
		return err
	}
	fmt.Println(rendered)

	if format != output.FormatJSON {
		fmt.Print(pacingSummary(report, limits))
		logThroughput(len(report.Outcomes), startedAt)
	}

	return runErr
}

// pacingSummary boxes the observed drain pace next to the effective caps so a
// simulate run shows at a glance whether the limiter was the bottleneck.
func pacingSummary(report *core.RunReport, limits engine.Limits) string {
	lines := []string{"Pacing", ""}
	lines = append(lines, fmt.Sprintf("tasks: %d (%d succeeded, %d failed)", report.TaskCount, report.Succeeded, report.Failed))
	lines = append(lines, fmt.Sprintf("elapsed: %s", time.Duration(report.ElapsedMS)*time.Millisecond))
	if report.ElapsedMS > 0 {
		observed := float64(report.TaskCount) / (float64(report.ElapsedMS) / 1000)
		lines = append(lines, fmt.Sprintf("observed rate: %.2f/s", observed))
	}
	lines = append(lines, fmt.Sprintf("effective caps: %.2f/s, %.2f/min",
		engine.EffectiveCapacity(limits.PerSecond, limits.BufferPct),
		engine.EffectiveCapacity(limits.PerMinute, limits.BufferPct)))
	return ascii.DrawBox(strings.Join(lines, "\n"), 0)
}

// syntheticTasks builds a queue of no-op tasks. Each task optionally sleeps
// for delay, and every failEvery-th task fails so report shapes can be
// exercised end to end.
func syntheticTasks(count int, delay time.Duration, failEvery int) []core.Task {
	queue := make([]core.Task, 0, count)
	for i := 0; i < count; i++ {
		ordinal := i + 1
		queue = append(queue, core.Task{
			Name: fmt.Sprintf("task-%03d", ordinal),
			Run: func(ctx context.Context) (*core.TaskResult, error) {
				if delay > 0 {
					timer := time.NewTimer(delay)
					select {
					case <-ctx.Done():
						timer.Stop()
						return nil, ctx.Err()
					case <-timer.C:
					}
				}
				if failEvery > 0 && ordinal%failEvery == 0 {
					return nil, fmt.Errorf("synthetic failure")
				}
				return &core.TaskResult{Message: "simulated"}, nil
			},
		})
	}
	return queue
}
