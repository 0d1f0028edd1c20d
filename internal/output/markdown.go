package output

import (
	"fmt"
	"strings"

	"github.com/paceline/paceline/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatReport renders a run report as Markdown.
func (f *MarkdownFormatter) FormatReport(report *core.RunReport) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Run %s\n\n", escapeMarkdownCell(report.RunID)))
	sb.WriteString("| # | Task | Status | Code | Duration | Waited | Notes |\n")
	sb.WriteString("|---|------|--------|------|----------|--------|-------|\n")

	for _, outcome := range report.Outcomes {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %s |\n",
			outcome.Index+1,
			escapeMarkdownCell(outcome.Name),
			escapeMarkdownCell(statusLabel(outcome)),
			escapeMarkdownCell(codeLabel(outcome)),
			escapeMarkdownCell(formatMS(outcome.DurationMS)),
			escapeMarkdownCell(formatMS(outcome.WaitedMS)),
			escapeMarkdownCell(outcome.Message),
		))
	}

	sb.WriteString(fmt.Sprintf("\n**Summary**: %s in %s at %s\n",
		summaryLine(report.TaskCount, report.Succeeded, report.Failed, report.Cancelled),
		formatMS(report.ElapsedMS),
		limitsLine(report.PerSecond, report.PerMinute, report.BufferPct),
	))

	return sb.String(), nil
}

// FormatHistory renders stored run summaries as Markdown.
func (f *MarkdownFormatter) FormatHistory(summaries []core.RunSummary) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Run history\n\n")
	sb.WriteString("| Run | Started | Tasks | Succeeded | Failed | Elapsed | Limits |\n")
	sb.WriteString("|-----|---------|-------|-----------|--------|---------|--------|\n")

	for _, summary := range summaries {
		runID := summary.RunID
		if summary.Cancelled {
			runID += " *"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %s | %s |\n",
			escapeMarkdownCell(runID),
			escapeMarkdownCell(runWhen(summary.StartedAt)),
			summary.TaskCount,
			summary.Succeeded,
			summary.Failed,
			escapeMarkdownCell(formatMS(summary.ElapsedMS)),
			escapeMarkdownCell(limitsLine(summary.PerSecond, summary.PerMinute, summary.BufferPct)),
		))
	}

	for _, summary := range summaries {
		if summary.Cancelled {
			sb.WriteString("\n\\* run was cancelled before the queue drained\n")
			break
		}
	}

	return sb.String(), nil
}

// FormatLimits renders the configured windows and live counters as Markdown.
func (f *MarkdownFormatter) FormatLimits(view core.LimitsView) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Rate limits\n\n")

	if view.Snapshot != nil {
		sb.WriteString("| Window | Raw | Effective | Remaining | Next Refill |\n")
		sb.WriteString("|--------|-----|-----------|-----------|-------------|\n")
		sb.WriteString(fmt.Sprintf("| per-second | %d | %s | %s | %s |\n",
			view.PerSecondRaw,
			formatTokens(view.PerSecondEffective),
			formatTokens(view.Snapshot.SecondRemaining),
			formatCountdown(view.Snapshot.SecondCountdownSeconds),
		))
		sb.WriteString(fmt.Sprintf("| per-minute | %d | %s | %s | %s |\n",
			view.PerMinuteRaw,
			formatTokens(view.PerMinuteEffective),
			formatTokens(view.Snapshot.MinuteRemaining),
			formatCountdown(view.Snapshot.MinuteCountdownSeconds),
		))
	} else {
		sb.WriteString("| Window | Raw | Effective |\n")
		sb.WriteString("|--------|-----|----------|\n")
		sb.WriteString(fmt.Sprintf("| per-second | %d | %s |\n", view.PerSecondRaw, formatTokens(view.PerSecondEffective)))
		sb.WriteString(fmt.Sprintf("| per-minute | %d | %s |\n", view.PerMinuteRaw, formatTokens(view.PerMinuteEffective)))
	}

	sb.WriteString(fmt.Sprintf("\n**Configured**: %s\n", limitsLine(view.PerSecondRaw, view.PerMinuteRaw, view.BufferPct)))

	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
