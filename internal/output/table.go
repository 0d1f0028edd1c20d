package output

import (
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/paceline/paceline/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatReport renders a run report as a table.
func (f *TableFormatter) FormatReport(report *core.RunReport) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Task", "Status", "Code", "Duration", "Waited", "Notes"})

	for _, outcome := range report.Outcomes {
		t.AppendRow(table.Row{
			outcome.Index + 1,
			outcome.Name,
			statusLabel(outcome),
			codeLabel(outcome),
			formatMS(outcome.DurationMS),
			formatMS(outcome.WaitedMS),
			outcome.Message,
		})
	}

	t.AppendFooter(table.Row{
		"",
		summaryLine(report.TaskCount, report.Succeeded, report.Failed, report.Cancelled),
		"",
		"",
		formatMS(report.ElapsedMS),
		"",
		limitsLine(report.PerSecond, report.PerMinute, report.BufferPct),
	})

	return t.Render(), nil
}

// FormatHistory renders stored run summaries as a table.
func (f *TableFormatter) FormatHistory(summaries []core.RunSummary) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Run", "Started", "Tasks", "Succeeded", "Failed", "Elapsed", "Limits"})

	for _, summary := range summaries {
		runID := summary.RunID
		if summary.Cancelled {
			runID += " *"
		}
		t.AppendRow(table.Row{
			runID,
			runWhen(summary.StartedAt),
			summary.TaskCount,
			summary.Succeeded,
			summary.Failed,
			formatMS(summary.ElapsedMS),
			limitsLine(summary.PerSecond, summary.PerMinute, summary.BufferPct),
		})
	}

	rendered := t.Render()
	for _, summary := range summaries {
		if summary.Cancelled {
			rendered += "\n* run was cancelled before the queue drained"
			break
		}
	}
	return rendered, nil
}

// FormatLimits renders the configured windows and live counters as a table.
func (f *TableFormatter) FormatLimits(view core.LimitsView) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	if view.Snapshot != nil {
		t.AppendHeader(table.Row{"Window", "Raw", "Effective", "Remaining", "Next Refill"})
		t.AppendRow(table.Row{
			"per-second",
			view.PerSecondRaw,
			formatTokens(view.PerSecondEffective),
			formatTokens(view.Snapshot.SecondRemaining),
			formatCountdown(view.Snapshot.SecondCountdownSeconds),
		})
		t.AppendRow(table.Row{
			"per-minute",
			view.PerMinuteRaw,
			formatTokens(view.PerMinuteEffective),
			formatTokens(view.Snapshot.MinuteRemaining),
			formatCountdown(view.Snapshot.MinuteCountdownSeconds),
		})
	} else {
		t.AppendHeader(table.Row{"Window", "Raw", "Effective"})
		t.AppendRow(table.Row{"per-second", view.PerSecondRaw, formatTokens(view.PerSecondEffective)})
		t.AppendRow(table.Row{"per-minute", view.PerMinuteRaw, formatTokens(view.PerMinuteEffective)})
	}

	t.AppendFooter(table.Row{"", "", limitsLine(view.PerSecondRaw, view.PerMinuteRaw, view.BufferPct)})

	return t.Render(), nil
}
