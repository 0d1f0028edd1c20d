package output

import (
	"fmt"
	"time"

	"github.com/paceline/paceline/internal/core"
)

func statusLabel(outcome core.Outcome) string {
	switch outcome.Status {
	case core.OutcomeSucceeded:
		return "succeeded"
	case core.OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func codeLabel(outcome core.Outcome) string {
	if outcome.StatusCode == 0 {
		return ""
	}
	return fmt.Sprintf("%d", outcome.StatusCode)
}

// formatMS renders a millisecond count as a compact duration string.
func formatMS(ms int64) string {
	if ms <= 0 {
		return "0s"
	}
	return (time.Duration(ms) * time.Millisecond).String()
}

func summaryLine(taskCount, succeeded, failed int, cancelled bool) string {
	summary := fmt.Sprintf("%d/%d succeeded", succeeded, taskCount)
	if failed > 0 {
		summary += fmt.Sprintf(", %d failed", failed)
	}
	if cancelled {
		summary += " (cancelled)"
	}
	return summary
}

func limitsLine(perSecond, perMinute int, bufferPct float64) string {
	return fmt.Sprintf("%d/s %d/m (%.4g%% buffer)", perSecond, perMinute, bufferPct)
}

func runWhen(startedAt time.Time) string {
	if startedAt.IsZero() {
		return ""
	}
	return startedAt.UTC().Format("2006-01-02 15:04:05")
}

func formatTokens(value float64) string {
	return fmt.Sprintf("%.4g", value)
}

func formatCountdown(seconds float64) string {
	return fmt.Sprintf("%.1fs", seconds)
}
