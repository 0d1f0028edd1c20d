package metrics

import (
	"time"

	"github.com/paceline/paceline/internal/core"
	"github.com/paceline/paceline/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Run metrics
	RunsTotal       = "app_runs_total"
	RunDuration     = "app_run_duration_ms"
	TasksTotal      = "app_tasks_total"
	TaskDuration    = "app_task_duration_ms"
	TokenWaitTotal  = "app_token_wait_ms"
	StarvationTotal = "app_token_starvation_total"

	// Token window gauges
	TokensSecondRemaining = "app_tokens_second_remaining"
	TokensMinuteRemaining = "app_tokens_minute_remaining"

	// Connection metrics
	ActiveConnections = "app_active_connections"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordRun records a completed queue drain with its terminal status
func RecordRun(status string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RunsTotal,
			1,
			map[string]string{
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			RunDuration,
			duration,
			nil,
		)
	}
}

// RecordTask records a single task outcome with its wait and execution times
func RecordTask(status string, waited time.Duration, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			TasksTotal,
			1,
			map[string]string{
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			TaskDuration,
			duration,
			map[string]string{
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			TokenWaitTotal,
			waited,
			nil,
		)
	}
}

// RecordRunReport emits the run counter plus one task counter per outcome
// for a finished drain
func RecordRunReport(report *core.RunReport) {
	if report == nil {
		return
	}

	status := "completed"
	switch {
	case report.Cancelled:
		status = "cancelled"
	case report.Failed > 0:
		status = "partial"
	}
	RecordRun(status, time.Duration(report.ElapsedMS)*time.Millisecond)

	for _, outcome := range report.Outcomes {
		RecordTask(
			string(outcome.Status),
			time.Duration(outcome.WaitedMS)*time.Millisecond,
			time.Duration(outcome.DurationMS)*time.Millisecond,
		)
	}
}

// RecordStarvation records a starvation warning from the limiter
func RecordStarvation() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			StarvationTotal,
			1,
			nil,
		)
	}
}

// SetTokensRemaining publishes the current window counters as gauges
func SetTokensRemaining(second float64, minute float64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			TokensSecondRemaining,
			second,
			nil,
		)

		_ = observability.TelemetrySystem.Gauge(
			TokensMinuteRemaining,
			minute,
			nil,
		)
	}
}

// SetActiveConnections sets the current number of active connections
func SetActiveConnections(count int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ActiveConnections,
			float64(count),
			nil,
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
