package temporal

import "time"

// TaskQueueName is the Temporal task queue serving the periodic alert jobs.
const TaskQueueName = "SENSORHUB_JOBS"

// Workflow IDs are fixed so that at most one cron run of each job exists.
const (
	DailyReportWorkflowID = "sensorhub-daily-report"
	MaintenanceWorkflowID = "sensorhub-maintenance"
)

// DefaultActivityTimeout bounds a single activity attempt.
const DefaultActivityTimeout = 2 * time.Minute

// ReportOutcome is the result of sending one identity its daily report.
type ReportOutcome struct {
	Identity string
	Sent     bool
	Reason   string
}

type DailyReportSummary struct {
	Identities int
	Sent       int
	Skipped    int
	Failed     int
}

type MaintenanceSummary struct {
	Checked      int
	Alerted      int
	Failed       int
	StaleRemoved int64
}
