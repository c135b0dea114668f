package workflows

import (
	"time"

	"github.com/stanstork/sensorhub/internal/temporal"
	"github.com/stanstork/sensorhub/internal/temporal/activities"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

func withActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: temporal.DefaultActivityTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})
}

// DailyReportWorkflow sends the daily summary to every opted-in identity.
// A failure for one identity is counted, not returned.
func DailyReportWorkflow(ctx workflow.Context) (temporal.DailyReportSummary, error) {
	ctx = withActivityOptions(ctx)
	logger := workflow.GetLogger(ctx)

	// The actual implementation is on the worker; this is just a proxy.
	var a *activities.Activities

	var ids []string
	if err := workflow.ExecuteActivity(ctx, a.ListIdentitiesActivity).Get(ctx, &ids); err != nil {
		logger.Error("Failed to list identities.", "error", err)
		return temporal.DailyReportSummary{}, err
	}

	summary := temporal.DailyReportSummary{Identities: len(ids)}
	futures := make([]workflow.Future, len(ids))
	for i, id := range ids {
		futures[i] = workflow.ExecuteActivity(ctx, a.SendDailyReportActivity, id)
	}
	for i, f := range futures {
		var out temporal.ReportOutcome
		if err := f.Get(ctx, &out); err != nil {
			logger.Warn("Daily report failed.", "identity", ids[i], "error", err)
			summary.Failed++
			continue
		}
		if out.Sent {
			summary.Sent++
		} else {
			summary.Skipped++
		}
	}

	logger.Info("Daily report workflow completed.", "sent", summary.Sent, "skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

// MaintenanceWorkflow alerts identities whose devices stopped reporting,
// then removes stale subscriptions.
func MaintenanceWorkflow(ctx workflow.Context) (temporal.MaintenanceSummary, error) {
	ctx = withActivityOptions(ctx)
	logger := workflow.GetLogger(ctx)

	var a *activities.Activities

	var ids []string
	if err := workflow.ExecuteActivity(ctx, a.ListIdentitiesActivity).Get(ctx, &ids); err != nil {
		logger.Error("Failed to list identities.", "error", err)
		return temporal.MaintenanceSummary{}, err
	}

	summary := temporal.MaintenanceSummary{Checked: len(ids)}
	futures := make([]workflow.Future, len(ids))
	for i, id := range ids {
		futures[i] = workflow.ExecuteActivity(ctx, a.CheckMaintenanceActivity, id)
	}
	for i, f := range futures {
		var alerted bool
		if err := f.Get(ctx, &alerted); err != nil {
			logger.Warn("Maintenance check failed.", "identity", ids[i], "error", err)
			summary.Failed++
			continue
		}
		if alerted {
			summary.Alerted++
		}
	}

	if err := workflow.ExecuteActivity(ctx, a.CleanupSubscriptionsActivity).Get(ctx, &summary.StaleRemoved); err != nil {
		logger.Error("Failed to clean up subscriptions.", "error", err)
		return summary, err
	}

	logger.Info("Maintenance workflow completed.", "alerted", summary.Alerted, "removed", summary.StaleRemoved)
	return summary, nil
}
