package activities

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/sensorhub/internal/models"
	"github.com/stanstork/sensorhub/internal/notification"
	"github.com/stanstork/sensorhub/internal/temporal"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/log"
)

type SubscriptionStore interface {
	ListIdentities(ctx context.Context) ([]string, error)
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

type ReadingSummarizer interface {
	DailySummary(ctx context.Context, identity string, since time.Time) (models.ReadingSummary, error)
}

type SettingsResolver interface {
	Resolve(ctx context.Context, identity string) (models.NotificationSettings, error)
}

// MaintenanceChecker composes maintenance alerts. Settle is told how the
// delivery went so an undelivered alert does not count against the repeat
// interval.
type MaintenanceChecker interface {
	CheckMaintenance(ctx context.Context, identity string, settings models.NotificationSettings) (*models.Notification, error)
	Settle(identity string, notif models.Notification, res notification.DeliveryResult, err error)
}

type Notifier interface {
	Notify(ctx context.Context, identity string, notif models.Notification) (notification.DeliveryResult, error)
}

type Activities struct {
	Subscriptions SubscriptionStore
	Readings      ReadingSummarizer
	Settings      SettingsResolver
	Maintenance   MaintenanceChecker
	Notifier      Notifier
	// Retention is how long an unused subscription is kept.
	Retention time.Duration
	Now       func() time.Time
}

func (a *Activities) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// ListIdentitiesActivity returns every identity holding a push subscription.
func (a *Activities) ListIdentitiesActivity(ctx context.Context) ([]string, error) {
	ids, err := a.Subscriptions.ListIdentities(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list identities")
	}
	activity.GetLogger(ctx).Info("Listed identities with subscriptions", "count", len(ids))
	return ids, nil
}

func (a *Activities) SendDailyReportActivity(ctx context.Context, identity string) (temporal.ReportOutcome, error) {
	logger := log.With(activity.GetLogger(ctx), "identity", identity)
	out := temporal.ReportOutcome{Identity: identity}

	settings, err := a.Settings.Resolve(ctx, identity)
	if err != nil {
		return out, errors.Wrap(err, "failed to resolve settings")
	}
	if !settings.DailyReports {
		out.Reason = "daily reports disabled"
		return out, nil
	}

	summary, err := a.Readings.DailySummary(ctx, identity, a.now().Add(-24*time.Hour))
	if err != nil {
		return out, errors.Wrap(err, "failed to summarize readings")
	}

	stats := notification.ReportStatsFrom(summary, settings.Temperature, settings.Humidity)
	res, err := a.Notifier.Notify(ctx, identity, notification.DailyReport(stats))
	if err != nil {
		return out, errors.Wrap(err, "failed to send daily report")
	}
	out.Sent = !res.Skipped && res.Succeeded > 0
	out.Reason = res.Reason
	logger.Info("Daily report processed", "sent", out.Sent, "reason", out.Reason)
	return out, nil
}

// CheckMaintenanceActivity alerts the identity when its device stopped
// reporting. It returns whether the alert reached a subscription.
func (a *Activities) CheckMaintenanceActivity(ctx context.Context, identity string) (bool, error) {
	settings, err := a.Settings.Resolve(ctx, identity)
	if err != nil {
		return false, errors.Wrap(err, "failed to resolve settings")
	}

	notif, err := a.Maintenance.CheckMaintenance(ctx, identity, settings)
	if err != nil {
		return false, errors.Wrap(err, "failed to check last reading")
	}
	if notif == nil {
		return false, nil
	}

	res, err := a.Notifier.Notify(ctx, identity, *notif)
	a.Maintenance.Settle(identity, *notif, res, err)
	if err != nil {
		return false, errors.Wrap(err, "failed to send maintenance alert")
	}

	sent := !res.Skipped && res.Succeeded > 0
	log.With(activity.GetLogger(ctx), "identity", identity).Info("Maintenance alert processed", "sent", sent, "reason", res.Reason)
	return sent, nil
}

// CleanupSubscriptionsActivity removes subscriptions unused for longer than
// the retention period together with their log entries.
func (a *Activities) CleanupSubscriptionsActivity(ctx context.Context) (int64, error) {
	if a.Retention <= 0 {
		return 0, nil
	}
	n, err := a.Subscriptions.DeleteStale(ctx, a.now().Add(-a.Retention))
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete stale subscriptions")
	}
	if n > 0 {
		activity.GetLogger(ctx).Info("Removed stale subscriptions", "count", n)
	}
	return n, nil
}
