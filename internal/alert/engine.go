// Package alert decides which notifications a reading triggers.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/keyed"
	"github.com/stanstork/sensorhub/internal/models"
	"github.com/stanstork/sensorhub/internal/notification"
)

// History answers the questions rules ask about persisted readings.
type History interface {
	LastReadingTime(ctx context.Context, identity string) (time.Time, bool, error)
	CountRainingSince(ctx context.Context, identity string, since time.Time) (int, error)
}

// Dispatcher accepts notifications for asynchronous delivery and reports
// whether the notification was queued.
type Dispatcher interface {
	Submit(identity string, notif models.Notification, done notification.DoneFunc) bool
}

type Options struct {
	// RainStartEdgeTriggered fires rain-start only on a dry to wet change
	// instead of on every wet reading.
	RainStartEdgeTriggered bool
	// RepeatInterval is the minimum gap between two drought or maintenance
	// alerts for one identity. Zero disables suppression.
	RepeatInterval   time.Duration
	MaintenanceAfter time.Duration
	Now              func() time.Time
}

type Engine struct {
	history    History
	dispatcher Dispatcher
	rain       *keyed.Map[bool]
	lastFired  *keyed.Map[time.Time]
	opts       Options
	logger     zerolog.Logger
}

func NewEngine(history History, dispatcher Dispatcher, opts Options, logger zerolog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaintenanceAfter <= 0 {
		opts.MaintenanceAfter = 24 * time.Hour
	}
	return &Engine{
		history:    history,
		dispatcher: dispatcher,
		rain:       keyed.New[bool](),
		lastFired:  keyed.New[time.Time](),
		opts:       opts,
		logger:     logger.With().Str("component", "alert_engine").Logger(),
	}
}

// Process evaluates the reading and submits every resulting notification.
// Repeat-suppressed alerts that are dropped or not delivered give their
// claim back.
func (e *Engine) Process(ctx context.Context, identity string, reading models.Reading, settings models.NotificationSettings) ([]models.Notification, error) {
	notifs, err := e.Evaluate(ctx, identity, reading, settings)
	for _, n := range notifs {
		n := n
		queued := e.dispatcher.Submit(identity, n, func(res notification.DeliveryResult, err error) {
			e.Settle(identity, n, res, err)
		})
		if !queued {
			e.Settle(identity, n, notification.DeliveryResult{Skipped: true}, nil)
		}
	}
	return notifs, err
}

// Evaluate runs every rule against the reading. A rule that cannot reach
// its store is logged and skipped. The only state written is the identity's
// rain flag and the repeat-suppression clock.
func (e *Engine) Evaluate(ctx context.Context, identity string, reading models.Reading, settings models.NotificationSettings) ([]models.Notification, error) {
	var out []models.Notification

	if settings.TemperatureAlerts {
		out = appendRange(out, models.CategoryTemperature, reading.Temp, settings.Temperature)
	}
	if settings.HumidityAlerts {
		out = appendRange(out, models.CategoryHumidity, reading.AirHumidity, settings.Humidity)
	}
	if settings.SoilHumidityAlerts {
		out = appendRange(out, models.CategorySoilHumidity, reading.SoilHumidity, settings.SoilHumidity)
	}

	if settings.GasAlerts {
		severity := models.NotificationSeverityHigh
		if settings.CriticalGasAlert {
			severity = models.NotificationSeverityCritical
		}
		if reading.FlammableGas > settings.FlammableGasThreshold {
			out = append(out, notification.SensorAlert(models.CategoryFlammableGas, reading.FlammableGas, settings.FlammableGasThreshold, models.RelationDetected, severity))
		}
		if reading.ToxicGas > settings.ToxicGasThreshold {
			out = append(out, notification.SensorAlert(models.CategoryToxicGas, reading.ToxicGas, settings.ToxicGasThreshold, models.RelationDetected, severity))
		}
	}

	out = append(out, e.rainRules(identity, reading, settings)...)

	if n, err := e.drought(ctx, identity, settings); err != nil {
		e.logger.Warn().Err(err).Str("identity", identity).Str("rule", "drought").Msg("rule skipped")
	} else if n != nil {
		out = append(out, *n)
	}

	if n, err := e.CheckMaintenance(ctx, identity, settings); err != nil {
		e.logger.Warn().Err(err).Str("identity", identity).Str("rule", "maintenance").Msg("rule skipped")
	} else if n != nil {
		out = append(out, *n)
	}

	return out, ctx.Err()
}

func appendRange(out []models.Notification, category models.AlertCategory, value float64, r models.Range) []models.Notification {
	switch {
	case value < r.Min:
		return append(out, notification.SensorAlert(category, value, r.Min, models.RelationBelow, models.NotificationSeverityNormal))
	case value > r.Max:
		return append(out, notification.SensorAlert(category, value, r.Max, models.RelationAbove, models.NotificationSeverityNormal))
	}
	return out
}

// rainRules swaps the stored rain flag for the current one and applies the
// start and stop rules. An identity without a stored flag counts as dry.
func (e *Engine) rainRules(identity string, reading models.Reading, settings models.NotificationSettings) []models.Notification {
	var wasRaining bool
	e.rain.Update(identity, func(cur bool, _ bool) (bool, bool) {
		wasRaining = cur
		return reading.IsRaining, true
	})

	if !settings.RainAlerts {
		return nil
	}

	var out []models.Notification
	rainValue := 0.0
	if reading.IsRaining {
		rainValue = 1
	}
	if settings.RainStartAlert && reading.IsRaining && !(e.opts.RainStartEdgeTriggered && wasRaining) {
		out = append(out, notification.SensorAlert(models.CategoryRain, rainValue, 0, models.RelationStarted, models.NotificationSeverityNormal))
	}
	if settings.RainStopAlert && wasRaining && !reading.IsRaining {
		out = append(out, notification.SensorAlert(models.CategoryRain, rainValue, 0, models.RelationStopped, models.NotificationSeverityNormal))
	}
	return out
}

func (e *Engine) drought(ctx context.Context, identity string, settings models.NotificationSettings) (*models.Notification, error) {
	if !settings.RainAlerts || settings.NoRainDays <= 0 {
		return nil, nil
	}

	window := time.Duration(settings.NoRainDays) * 24 * time.Hour
	count, err := e.history.CountRainingSince(ctx, identity, e.opts.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}
	at, ok := e.claim(identity, models.CategoryDrought)
	if !ok {
		return nil, nil
	}

	n := notification.SystemAlert("Drought alert", fmt.Sprintf("No rain in the last %d days.", settings.NoRainDays), models.NotificationSeverityHigh)
	n.Data.Category = models.CategoryDrought
	n.Data.Timestamp = at.UnixMilli()
	return &n, nil
}

// CheckMaintenance returns an alert when the identity's latest persisted
// reading is older than the maintenance threshold. Identities that never
// reported are not alerted.
func (e *Engine) CheckMaintenance(ctx context.Context, identity string, settings models.NotificationSettings) (*models.Notification, error) {
	if !settings.MaintenanceAlerts {
		return nil, nil
	}

	last, ok, err := e.history.LastReadingTime(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !ok || e.opts.Now().Sub(last) <= e.opts.MaintenanceAfter {
		return nil, nil
	}
	at, ok := e.claim(identity, models.CategoryMaintenance)
	if !ok {
		return nil, nil
	}

	n := notification.SystemAlert("Maintenance required",
		fmt.Sprintf("No reading recorded in the last %d hours.", int(e.opts.MaintenanceAfter.Hours())),
		models.NotificationSeverityHigh)
	n.Data.Category = models.CategoryMaintenance
	n.Data.Timestamp = at.UnixMilli()
	return &n, nil
}

// Delivered reports whether a delivery reached at least one subscription.
func Delivered(res notification.DeliveryResult, err error) bool {
	return err == nil && !res.Skipped && res.Succeeded > 0
}

// Settle releases the repeat-suppression claim behind notif when its
// delivery reached no subscription, so the next check may fire again. It is
// a no-op for rules without suppression and for claims that were since
// replaced.
func (e *Engine) Settle(identity string, notif models.Notification, res notification.DeliveryResult, err error) {
	if Delivered(res, err) || e.opts.RepeatInterval <= 0 {
		return
	}
	switch notif.Data.Category {
	case models.CategoryDrought, models.CategoryMaintenance:
	default:
		return
	}
	e.lastFired.Update(claimKey(identity, notif.Data.Category), func(last time.Time, ok bool) (time.Time, bool) {
		if !ok || last.UnixMilli() != notif.Data.Timestamp {
			return last, ok
		}
		return time.Time{}, false
	})
	e.logger.Debug().Str("identity", identity).Str("rule", string(notif.Data.Category)).Str("reason", res.Reason).Msg("alert not delivered, suppression released")
}

func claimKey(identity string, category models.AlertCategory) string {
	return identity + "|" + string(category)
}

// claim records that the rule fired now, unless it already fired within the
// repeat interval. It returns the claim time.
func (e *Engine) claim(identity string, category models.AlertCategory) (time.Time, bool) {
	now := e.opts.Now()
	if e.opts.RepeatInterval <= 0 {
		return now, true
	}
	allowed := false
	e.lastFired.Update(claimKey(identity, category), func(last time.Time, ok bool) (time.Time, bool) {
		if ok && now.Sub(last) < e.opts.RepeatInterval {
			return last, true
		}
		allowed = true
		return now, true
	})
	return now, allowed
}
