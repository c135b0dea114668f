// Package settings turns stored per-identity key/value rows into a typed,
// fully defaulted models.NotificationSettings.
package settings

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/sensorhub/internal/models"
)

// Store is the key/value persistence the resolver reads and writes.
type Store interface {
	List(ctx context.Context, identity string) (map[string]string, error)
	UpsertMany(ctx context.Context, identity string, values map[string]string) error
}

const (
	KeyPushEnabled    = "push_enabled"
	KeyRecordInterval = "delay"

	MinRecordInterval = 10 * time.Minute
	MaxRecordInterval = 180 * time.Minute
)

// ErrUnknownKey is returned by Update for keys missing from the table.
var ErrUnknownKey = errors.New("unknown setting key")

type field struct {
	key   string
	alias string
	def   string
	apply func(s *models.NotificationSettings, raw string) error
}

func boolField(key, alias, def string, dst func(*models.NotificationSettings) *bool) field {
	return field{key: key, alias: alias, def: def, apply: func(s *models.NotificationSettings, raw string) error {
		v, err := parseBool(raw)
		if err != nil {
			return err
		}
		*dst(s) = v
		return nil
	}}
}

func floatField(key, alias, def string, dst func(*models.NotificationSettings) *float64) field {
	return field{key: key, alias: alias, def: def, apply: func(s *models.NotificationSettings, raw string) error {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("not a number: %q", raw)
		}
		*dst(s) = v
		return nil
	}}
}

func timeField(key, alias, def string, dst func(*models.NotificationSettings) *models.TimeOfDay) field {
	return field{key: key, alias: alias, def: def, apply: func(s *models.NotificationSettings, raw string) error {
		v, err := models.ParseTimeOfDay(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		*dst(s) = v
		return nil
	}}
}

// fields is the single source of truth for keys, legacy aliases and defaults.
var fields = []field{
	boolField(KeyPushEnabled, "enableNotifications", "false", func(s *models.NotificationSettings) *bool { return &s.PushEnabled }),
	boolField("daily_reports", "dailyReports", "false", func(s *models.NotificationSettings) *bool { return &s.DailyReports }),

	boolField("humidity_alerts_enabled", "humidityAlertsEnabled", "false", func(s *models.NotificationSettings) *bool { return &s.HumidityAlerts }),
	floatField("humidity_min", "humidityMin", "30", func(s *models.NotificationSettings) *float64 { return &s.Humidity.Min }),
	floatField("humidity_max", "humidityMax", "80", func(s *models.NotificationSettings) *float64 { return &s.Humidity.Max }),
	boolField("soil_humidity_alerts_enabled", "soilHumidityAlertsEnabled", "false", func(s *models.NotificationSettings) *bool { return &s.SoilHumidityAlerts }),
	floatField("soil_humidity_min", "soilHumidityMin", "20", func(s *models.NotificationSettings) *float64 { return &s.SoilHumidity.Min }),
	floatField("soil_humidity_max", "soilHumidityMax", "90", func(s *models.NotificationSettings) *float64 { return &s.SoilHumidity.Max }),
	boolField("temperature_alerts_enabled", "temperatureAlertsEnabled", "false", func(s *models.NotificationSettings) *bool { return &s.TemperatureAlerts }),
	floatField("temperature_min", "temperatureMin", "10", func(s *models.NotificationSettings) *float64 { return &s.Temperature.Min }),
	floatField("temperature_max", "temperatureMax", "35", func(s *models.NotificationSettings) *float64 { return &s.Temperature.Max }),

	boolField("rain_alerts_enabled", "rainAlertsEnabled", "false", func(s *models.NotificationSettings) *bool { return &s.RainAlerts }),
	boolField("rain_start_alert", "rainStartAlert", "false", func(s *models.NotificationSettings) *bool { return &s.RainStartAlert }),
	boolField("rain_stop_alert", "rainStopAlert", "false", func(s *models.NotificationSettings) *bool { return &s.RainStopAlert }),
	{key: "no_rain_days", alias: "noRainDays", def: "7", apply: func(s *models.NotificationSettings, raw string) error {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || v < 1 {
			return fmt.Errorf("not a positive day count: %q", raw)
		}
		s.NoRainDays = v
		return nil
	}},

	boolField("gas_alerts_enabled", "gasAlertsEnabled", "false", func(s *models.NotificationSettings) *bool { return &s.GasAlerts }),
	floatField("inflammable_gas_threshold", "inflammableGasThreshold", "20", func(s *models.NotificationSettings) *float64 { return &s.FlammableGasThreshold }),
	floatField("toxic_gas_threshold", "toxicGasThreshold", "15", func(s *models.NotificationSettings) *float64 { return &s.ToxicGasThreshold }),
	boolField("critical_gas_alert", "criticalGasAlert", "false", func(s *models.NotificationSettings) *bool { return &s.CriticalGasAlert }),

	// Maintenance alerts are opt-out.
	boolField("maintenance_alerts", "maintenanceAlerts", "true", func(s *models.NotificationSettings) *bool { return &s.MaintenanceAlerts }),
	timeField("quiet_hours_start", "quietHoursStart", "22:00", func(s *models.NotificationSettings) *models.TimeOfDay { return &s.QuietHoursStart }),
	timeField("quiet_hours_end", "quietHoursEnd", "07:00", func(s *models.NotificationSettings) *models.TimeOfDay { return &s.QuietHoursEnd }),

	{key: KeyRecordInterval, def: strconv.FormatInt(int64(10*time.Minute/time.Millisecond), 10), apply: func(s *models.NotificationSettings, raw string) error {
		ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || ms <= 0 {
			return fmt.Errorf("not a positive millisecond count: %q", raw)
		}
		s.RecordInterval = time.Duration(ms) * time.Millisecond
		return nil
	}},
}

var byName = func() map[string]*field {
	m := make(map[string]*field, 2*len(fields))
	for i := range fields {
		f := &fields[i]
		m[f.key] = f
		if f.alias != "" {
			m[f.alias] = f
		}
	}
	return m
}()

var defaults = func() models.NotificationSettings {
	var s models.NotificationSettings
	for _, f := range fields {
		if err := f.apply(&s, f.def); err != nil {
			panic(fmt.Sprintf("settings: bad default for %s: %v", f.key, err))
		}
	}
	return s
}()

// Defaults returns the settings an identity without stored rows receives.
func Defaults() models.NotificationSettings {
	return defaults
}

// Apply overlays raw rows onto the defaults. The canonical key wins over its
// legacy alias; unknown keys and values that fail coercion are ignored.
func Apply(rows map[string]string) models.NotificationSettings {
	s := defaults
	for _, f := range fields {
		raw, ok := rows[f.key]
		if !ok && f.alias != "" {
			raw, ok = rows[f.alias]
		}
		if !ok {
			continue
		}
		_ = f.apply(&s, raw)
	}
	return s
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the identity's settings. Only a store failure is an error.
func (r *Resolver) Resolve(ctx context.Context, identity string) (models.NotificationSettings, error) {
	rows, err := r.store.List(ctx, identity)
	if err != nil {
		return models.NotificationSettings{}, errors.Wrapf(err, "load settings for %s", identity)
	}
	return Apply(rows), nil
}

// Update validates and stores the given values under their canonical keys.
// Keys may be canonical names or legacy aliases.
func (r *Resolver) Update(ctx context.Context, identity string, values map[string]any) error {
	normalized := make(map[string]string, len(values))
	scratch := defaults
	for name, v := range values {
		f, ok := byName[name]
		if !ok {
			return errors.Wrap(ErrUnknownKey, name)
		}
		raw := formatValue(v)
		if err := f.apply(&scratch, raw); err != nil {
			return &InvalidValueError{Key: f.key, Err: err}
		}
		normalized[f.key] = raw
	}
	return r.store.UpsertMany(ctx, identity, normalized)
}

// SetRecordInterval stores the identity's throttle window.
func (r *Resolver) SetRecordInterval(ctx context.Context, identity string, d time.Duration) error {
	if d < MinRecordInterval || d > MaxRecordInterval {
		return &InvalidValueError{
			Key: KeyRecordInterval,
			Err: fmt.Errorf("must be between %s and %s", MinRecordInterval, MaxRecordInterval),
		}
	}
	return r.store.UpsertMany(ctx, identity, map[string]string{
		KeyRecordInterval: strconv.FormatInt(d.Milliseconds(), 10),
	})
}

// InvalidValueError reports a value that cannot be coerced to its key's type.
type InvalidValueError struct {
	Key string
	Err error
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %v", e.Key, e.Err)
}

func (e *InvalidValueError) Unwrap() error { return e.Err }

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "on", "yes":
		return true, nil
	case "false", "0", "off", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", raw)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
