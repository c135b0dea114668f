package models

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// NotificationSettings is the fully resolved, typed per-identity configuration.
type NotificationSettings struct {
	PushEnabled  bool `json:"push_enabled"`
	DailyReports bool `json:"daily_reports"`

	HumidityAlerts     bool  `json:"humidity_alerts_enabled"`
	Humidity           Range `json:"humidity"`
	SoilHumidityAlerts bool  `json:"soil_humidity_alerts_enabled"`
	SoilHumidity       Range `json:"soil_humidity"`
	TemperatureAlerts  bool  `json:"temperature_alerts_enabled"`
	Temperature        Range `json:"temperature"`

	RainAlerts     bool `json:"rain_alerts_enabled"`
	RainStartAlert bool `json:"rain_start_alert"`
	RainStopAlert  bool `json:"rain_stop_alert"`
	NoRainDays     int  `json:"no_rain_days"`

	GasAlerts             bool    `json:"gas_alerts_enabled"`
	FlammableGasThreshold float64 `json:"inflammable_gas_threshold"`
	ToxicGasThreshold     float64 `json:"toxic_gas_threshold"`
	CriticalGasAlert      bool    `json:"critical_gas_alert"`

	MaintenanceAlerts bool          `json:"maintenance_alerts"`
	QuietHoursStart   TimeOfDay     `json:"quiet_hours_start"`
	QuietHoursEnd     TimeOfDay     `json:"quiet_hours_end"`
	RecordInterval    time.Duration `json:"-"`
}

// InQuietHours reports whether the minute-of-day now falls inside the
// configured window. A window whose end precedes its start wraps midnight.
func (s NotificationSettings) InQuietHours(now TimeOfDay) bool {
	start, end := s.QuietHoursStart, s.QuietHoursEnd
	if end < start {
		return now >= start || now <= end
	}
	return now >= start && now <= end
}
