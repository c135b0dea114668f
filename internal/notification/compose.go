package notification

import (
	"fmt"
	"strconv"
	"time"

	"github.com/stanstork/sensorhub/internal/models"
)

const (
	appName   = "SensorHub"
	iconPath  = "/icon-192x192.png"
	badgePath = "/badge-72x72.png"
	dataURL   = "/dados"
)

var clock = time.Now

var categoryNames = map[models.AlertCategory]string{
	models.CategoryTemperature:  "Temperature",
	models.CategoryHumidity:     "Air humidity",
	models.CategorySoilHumidity: "Soil humidity",
	models.CategoryFlammableGas: "Flammable gas",
	models.CategoryToxicGas:     "Toxic gas",
	models.CategoryRain:         "Rain",
}

var defaultActions = []models.NotificationAction{
	{Action: "view", Title: "View data"},
	{Action: "dismiss", Title: "Dismiss"},
}

// SensorAlert builds the notification for a reading that crossed a threshold.
// Rain alerts carry no threshold.
func SensorAlert(category models.AlertCategory, value, threshold float64, relation models.AlertRelation, severity models.NotificationSeverity) models.Notification {
	name, ok := categoryNames[category]
	if !ok {
		name = string(category)
	}

	data := models.NotificationData{
		URL:       dataURL,
		Category:  category,
		Value:     &value,
		Relation:  relation,
		Priority:  severity,
		Timestamp: clock().UnixMilli(),
	}

	var body string
	if category == models.CategoryRain {
		body = fmt.Sprintf("%s %s.", name, relation)
	} else {
		data.Threshold = &threshold
		body = fmt.Sprintf("%s %s %s. Current value: %s", name, relation, formatNumber(threshold), formatNumber(value))
	}

	return models.Notification{
		Title:              fmt.Sprintf("%s alert", name),
		Body:               body,
		Icon:               iconPath,
		Badge:              badgePath,
		Tag:                "sensor-" + string(category),
		RequireInteraction: urgent(severity),
		Actions:            defaultActions,
		Data:               data,
	}
}

// SystemAlert builds an alert that is not tied to a single sensor value.
func SystemAlert(title, body string, priority models.NotificationSeverity) models.Notification {
	return models.Notification{
		Title:              fmt.Sprintf("%s - %s", appName, title),
		Body:               body,
		Icon:               iconPath,
		Badge:              badgePath,
		Tag:                "system-alert",
		RequireInteraction: priority != models.NotificationSeverityNormal,
		Data: models.NotificationData{
			URL:       dataURL,
			Priority:  priority,
			Timestamp: clock().UnixMilli(),
		},
	}
}

type ReportStats struct {
	Readings       int
	AvgTemp        float64
	AvgAirHumidity float64
	Status         string
}

// ReportStatsFrom derives a daily report from a reading summary. The status
// is "attention" when either average leaves the identity's configured range.
func ReportStatsFrom(s models.ReadingSummary, temp, humidity models.Range) ReportStats {
	status := "normal"
	switch {
	case s.Count == 0:
		status = "no data"
	case outside(s.AvgTemp, temp) || outside(s.AvgAirHumidity, humidity):
		status = "attention"
	}
	return ReportStats{
		Readings:       s.Count,
		AvgTemp:        s.AvgTemp,
		AvgAirHumidity: s.AvgAirHumidity,
		Status:         status,
	}
}

func DailyReport(stats ReportStats) models.Notification {
	return models.Notification{
		Title: fmt.Sprintf("Daily report - %s", appName),
		Body: fmt.Sprintf("Temp: %.1f°C | Humidity: %.1f%% | Status: %s",
			stats.AvgTemp, stats.AvgAirHumidity, stats.Status),
		Icon:  iconPath,
		Badge: badgePath,
		Tag:   "daily-report",
		Data: models.NotificationData{
			URL:       dataURL,
			Category:  models.CategoryDailyReport,
			Priority:  models.NotificationSeverityNormal,
			Timestamp: clock().UnixMilli(),
		},
	}
}

func outside(v float64, r models.Range) bool {
	return v < r.Min || v > r.Max
}

func urgent(s models.NotificationSeverity) bool {
	return s == models.NotificationSeverityCritical || s == models.NotificationSeverityUrgent
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
