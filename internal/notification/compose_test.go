package notification

import (
	"testing"
	"time"

	"github.com/stanstork/sensorhub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := clock
	clock = func() time.Time { return at }
	t.Cleanup(func() { clock = prev })
}

func TestSensorAlert(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fixClock(t, at)

	n := SensorAlert(models.CategoryTemperature, 40, 35, models.RelationAbove, models.NotificationSeverityHigh)

	assert.Equal(t, "Temperature alert", n.Title)
	assert.Equal(t, "Temperature above 35. Current value: 40", n.Body)
	assert.Equal(t, "sensor-temperature", n.Tag)
	assert.False(t, n.RequireInteraction)
	assert.Len(t, n.Actions, 2)
	require.NotNil(t, n.Data.Value)
	require.NotNil(t, n.Data.Threshold)
	assert.Equal(t, 40.0, *n.Data.Value)
	assert.Equal(t, 35.0, *n.Data.Threshold)
	assert.Equal(t, models.RelationAbove, n.Data.Relation)
	assert.Equal(t, at.UnixMilli(), n.Data.Timestamp)
}

func TestSensorAlert_CriticalRequiresInteraction(t *testing.T) {
	n := SensorAlert(models.CategoryToxicGas, 30, 15, models.RelationDetected, models.NotificationSeverityCritical)
	assert.True(t, n.RequireInteraction)
	assert.Equal(t, models.NotificationSeverityCritical, n.Data.Priority)
}

func TestSensorAlert_RainHasNoThreshold(t *testing.T) {
	n := SensorAlert(models.CategoryRain, 0, 0, models.RelationStopped, models.NotificationSeverityNormal)
	assert.Equal(t, "Rain stopped.", n.Body)
	assert.Nil(t, n.Data.Threshold)
}

func TestSystemAlert(t *testing.T) {
	n := SystemAlert("Maintenance required", "No reading in the last 24 hours.", models.NotificationSeverityHigh)
	assert.Equal(t, "SensorHub - Maintenance required", n.Title)
	assert.Equal(t, "system-alert", n.Tag)
	assert.True(t, n.RequireInteraction)
	assert.Empty(t, n.Data.Category)
}

func TestDailyReport(t *testing.T) {
	stats := ReportStatsFrom(models.ReadingSummary{Count: 12, AvgTemp: 22.46, AvgAirHumidity: 55}, tempRange, humidityRange)
	n := DailyReport(stats)

	assert.Equal(t, "normal", stats.Status)
	assert.Equal(t, "daily-report", n.Tag)
	assert.Equal(t, "Temp: 22.5°C | Humidity: 55.0% | Status: normal", n.Body)
	assert.Equal(t, models.CategoryDailyReport, n.Data.Category)
}

var (
	tempRange     = models.Range{Min: 10, Max: 35}
	humidityRange = models.Range{Min: 30, Max: 80}
)

func TestReportStatsFrom_Status(t *testing.T) {
	assert.Equal(t, "no data", ReportStatsFrom(models.ReadingSummary{}, tempRange, humidityRange).Status)
	assert.Equal(t, "attention", ReportStatsFrom(models.ReadingSummary{Count: 3, AvgTemp: 38, AvgAirHumidity: 50}, tempRange, humidityRange).Status)
	assert.Equal(t, "attention", ReportStatsFrom(models.ReadingSummary{Count: 3, AvgTemp: 22, AvgAirHumidity: 25}, tempRange, humidityRange).Status)
}

func TestReportStatsFrom_UsesConfiguredRanges(t *testing.T) {
	summary := models.ReadingSummary{Count: 5, AvgTemp: 38, AvgAirHumidity: 50}

	assert.Equal(t, "normal", ReportStatsFrom(summary, models.Range{Min: 0, Max: 40}, humidityRange).Status)
	assert.Equal(t, "attention", ReportStatsFrom(summary, models.Range{Min: 0, Max: 30}, humidityRange).Status)
	assert.Equal(t, "attention", ReportStatsFrom(summary, models.Range{Min: 0, Max: 40}, models.Range{Min: 60, Max: 90}).Status)
}
