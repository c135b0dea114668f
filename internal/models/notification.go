package models

import (
	"encoding/json"
	"time"
)

type NotificationSeverity string

const (
	NotificationSeverityNormal   NotificationSeverity = "normal"
	NotificationSeverityHigh     NotificationSeverity = "high"
	NotificationSeverityCritical NotificationSeverity = "critical"
	NotificationSeverityUrgent   NotificationSeverity = "urgent"
)

// AlertCategory names the rule family that produced a notification.
type AlertCategory string

const (
	CategoryTemperature  AlertCategory = "temperature"
	CategoryHumidity     AlertCategory = "humidity"
	CategorySoilHumidity AlertCategory = "soil_humidity"
	CategoryFlammableGas AlertCategory = "flammable_gas"
	CategoryToxicGas     AlertCategory = "toxic_gas"
	CategoryRain         AlertCategory = "rain"
	CategoryDrought      AlertCategory = "drought"
	CategoryMaintenance  AlertCategory = "maintenance"
	CategoryDailyReport  AlertCategory = "daily_report"
)

// AlertRelation describes how a value relates to its threshold.
type AlertRelation string

const (
	RelationBelow    AlertRelation = "below"
	RelationAbove    AlertRelation = "above"
	RelationDetected AlertRelation = "detected"
	RelationStarted  AlertRelation = "started"
	RelationStopped  AlertRelation = "stopped"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type NotificationData struct {
	URL       string               `json:"url"`
	Category  AlertCategory        `json:"category,omitempty"`
	Value     *float64             `json:"value,omitempty"`
	Threshold *float64             `json:"threshold,omitempty"`
	Relation  AlertRelation        `json:"relation,omitempty"`
	Priority  NotificationSeverity `json:"priority"`
	Timestamp int64                `json:"timestamp"`
}

// Notification is the payload handed to the browser service worker.
type Notification struct {
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon"`
	Badge              string               `json:"badge,omitempty"`
	Tag                string               `json:"tag"`
	RequireInteraction bool                 `json:"requireInteraction"`
	Actions            []NotificationAction `json:"actions,omitempty"`
	Data               NotificationData     `json:"data"`
}

type NotificationLogEntry struct {
	ID             int64           `json:"id" db:"id"`
	Identity       string          `json:"identity" db:"identity"`
	SubscriptionID *string         `json:"subscription_id,omitempty" db:"subscription_id"`
	Title          string          `json:"title" db:"title"`
	Body           string          `json:"body" db:"body"`
	Data           json.RawMessage `json:"data,omitempty" db:"data"`
	SentAt         time.Time       `json:"sent_at" db:"sent_at"`
	Success        bool            `json:"success" db:"success"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
}
