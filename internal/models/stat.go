package models

import "time"

// NotificationStatDay holds delivery counts for a single day.
type NotificationStatDay struct {
	Day        time.Time `json:"day" db:"day"`
	Total      int       `json:"total" db:"total"`
	Successful int       `json:"successful" db:"successful"`
	Failed     int       `json:"failed" db:"failed"`
}

// ReadingSummary aggregates persisted readings over a period.
type ReadingSummary struct {
	Count          int     `json:"count" db:"count"`
	AvgTemp        float64 `json:"avg_temp" db:"avg_temp"`
	AvgAirHumidity float64 `json:"avg_air_humidity" db:"avg_air_humidity"`
	MaxFlammable   float64 `json:"max_flammable_gas" db:"max_flammable_gas"`
	MaxToxic       float64 `json:"max_toxic_gas" db:"max_toxic_gas"`
}
