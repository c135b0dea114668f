package models

import "time"

// Reading is one timestamped snapshot of every sensor of an identity.
type Reading struct {
	Identity     string    `json:"identity" db:"identity"`
	Temp         float64   `json:"temp" db:"temp"`
	AirHumidity  float64   `json:"air_humidity" db:"air_humidity"`
	SoilHumidity float64   `json:"soil_humidity" db:"soil_humidity"`
	FlammableGas float64   `json:"flammable_gas" db:"flammable_gas"`
	ToxicGas     float64   `json:"toxic_gas" db:"toxic_gas"`
	IsRaining    bool      `json:"is_raining" db:"is_raining"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}
