package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/stanstork/sensorhub/internal/models"
)

// Measurement is a sensor value that devices may send as a JSON number or a
// numeric string.
type Measurement float64

func (m *Measurement) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*m = Measurement(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Measurement(v)
	return nil
}

// RawReading is an unvalidated reading as received from any transport.
// Live messages carry the identity; device messages carry a token.
type RawReading struct {
	Identity     string       `json:"email,omitempty"`
	Token        string       `json:"token,omitempty"`
	Temp         *Measurement `json:"temp"`
	AirHumidity  *Measurement `json:"air_humidity"`
	SoilHumidity *Measurement `json:"soil_humidity"`
	FlammableGas *Measurement `json:"flammable_gas"`
	ToxicGas     *Measurement `json:"toxic_gas"`
	IsRaining    *Measurement `json:"is_raining"`
}

type rawReadingJSON RawReading

// legacyReading holds the field names older firmware and the original live
// page send.
type legacyReading struct {
	AirHumidity  *Measurement `json:"umidAr"`
	SoilHumidity *Measurement `json:"umidSolo"`
	FlammableGas *Measurement `json:"gasInflamavel"`
	ToxicGas     *Measurement `json:"gasToxico"`
	IsRaining    *Measurement `json:"estaChovendo"`
}

// UnmarshalJSON accepts the snake_case fields and their legacy camelCase
// names. When both are present the snake_case value wins.
func (raw *RawReading) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, (*rawReadingJSON)(raw)); err != nil {
		return err
	}
	var legacy legacyReading
	if err := json.Unmarshal(b, &legacy); err != nil {
		return err
	}
	fallback(&raw.AirHumidity, legacy.AirHumidity)
	fallback(&raw.SoilHumidity, legacy.SoilHumidity)
	fallback(&raw.FlammableGas, legacy.FlammableGas)
	fallback(&raw.ToxicGas, legacy.ToxicGas)
	fallback(&raw.IsRaining, legacy.IsRaining)
	return nil
}

func fallback(dst **Measurement, v *Measurement) {
	if *dst == nil {
		*dst = v
	}
}

// Bounds are the accepted ranges for each sensor.
type Bounds struct {
	TemperatureMin float64
	TemperatureMax float64
}

func DefaultBounds() Bounds {
	return Bounds{TemperatureMin: 0, TemperatureMax: 50}
}

// validate checks presence, finiteness and ranges, and returns the reading
// without identity or timestamp.
func (raw RawReading) validate(b Bounds) (models.Reading, error) {
	var r models.Reading
	checks := []struct {
		name     string
		v        *Measurement
		min, max float64
		dst      *float64
	}{
		{"temp", raw.Temp, b.TemperatureMin, b.TemperatureMax, &r.Temp},
		{"air_humidity", raw.AirHumidity, 0, 100, &r.AirHumidity},
		{"soil_humidity", raw.SoilHumidity, 0, 100, &r.SoilHumidity},
		{"flammable_gas", raw.FlammableGas, 0, 100, &r.FlammableGas},
		{"toxic_gas", raw.ToxicGas, 0, 100, &r.ToxicGas},
	}

	for _, c := range checks {
		if c.v == nil {
			return models.Reading{}, &ValidationError{Field: c.name, Reason: "missing"}
		}
		v := float64(*c.v)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Reading{}, &ValidationError{Field: c.name, Reason: "not a finite number"}
		}
		if v < c.min || v > c.max {
			return models.Reading{}, &ValidationError{
				Field:  c.name,
				Reason: fmt.Sprintf("out of range [%g, %g]", c.min, c.max),
			}
		}
		*c.dst = v
	}

	if raw.IsRaining == nil {
		return models.Reading{}, &ValidationError{Field: "is_raining", Reason: "missing"}
	}
	switch *raw.IsRaining {
	case 0:
	case 1:
		r.IsRaining = true
	default:
		return models.Reading{}, &ValidationError{Field: "is_raining", Reason: "must be 0 or 1"}
	}
	return r, nil
}

// canonical stamps a validated reading for persistence and fan-out.
func canonical(identity string, r models.Reading, at time.Time) models.Reading {
	r.Identity = identity
	r.Timestamp = at.UTC()
	return r
}
