package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/sensorhub/internal/models"
)

// ReadingRepository persists sensor readings. Drought and maintenance checks
// go through LastReadingTime and CountRainingSince, both served by the
// (identity, recorded_at) index.
type ReadingRepository interface {
	Insert(ctx context.Context, reading models.Reading) error
	LastReadingTime(ctx context.Context, identity string) (time.Time, bool, error)
	CountRainingSince(ctx context.Context, identity string, since time.Time) (int, error)
	ListRecent(ctx context.Context, identity string, limit int) ([]models.Reading, error)
	DailySummary(ctx context.Context, identity string, since time.Time) (models.ReadingSummary, error)
	DeleteAll(ctx context.Context, identity string) (int64, error)
}

type readingRepository struct {
	db *sql.DB
}

func NewReadingRepository(db *sql.DB) ReadingRepository {
	return &readingRepository{db: db}
}

func (r *readingRepository) Insert(ctx context.Context, reading models.Reading) error {
	const query = `
		INSERT INTO readings (identity, temp, air_humidity, soil_humidity, flammable_gas, toxic_gas, is_raining, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		reading.Identity,
		reading.Temp,
		reading.AirHumidity,
		reading.SoilHumidity,
		reading.FlammableGas,
		reading.ToxicGas,
		reading.IsRaining,
		reading.Timestamp.UTC(),
	)
	return errors.Wrap(err, "insert reading")
}

func (r *readingRepository) LastReadingTime(ctx context.Context, identity string) (time.Time, bool, error) {
	const query = `SELECT MAX(recorded_at) FROM readings WHERE identity = $1`

	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, identity).Scan(&last); err != nil {
		return time.Time{}, false, errors.Wrap(err, "query last reading")
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}

func (r *readingRepository) CountRainingSince(ctx context.Context, identity string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM readings
		WHERE identity = $1 AND is_raining AND recorded_at >= $2
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, identity, since.UTC()).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count raining readings")
	}
	return count, nil
}

func (r *readingRepository) ListRecent(ctx context.Context, identity string, limit int) ([]models.Reading, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	const query = `
		SELECT identity, temp, air_humidity, soil_humidity, flammable_gas, toxic_gas, is_raining, recorded_at
		FROM readings
		WHERE identity = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, identity, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query readings")
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate readings")
	}
	return readings, nil
}

func (r *readingRepository) DailySummary(ctx context.Context, identity string, since time.Time) (models.ReadingSummary, error) {
	const query = `
		SELECT COUNT(*),
		       COALESCE(AVG(temp), 0),
		       COALESCE(AVG(air_humidity), 0),
		       COALESCE(MAX(flammable_gas), 0),
		       COALESCE(MAX(toxic_gas), 0)
		FROM readings
		WHERE identity = $1 AND recorded_at >= $2
	`
	var s models.ReadingSummary
	err := r.db.QueryRowContext(ctx, query, identity, since.UTC()).Scan(
		&s.Count,
		&s.AvgTemp,
		&s.AvgAirHumidity,
		&s.MaxFlammable,
		&s.MaxToxic,
	)
	if err != nil {
		return models.ReadingSummary{}, errors.Wrap(err, "summarize readings")
	}
	return s, nil
}

func (r *readingRepository) DeleteAll(ctx context.Context, identity string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE identity = $1`, identity)
	if err != nil {
		return 0, errors.Wrap(err, "delete readings")
	}
	return res.RowsAffected()
}

func scanReading(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Reading, error) {
	var reading models.Reading
	if err := scanner.Scan(
		&reading.Identity,
		&reading.Temp,
		&reading.AirHumidity,
		&reading.SoilHumidity,
		&reading.FlammableGas,
		&reading.ToxicGas,
		&reading.IsRaining,
		&reading.Timestamp,
	); err != nil {
		return models.Reading{}, errors.Wrap(err, "scan reading")
	}
	return reading, nil
}
