package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/sensorhub/internal/models"
)

// NotificationLogRepository is the append-only record of delivery attempts.
type NotificationLogRepository interface {
	Append(ctx context.Context, entry models.NotificationLogEntry) (models.NotificationLogEntry, error)
	ListRecent(ctx context.Context, identity string, limit int) ([]models.NotificationLogEntry, error)
	DailyStats(ctx context.Context, identity string, since time.Time) ([]models.NotificationStatDay, error)
}

type notificationLogRepository struct {
	db *sql.DB
}

func NewNotificationLogRepository(db *sql.DB) NotificationLogRepository {
	return &notificationLogRepository{db: db}
}

const logColumns = `id, identity, subscription_id, title, body, data, sent_at, success, error_message`

func (r *notificationLogRepository) Append(ctx context.Context, entry models.NotificationLogEntry) (models.NotificationLogEntry, error) {
	query := `
		INSERT INTO notification_log (identity, subscription_id, title, body, data, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + logColumns

	var subscriptionID interface{}
	if entry.SubscriptionID != nil && strings.TrimSpace(*entry.SubscriptionID) != "" {
		subscriptionID = *entry.SubscriptionID
	}

	var data interface{}
	if len(entry.Data) > 0 {
		data = []byte(entry.Data)
	}

	var errMsg interface{}
	if entry.ErrorMessage != nil {
		errMsg = *entry.ErrorMessage
	}

	row := r.db.QueryRowContext(ctx, query,
		entry.Identity, subscriptionID, entry.Title, entry.Body, data, entry.Success, errMsg,
	)
	return scanLogEntry(row)
}

func (r *notificationLogRepository) ListRecent(ctx context.Context, identity string, limit int) ([]models.NotificationLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT ` + logColumns + `
		FROM notification_log
		WHERE identity = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, identity, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query notification log")
	}
	defer rows.Close()

	var entries []models.NotificationLogEntry
	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate notification log")
	}
	return entries, nil
}

func (r *notificationLogRepository) DailyStats(ctx context.Context, identity string, since time.Time) ([]models.NotificationStatDay, error) {
	const query = `
		SELECT DATE(sent_at) AS day,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE success) AS successful,
		       COUNT(*) FILTER (WHERE NOT success) AS failed
		FROM notification_log
		WHERE identity = $1 AND sent_at >= $2
		GROUP BY DATE(sent_at)
		ORDER BY day DESC
	`
	rows, err := r.db.QueryContext(ctx, query, identity, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "query notification stats")
	}
	defer rows.Close()

	var stats []models.NotificationStatDay
	for rows.Next() {
		var day models.NotificationStatDay
		if err := rows.Scan(&day.Day, &day.Total, &day.Successful, &day.Failed); err != nil {
			return nil, errors.Wrap(err, "scan notification stats")
		}
		stats = append(stats, day)
	}
	return stats, errors.Wrap(rows.Err(), "iterate notification stats")
}

func scanLogEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (models.NotificationLogEntry, error) {
	var (
		entry          models.NotificationLogEntry
		subscriptionID sql.NullString
		dataRaw        []byte
		errMsg         sql.NullString
	)

	if err := scanner.Scan(
		&entry.ID,
		&entry.Identity,
		&subscriptionID,
		&entry.Title,
		&entry.Body,
		&dataRaw,
		&entry.SentAt,
		&entry.Success,
		&errMsg,
	); err != nil {
		return models.NotificationLogEntry{}, errors.Wrap(err, "scan notification log entry")
	}

	if subscriptionID.Valid {
		val := subscriptionID.String
		entry.SubscriptionID = &val
	}
	if len(dataRaw) > 0 {
		entry.Data = dataRaw
	}
	if errMsg.Valid {
		val := errMsg.String
		entry.ErrorMessage = &val
	}
	return entry, nil
}
