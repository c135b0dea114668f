package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stanstork/sensorhub/internal/models"
)

// SubscriptionRepository manages push endpoints. An identity holds at most
// one subscription: Replace removes the previous one before inserting.
type SubscriptionRepository interface {
	ListByIdentity(ctx context.Context, identity string) ([]models.Subscription, error)
	Replace(ctx context.Context, sub models.Subscription) (models.Subscription, error)
	Delete(ctx context.Context, id string) error
	DeleteByEndpoint(ctx context.Context, identity, endpoint string) (bool, error)
	ExistsByEndpoint(ctx context.Context, identity, endpoint string) (bool, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
	ListIdentities(ctx context.Context) ([]string, error)
}

type subscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

const subscriptionColumns = `id, identity, endpoint, p256dh_key, auth_key, user_agent, created_at, last_used`

func (r *subscriptionRepository) ListByIdentity(ctx context.Context, identity string) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM push_subscriptions WHERE identity = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, errors.Wrap(err, "query subscriptions")
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate subscriptions")
	}
	return subs, nil
}

// Replace drops every subscription of the identity, and any row already
// holding the endpoint, then inserts sub.
func (r *subscriptionRepository) Replace(ctx context.Context, sub models.Subscription) (models.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Subscription{}, errors.Wrap(err, "begin subscription tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE identity = $1 OR endpoint = $2`,
		sub.Identity, sub.Endpoint,
	); err != nil {
		return models.Subscription{}, errors.Wrap(err, "delete previous subscriptions")
	}

	query := `
		INSERT INTO push_subscriptions (id, identity, endpoint, p256dh_key, auth_key, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + subscriptionColumns
	saved, err := scanSubscription(tx.QueryRowContext(ctx, query,
		sub.ID, sub.Identity, sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent,
	))
	if err != nil {
		return models.Subscription{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Subscription{}, errors.Wrap(err, "commit subscription tx")
	}
	return saved, nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	return errors.Wrap(err, "delete subscription")
}

func (r *subscriptionRepository) DeleteByEndpoint(ctx context.Context, identity, endpoint string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE identity = $1 AND endpoint = $2`,
		identity, endpoint,
	)
	if err != nil {
		return false, errors.Wrap(err, "delete subscription by endpoint")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *subscriptionRepository) ExistsByEndpoint(ctx context.Context, identity, endpoint string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM push_subscriptions WHERE identity = $1 AND endpoint = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, identity, endpoint).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check subscription")
	}
	return exists, nil
}

func (r *subscriptionRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET last_used = $2 WHERE id = $1`,
		id, at.UTC(),
	)
	return errors.Wrap(err, "touch subscription")
}

// DeleteStale removes subscriptions unused since before, together with their
// notification log entries, and returns the number of subscriptions removed.
func (r *subscriptionRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin cleanup tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM notification_log
		WHERE subscription_id IN (SELECT id FROM push_subscriptions WHERE last_used < $1)
	`, before.UTC()); err != nil {
		return 0, errors.Wrap(err, "delete stale log entries")
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE last_used < $1`, before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "delete stale subscriptions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit cleanup tx")
	}
	return n, nil
}

func (r *subscriptionRepository) ListIdentities(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT identity FROM push_subscriptions ORDER BY identity`)
	if err != nil {
		return nil, errors.Wrap(err, "query subscribed identities")
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, errors.Wrap(err, "scan identity")
		}
		identities = append(identities, identity)
	}
	return identities, errors.Wrap(rows.Err(), "iterate identities")
}

func scanSubscription(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Subscription, error) {
	var (
		sub       models.Subscription
		userAgent sql.NullString
	)
	if err := scanner.Scan(
		&sub.ID,
		&sub.Identity,
		&sub.Endpoint,
		&sub.P256dh,
		&sub.Auth,
		&userAgent,
		&sub.CreatedAt,
		&sub.LastUsed,
	); err != nil {
		return models.Subscription{}, errors.Wrap(err, "scan subscription")
	}
	sub.UserAgent = userAgent.String
	return sub, nil
}
