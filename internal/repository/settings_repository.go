package repository

import (
	"context"
	"database/sql"
	"sort"

	"github.com/pkg/errors"
)

// SettingsRepository stores free-form per-identity key/value configuration.
type SettingsRepository interface {
	List(ctx context.Context, identity string) (map[string]string, error)
	Get(ctx context.Context, identity, key string) (string, bool, error)
	Upsert(ctx context.Context, identity, key, value string) error
	UpsertMany(ctx context.Context, identity string, values map[string]string) error
}

type settingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

const upsertSettingQuery = `
	INSERT INTO settings (identity, key, value, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (identity, key) DO UPDATE
	SET value = EXCLUDED.value, updated_at = NOW()
`

func (r *settingsRepository) List(ctx context.Context, identity string) (map[string]string, error) {
	const query = `SELECT key, value FROM settings WHERE identity = $1`

	rows, err := r.db.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, errors.Wrap(err, "query settings")
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "scan setting")
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate settings")
	}
	return values, nil
}

func (r *settingsRepository) Get(ctx context.Context, identity, key string) (string, bool, error) {
	const query = `SELECT value FROM settings WHERE identity = $1 AND key = $2`

	var value string
	err := r.db.QueryRowContext(ctx, query, identity, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get setting %s", key)
	}
	return value, true, nil
}

func (r *settingsRepository) Upsert(ctx context.Context, identity, key, value string) error {
	if _, err := r.db.ExecContext(ctx, upsertSettingQuery, identity, key, value); err != nil {
		return errors.Wrapf(err, "upsert setting %s", key)
	}
	return nil
}

// UpsertMany writes all values in a single transaction, in key order.
func (r *settingsRepository) UpsertMany(ctx context.Context, identity string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin settings tx")
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, upsertSettingQuery, identity, k, values[k]); err != nil {
			return errors.Wrapf(err, "upsert setting %s", k)
		}
	}
	return errors.Wrap(tx.Commit(), "commit settings tx")
}
