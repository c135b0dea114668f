package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/stanstork/sensorhub/internal/models"
)

// AccountRepository exposes the slice of the users table the ingestion core
// reads. Registration and passwords live outside this service.
type AccountRepository interface {
	ResolveIdentityByToken(ctx context.Context, token string) (string, bool, error)
	GetByEmail(ctx context.Context, email string) (models.Account, error)
	RegenerateToken(ctx context.Context, email string) (string, error)
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) ResolveIdentityByToken(ctx context.Context, token string) (string, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false, nil
	}

	var email string
	err := r.db.QueryRowContext(ctx, `SELECT email FROM users WHERE token = $1`, token).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "resolve device token")
	}
	return email, true, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (models.Account, error) {
	var (
		account models.Account
		token   sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, token FROM users WHERE email = $1`, email,
	).Scan(&account.ID, &account.Email, &token)
	if err != nil {
		return models.Account{}, err
	}
	account.DeviceToken = token.String
	return account, nil
}

// RegenerateToken issues a fresh device token, invalidating the old one.
func (r *accountRepository) RegenerateToken(ctx context.Context, email string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate token")
	}
	token := hex.EncodeToString(buf)

	res, err := r.db.ExecContext(ctx, `UPDATE users SET token = $2 WHERE email = $1`, email, token)
	if err != nil {
		return "", errors.Wrap(err, "store token")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if rows == 0 {
		return "", sql.ErrNoRows
	}
	return token, nil
}
