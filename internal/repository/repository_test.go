package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stanstork/sensorhub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestSettingsRepository_List(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSettingsRepository(db)

	mock.ExpectQuery(q("SELECT key, value FROM settings WHERE identity = $1")).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("temperature_max", "35").
			AddRow("enableNotifications", "true"))

	values, err := repo.List(context.Background(), "a@x.com")

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"temperature_max": "35", "enableNotifications": "true"}, values)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepository_GetMissing(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSettingsRepository(db)

	mock.ExpectQuery(q("SELECT value FROM settings")).
		WithArgs("a@x.com", "delay").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := repo.Get(context.Background(), "a@x.com", "delay")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepository_UpsertManyInOneTransaction(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSettingsRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO settings")).
		WithArgs("a@x.com", "humidity_max", "70").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO settings")).
		WithArgs("a@x.com", "push_enabled", "true").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpsertMany(context.Background(), "a@x.com", map[string]string{
		"push_enabled": "true",
		"humidity_max": "70",
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadingRepository_Insert(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReadingRepository(db)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(q("INSERT INTO readings")).
		WithArgs("a@x.com", 21.5, 60.0, 40.0, 3.0, 1.0, true, ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Insert(context.Background(), models.Reading{
		Identity: "a@x.com", Temp: 21.5, AirHumidity: 60, SoilHumidity: 40,
		FlammableGas: 3, ToxicGas: 1, IsRaining: true, Timestamp: ts,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadingRepository_LastReadingTime(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReadingRepository(db)

	mock.ExpectQuery(q("SELECT MAX(recorded_at) FROM readings")).
		WithArgs("empty@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	_, ok, err := repo.LastReadingTime(context.Background(), "empty@x.com")
	require.NoError(t, err)
	assert.False(t, ok)

	last := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q("SELECT MAX(recorded_at) FROM readings")).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(last))

	got, ok, err := repo.LastReadingTime(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, last, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadingRepository_CountRainingSince(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReadingRepository(db)

	mock.ExpectQuery(q("WHERE identity = $1 AND is_raining AND recorded_at >= $2")).
		WithArgs("a@x.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountRainingSince(context.Background(), "a@x.com", time.Now().Add(-7*24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_ReplaceLeavesOneRow(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSubscriptionRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM push_subscriptions WHERE identity = $1 OR endpoint = $2")).
		WithArgs("a@x.com", "https://push.example/new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO push_subscriptions")).
		WithArgs(sqlmock.AnyArg(), "a@x.com", "https://push.example/new", "p256", "auth", "Firefox").
		WillReturnRows(sqlmock.NewRows([]string{"id", "identity", "endpoint", "p256dh_key", "auth_key", "user_agent", "created_at", "last_used"}).
			AddRow("sub-2", "a@x.com", "https://push.example/new", "p256", "auth", "Firefox", now, now))
	mock.ExpectCommit()

	saved, err := repo.Replace(context.Background(), models.Subscription{
		Identity: "a@x.com", Endpoint: "https://push.example/new", P256dh: "p256", Auth: "auth", UserAgent: "Firefox",
	})

	require.NoError(t, err)
	assert.Equal(t, "sub-2", saved.ID)
	assert.Equal(t, "https://push.example/new", saved.Endpoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_ReplaceRollsBackOnInsertFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSubscriptionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM push_subscriptions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO push_subscriptions")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.Replace(context.Background(), models.Subscription{Identity: "a@x.com", Endpoint: "e"})

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_ListByIdentity(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSubscriptionRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(q("FROM push_subscriptions WHERE identity = $1")).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "identity", "endpoint", "p256dh_key", "auth_key", "user_agent", "created_at", "last_used"}).
			AddRow("sub-1", "a@x.com", "https://push.example/1", "k", "a", nil, now, now))

	subs, err := repo.ListByIdentity(context.Background(), "a@x.com")

	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "", subs[0].UserAgent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_DeleteStaleRemovesLogEntries(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSubscriptionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM notification_log")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(q("DELETE FROM push_subscriptions WHERE last_used < $1")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := repo.DeleteStale(context.Background(), time.Now().Add(-30*24*time.Hour))

	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_DeleteByEndpoint(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSubscriptionRepository(db)

	mock.ExpectExec(q("DELETE FROM push_subscriptions WHERE identity = $1 AND endpoint = $2")).
		WithArgs("a@x.com", "https://push.example/1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.DeleteByEndpoint(context.Background(), "a@x.com", "https://push.example/1")

	require.NoError(t, err)
	assert.False(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationLogRepository_AppendFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewNotificationLogRepository(db)

	subID := "sub-1"
	msg := "push endpoint returned 410"
	now := time.Now().UTC()
	mock.ExpectQuery(q("INSERT INTO notification_log")).
		WithArgs("a@x.com", subID, "Title", "Body", []byte(`{"url":"/dados"}`), false, msg).
		WillReturnRows(sqlmock.NewRows([]string{"id", "identity", "subscription_id", "title", "body", "data", "sent_at", "success", "error_message"}).
			AddRow(int64(7), "a@x.com", subID, "Title", "Body", []byte(`{"url":"/dados"}`), now, false, msg))

	entry, err := repo.Append(context.Background(), models.NotificationLogEntry{
		Identity:       "a@x.com",
		SubscriptionID: &subID,
		Title:          "Title",
		Body:           "Body",
		Data:           []byte(`{"url":"/dados"}`),
		Success:        false,
		ErrorMessage:   &msg,
	})

	require.NoError(t, err)
	assert.EqualValues(t, 7, entry.ID)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, msg, *entry.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationLogRepository_DailyStats(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewNotificationLogRepository(db)

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q("GROUP BY DATE(sent_at)")).
		WithArgs("a@x.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"day", "total", "successful", "failed"}).
			AddRow(day, 5, 4, 1))

	stats, err := repo.DailyStats(context.Background(), "a@x.com", day.Add(-7*24*time.Hour))

	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 5, stats[0].Total)
	assert.Equal(t, 1, stats[0].Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ResolveIdentityByToken(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery(q("SELECT email FROM users WHERE token = $1")).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("a@x.com"))
	mock.ExpectQuery(q("SELECT email FROM users WHERE token = $1")).
		WithArgs("bogus").
		WillReturnError(sql.ErrNoRows)

	identity, ok, err := repo.ResolveIdentityByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a@x.com", identity)

	_, ok, err = repo.ResolveIdentityByToken(context.Background(), "bogus")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = repo.ResolveIdentityByToken(context.Background(), "  ")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_RegenerateToken(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectExec(q("UPDATE users SET token = $2 WHERE email = $1")).
		WithArgs("a@x.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, err := repo.RegenerateToken(context.Background(), "a@x.com")

	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_GetByEmail(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery(q("SELECT id, email, token FROM users WHERE email = $1")).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "token"}).AddRow("u1", "a@x.com", "tok"))
	mock.ExpectQuery(q("SELECT id, email, token FROM users WHERE email = $1")).
		WithArgs("ghost@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "token"}))

	account, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", account.ID)
	assert.Equal(t, "tok", account.DeviceToken)

	_, err = repo.GetByEmail(context.Background(), "ghost@x.com")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.NoError(t, mock.ExpectationsWereMet())
}
