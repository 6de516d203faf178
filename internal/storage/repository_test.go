package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var productColumns = []string{"product_id", "current_price", "highest_price", "lowest_price", "last_updated"}

var subscriptionColumns = []string{
	"preference_id", "product_id", "email", "time_interval_hours", "price_threshold",
	"notify_on_lowest", "notify_on_highest", "last_notified", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Store{db: mock}, mock
}

func sql(q string) string {
	return regexp.QuoteMeta(q)
}

func TestStoreUpsertObservation(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(sql(seedProductSQL)).
		WithArgs(int64(5), "90", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(sql(insertObservationSQL)).
		WithArgs(int64(5), "90", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sql(aggregateSavepointSQL)).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery(sql(updateAggregateSQL)).
		WithArgs(int64(5), "90", at).
		WillReturnRows(pgxmock.NewRows(productColumns).AddRow(int64(5), "90.00", "100.00", "90.00", at))
	mock.ExpectCommit()

	product, err := store.UpsertObservation(context.Background(), 5, decimal.NewFromInt(90), at)
	require.NoError(t, err)
	assert.Equal(t, int64(5), product.ProductID)
	assert.True(t, product.HighestPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, product.LowestPrice.Equal(decimal.NewFromInt(90)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpsertObservationKeepsHistoryWhenAggregateFails(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(sql(seedProductSQL)).
		WithArgs(int64(5), "90", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(sql(insertObservationSQL)).
		WithArgs(int64(5), "90", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sql(aggregateSavepointSQL)).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery(sql(updateAggregateSQL)).
		WithArgs(int64(5), "90", at).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectExec(sql(rollbackAggregateSavepointSQL)).
		WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectCommit()

	_, err := store.UpsertObservation(context.Background(), 5, decimal.NewFromInt(90), at)
	assert.ErrorIs(t, err, ErrAggregateStale)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpsertObservationRollsBackOnHistoryFailure(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(sql(seedProductSQL)).
		WithArgs(int64(5), "90", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(sql(insertObservationSQL)).
		WithArgs(int64(5), "90", at).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.UpsertObservation(context.Background(), 5, decimal.NewFromInt(90), at)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAggregateStale)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetProductNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(sql(getProductSQL)).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetProduct(context.Background(), 404)
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListHistory(t *testing.T) {
	store, mock := newMockStore(t)
	t0 := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(sql(listHistorySQL)).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"history_id", "product_id", "price", "recorded_at"}).
			AddRow(int64(2), int64(5), "90.00", t0.Add(time.Hour)).
			AddRow(int64(1), int64(5), "100.00", t0))

	history, err := store.ListHistory(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].HistoryID)
	assert.True(t, history[1].Price.Equal(decimal.NewFromInt(100)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateLastNotifiedMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(sql(updateLastNotifiedSQL)).
		WithArgs(int64(9), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateLastNotified(context.Background(), 9, at)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCreateSubscriptionSeedsNewProduct(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)
	seed := decimal.RequireFromString("1299")

	mock.ExpectBegin()
	mock.ExpectExec(sql(seedProductSQL)).
		WithArgs(int64(11), "1299", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sql(insertObservationSQL)).
		WithArgs(int64(11), "1299", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(sql(insertSubscriptionSQL)).
		WithArgs(int64(11), "a@x.com", 24, "0", false, false, now).
		WillReturnRows(pgxmock.NewRows(subscriptionColumns).
			AddRow(int64(1), int64(11), "a@x.com", 24, "0", false, false, now, now, now))
	mock.ExpectCommit()

	sub, err := store.CreateSubscription(context.Background(), NewSubscription{
		ProductID:      11,
		Email:          "a@x.com",
		IntervalHours:  24,
		PriceThreshold: decimal.Zero,
		CreatedAt:      now,
	}, &seed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.PreferenceID)
	assert.Equal(t, now, sub.LastNotified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCreateSubscriptionDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(sql(insertSubscriptionSQL)).
		WithArgs(int64(11), "a@x.com", 24, "0", false, false, now).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mock.ExpectRollback()

	_, err := store.CreateSubscription(context.Background(), NewSubscription{
		ProductID:      11,
		Email:          "a@x.com",
		IntervalHours:  24,
		PriceThreshold: decimal.Zero,
		CreatedAt:      now,
	}, nil)
	assert.ErrorIs(t, err, ErrSubscriptionExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreNotConfigured(t *testing.T) {
	var store *Store
	_, err := store.GetProduct(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, _, err = NewStore(nil).TryAdvisoryLock(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
