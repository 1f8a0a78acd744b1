package session

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, time.Hour), mock
}

func TestSQLStoreGet(t *testing.T) {
	t.Run("missing session reads as empty", func(t *testing.T) {
		store, mock := newMockSQLStore(t)
		mock.ExpectQuery(`SELECT data FROM sessions`).
			WithArgs("sid").
			WillReturnRows(sqlmock.NewRows([]string{"data"}))

		_, ok, err := store.Get(context.Background(), "sid", "user_id")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reads value from the bag", func(t *testing.T) {
		store, mock := newMockSQLStore(t)
		mock.ExpectQuery(`SELECT data FROM sessions`).
			WithArgs("sid").
			WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{"user_id":"42"}`))

		value, ok, err := store.Get(context.Background(), "sid", "user_id")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "42", value)
	})
}

func TestSQLStoreSet(t *testing.T) {
	store, mock := newMockSQLStore(t)
	mock.ExpectQuery(`SELECT data FROM sessions`).
		WithArgs("sid").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{}`))
	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs("sid", `{"user_id":"42"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Set(context.Background(), "sid", "user_id", "42"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreDelete(t *testing.T) {
	t.Run("absent key skips the write", func(t *testing.T) {
		store, mock := newMockSQLStore(t)
		mock.ExpectQuery(`SELECT data FROM sessions`).
			WithArgs("sid").
			WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{}`))

		require.NoError(t, store.Delete(context.Background(), "sid", "missing"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("present key is removed", func(t *testing.T) {
		store, mock := newMockSQLStore(t)
		mock.ExpectQuery(`SELECT data FROM sessions`).
			WithArgs("sid").
			WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{"flash":"hi"}`))
		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs("sid", `{}`, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, store.Delete(context.Background(), "sid", "flash"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLStoreCleanup(t *testing.T) {
	store, mock := newMockSQLStore(t)
	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	dropped, err := store.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), dropped)
}

func TestSQLStoreDestroy(t *testing.T) {
	store, mock := newMockSQLStore(t)
	mock.ExpectExec(`DELETE FROM sessions WHERE id`).
		WithArgs("sid").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Destroy(context.Background(), "sid"))
}
