package delegated

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking/cactuar/pkg/account"
)

func newMockRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRegistry(db, account.NewStore(db)), mock
}

func expectAccountByID(mock sqlmock.Sqlmock, id int64, username string) {
	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM users WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "first_name", "last_name", "email",
			"activated", "admin", "activation_code", "salt", "crypted_password",
			"created_at", "updated_at",
		}).AddRow(id, username, nil, nil, nil, true, false, nil, nil, nil, now, now))
}

func TestResolve(t *testing.T) {
	t.Run("bound uid resolves to its account", func(t *testing.T) {
		reg, mock := newMockRegistry(t)
		mock.ExpectQuery(`SELECT user_id FROM authentications`).
			WithArgs("google", "ext-123").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))
		expectAccountByID(mock, 7, "viking")

		acct, err := reg.Resolve(context.Background(), "google", "ext-123")
		require.NoError(t, err)
		assert.Equal(t, "viking", acct.Username)
	})

	t.Run("unbound uid", func(t *testing.T) {
		reg, mock := newMockRegistry(t)
		mock.ExpectQuery(`SELECT user_id FROM authentications`).
			WithArgs("google", "nope").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

		_, err := reg.Resolve(context.Background(), "google", "nope")
		assert.Equal(t, ErrNoBinding, err)
	})
}

func TestBind(t *testing.T) {
	t.Run("creates the mapping", func(t *testing.T) {
		reg, mock := newMockRegistry(t)
		mock.ExpectExec(`INSERT INTO authentications`).
			WithArgs("identity", "viking", int64(7)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, reg.Bind(context.Background(), "identity", "viking", 7))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate pair", func(t *testing.T) {
		reg, mock := newMockRegistry(t)
		mock.ExpectExec(`INSERT INTO authentications`).
			WillReturnError(&pq.Error{Code: "23505"})

		assert.Equal(t, ErrBindingExists, reg.Bind(context.Background(), "identity", "viking", 7))
	})
}

func TestResolveOrProvision(t *testing.T) {
	t.Run("existing binding wins", func(t *testing.T) {
		reg, mock := newMockRegistry(t)
		mock.ExpectQuery(`SELECT user_id FROM authentications`).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))
		expectAccountByID(mock, 7, "viking")

		acct, err := reg.ResolveOrProvision(context.Background(), "google", "ext-123", true)
		require.NoError(t, err)
		assert.Equal(t, int64(7), acct.ID)
	})

	t.Run("no binding without auto create", func(t *testing.T) {
		reg, mock := newMockRegistry(t)
		mock.ExpectQuery(`SELECT user_id FROM authentications`).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

		_, err := reg.ResolveOrProvision(context.Background(), "google", "ext-123", false)
		assert.Equal(t, ErrNoBinding, err)
	})

	t.Run("provisions on first login", func(t *testing.T) {
		reg, mock := newMockRegistry(t)
		mock.ExpectQuery(`SELECT user_id FROM authentications`).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectExec(`INSERT INTO authentications`).
			WithArgs("google", "ext-123", int64(9)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		acct, err := reg.ResolveOrProvision(context.Background(), "google", "ext-123", true)
		require.NoError(t, err)
		assert.Equal(t, "ext-123", acct.Username)
		assert.True(t, acct.Activated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
