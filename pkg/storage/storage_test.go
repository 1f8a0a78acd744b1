package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, IsUniqueViolation(sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintUnique,
	}))
	assert.True(t, IsUniqueViolation(sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintPrimaryKey,
	}))

	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(fmt.Errorf("some other error")))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))

	// wrapped driver errors still match
	wrapped := fmt.Errorf("failed to insert: %w", &pq.Error{Code: "23505"})
	assert.True(t, IsUniqueViolation(wrapped))
}

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	seen := map[int]bool{}
	last := 0
	for _, m := range migrations {
		assert.False(t, seen[m.Version], "duplicate version %d", m.Version)
		seen[m.Version] = true
		assert.Greater(t, m.Version, last, "migrations must be ordered")
		last = m.Version

		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQLite, "migration %d has no sqlite DDL", m.Version)
		assert.NotEmpty(t, m.Postgres, "migration %d has no postgres DDL", m.Version)
	}
}

func TestMigrationDDLCoversTables(t *testing.T) {
	var all strings.Builder
	for _, m := range GetMigrations() {
		all.WriteString(m.SQLite)
		all.WriteString(m.Postgres)
	}
	ddl := all.String()
	for _, table := range []string{"users", "identities", "authentications", "approvals", "sessions"} {
		assert.Contains(t, ddl, table)
	}
}

func TestMigrateSkipsAppliedVersions(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	total := len(GetMigrations())
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// everything is already applied
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(total))

	require.NoError(t, Migrate(context.Background(), db, DialectSQLite))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	migrations := GetMigrations()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// one version behind
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(len(migrations) - 1))

	mock.ExpectBegin()
	mock.ExpectExec(`.`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs(migrations[len(migrations)-1].Version).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), db, DialectPostgres))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle", URL: "whatever"})
	assert.Error(t, err)
}
