package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/stridescan/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "", cfg.Database)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 2, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.False(t, cfg.Enabled())
}

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database = "stridescan"
	cfg.Username = "scanner"
	cfg.Password = "secret"

	assert.True(t, cfg.Enabled())
	assert.Equal(t,
		"host=localhost port=5432 dbname=stridescan user=scanner password=secret sslmode=disable",
		cfg.DSN())
}

func TestSanitizeDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
	}{
		{"no rows", sql.ErrNoRows, errors.CodeNotFound},
		{"unique violation", &pq.Error{Code: "23505"}, errors.CodeConflict},
		{"foreign key", &pq.Error{Code: "23503"}, errors.CodeValidation},
		{"not null", &pq.Error{Code: "23502"}, errors.CodeValidation},
		{"check", &pq.Error{Code: "23514"}, errors.CodeValidation},
		{"canceled", &pq.Error{Code: "57014"}, errors.CodeCanceled},
		{"admin shutdown", &pq.Error{Code: "57P01"}, errors.CodeDatabaseConnection},
		{"connection", &pq.Error{Code: "08006"}, errors.CodeDatabaseConnection},
		{"unknown pq", &pq.Error{Code: "XX000"}, errors.CodeDatabaseQuery},
		{"generic", stderrors.New("password=secret host=db"), errors.CodeDatabaseQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanitizeDBError("test op", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.NotContains(t, err.Error(), "secret")
		})
	}

	assert.NoError(t, sanitizeDBError("noop", nil))
}

func TestConnectInvalidHost(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping connection attempt in short mode")
	}

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.Database = "stridescan"
	cfg.Username = "scanner"
	cfg.Password = "secret"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, &cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDatabaseConnection))
	assert.NotContains(t, err.Error(), "secret")
}

func TestMigratorUp(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	migrator := NewMigrator(sqlx.NewDb(mockDB, "postgres"))

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, applied_at, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scans")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("001_initial_schema", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, migrator.Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorUpSkipsApplied(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	migrator := NewMigrator(sqlx.NewDb(mockDB, "postgres"))

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial_schema", time.Now(), "abc"))

	require.NoError(t, migrator.Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorStatus(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	migrator := NewMigrator(sqlx.NewDb(mockDB, "postgres"))
	appliedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial_schema", appliedAt, "abc"))

	statuses, err := migrator.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "001_initial_schema", statuses[0].Name)
	assert.True(t, statuses[0].Applied)
	assert.Equal(t, appliedAt, statuses[0].AppliedAt)
}

func TestMigrationChecksumStable(t *testing.T) {
	assert.Equal(t, calculateChecksum("SELECT 1"), calculateChecksum("SELECT 1"))
	assert.NotEqual(t, calculateChecksum("SELECT 1"), calculateChecksum("SELECT 2"))
	assert.Len(t, calculateChecksum(""), 64)
}
