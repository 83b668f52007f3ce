// Package helpers provides testing utilities for database connections and
// local network listeners used by the stridescan integration tests.
package helpers

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/anstrom/stridescan/internal/db"
)

// Constants for database testing.
const (
	defaultPostgreSQLPort = 5432
	dbConnectionTimeout   = 5 * time.Second
)

// TestDatabaseConfig returns the database settings from the TEST_DB_*
// environment variables.
func TestDatabaseConfig() *db.Config {
	cfg := db.DefaultConfig()
	cfg.Host = getEnvOrDefault("TEST_DB_HOST", "localhost")
	cfg.Port = getEnvIntOrDefault("TEST_DB_PORT", defaultPostgreSQLPort)
	cfg.Database = getEnvOrDefault("TEST_DB_NAME", "stridescan_test")
	cfg.Username = getEnvOrDefault("TEST_DB_USER", "test_user")
	cfg.Password = getEnvOrDefault("TEST_DB_PASSWORD", "test_password")
	cfg.SSLMode = "disable"
	cfg.MaxOpenConns = 5
	cfg.MaxIdleConns = 2
	cfg.ConnMaxLifetime = time.Minute
	cfg.ConnMaxIdleTime = time.Minute
	return &cfg
}

// ConnectToTestDatabase connects to the test database and applies migrations.
func ConnectToTestDatabase(ctx context.Context) (*db.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, dbConnectionTimeout)
	defer cancel()
	return db.ConnectAndMigrate(ctx, TestDatabaseConfig())
}

// CleanupScans removes every stored scan. Open ports go with them.
func CleanupScans(ctx context.Context, database *db.DB) error {
	_, err := database.ExecContext(ctx, "DELETE FROM scans")
	return err
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
