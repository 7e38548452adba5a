package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrDeviceNotFound is returned when an identifier has no device row
var ErrDeviceNotFound = errors.New("device not found")

// DatabaseManager is the local cache of devices, readings, history and
// sync state. All store methods are serialized by one mutex.
type DatabaseManager struct {
	mu            sync.Mutex
	healthChecker *HealthChecker
	logger        *zap.Logger
}

// NewDatabaseManager connects using the DB_* environment variables
func NewDatabaseManager(logger *zap.Logger) (*DatabaseManager, error) {
	return Open(dsnFromEnv(), logger)
}

// Open connects to the database at dsn and starts health checking
func Open(dsn string, logger *zap.Logger) (*DatabaseManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	connect := func() (*sql.DB, error) {
		return connectDatabase(dsn)
	}

	db, err := connect()
	if err != nil {
		return nil, err
	}

	dm := newDatabaseManager(db, connect, logger)
	dm.healthChecker.Start()

	return dm, nil
}

func newDatabaseManager(db *sql.DB, connect func() (*sql.DB, error), logger *zap.Logger) *DatabaseManager {
	return &DatabaseManager{
		healthChecker: NewHealthChecker(db, 30*time.Second, connect, logger),
		logger:        logger,
	}
}

// GetDB returns the underlying database connection
func (dm *DatabaseManager) GetDB() *sql.DB {
	return dm.healthChecker.DB()
}

// Close stops health checking and closes the connection
func (dm *DatabaseManager) Close() error {
	dm.healthChecker.Stop()

	if db := dm.GetDB(); db != nil {
		return db.Close()
	}
	return nil
}

// QueryWithHealthCheck executes a query with connection health verification
func (dm *DatabaseManager) QueryWithHealthCheck(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		return nil, err
	}

	return dm.GetDB().QueryContext(ctx, query, args...)
}

// QueryRowWithHealthCheck executes a single row query with connection health verification
func (dm *DatabaseManager) QueryRowWithHealthCheck(ctx context.Context, query string, args ...interface{}) *sql.Row {
	db := dm.GetDB()
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		// Returns a row whose Scan reports sql.ErrNoRows
		return db.QueryRowContext(ctx, "SELECT NULL WHERE FALSE")
	}

	return db.QueryRowContext(ctx, query, args...)
}

// ExecWithHealthCheck executes a statement with connection health verification
func (dm *DatabaseManager) ExecWithHealthCheck(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		return nil, err
	}

	return dm.GetDB().ExecContext(ctx, query, args...)
}

// BeginWithHealthCheck starts a transaction with connection health verification
func (dm *DatabaseManager) BeginWithHealthCheck(ctx context.Context) (*sql.Tx, error) {
	if err := dm.healthChecker.EnsureConnection(ctx); err != nil {
		return nil, err
	}

	return dm.GetDB().BeginTx(ctx, nil)
}

// IsConnectionHealthy returns the current health status
func (dm *DatabaseManager) IsConnectionHealthy() bool {
	return dm.healthChecker.IsHealthy()
}

// Init initializes the database with migrations
func (dm *DatabaseManager) Init() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.logger.Info("Running database migrations...")

	runner, err := NewMigrationsRunner(dm.GetDB(), dm.logger)
	if err != nil {
		return fmt.Errorf("failed to create migration runner: %w", err)
	}

	if err := runner.Run(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	dm.logger.Info("✓ Database initialization completed successfully")
	return nil
}

// dsnFromEnv builds a connection string from the DB_* environment variables
func dsnFromEnv() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "aranet_user"),
		getEnv("DB_PASSWORD", "aranet_pass"),
		getEnv("DB_NAME", "aranet_db"),
		getEnv("DB_SSLMODE", "disable"),
	)
}

// connectDatabase establishes a connection to the database
func connectDatabase(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
