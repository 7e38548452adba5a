package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthChecker monitors and maintains database connection health
type HealthChecker struct {
	db            *sql.DB
	connect       func() (*sql.DB, error)
	checkInterval time.Duration
	logger        *zap.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	ticker        *time.Ticker
	mu            sync.RWMutex
	isHealthy     bool
}

// NewHealthChecker creates a new health checker. connect re-opens the
// connection after a failed check; nil disables reconnecting.
func NewHealthChecker(db *sql.DB, checkInterval time.Duration, connect func() (*sql.DB, error), logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		db:            db,
		connect:       connect,
		checkInterval: checkInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
		isHealthy:     true,
	}
}

// DB returns the current connection, which changes after a reconnect
func (chc *HealthChecker) DB() *sql.DB {
	chc.mu.RLock()
	defer chc.mu.RUnlock()
	return chc.db
}

// Start begins monitoring the database connection
func (chc *HealthChecker) Start() {
	chc.ticker = time.NewTicker(chc.checkInterval)

	go func() {
		for {
			select {
			case <-chc.stopChan:
				chc.ticker.Stop()
				return
			case <-chc.ticker.C:
				chc.checkConnection()
			}
		}
	}()
}

// Stop stops monitoring the database connection. It is safe to call twice.
func (chc *HealthChecker) Stop() {
	chc.stopOnce.Do(func() {
		close(chc.stopChan)
	})
}

// checkConnection performs a health check on the database connection
func (chc *HealthChecker) checkConnection() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := chc.DB().PingContext(ctx)

	chc.mu.Lock()
	defer chc.mu.Unlock()

	if err != nil {
		chc.logger.Error("❌ Database connection health check failed", zap.Error(err))
		chc.isHealthy = false

		if err := chc.reconnect(); err != nil {
			chc.logger.Error("❌ Failed to reconnect to database", zap.Error(err))
		}
		return
	}

	if !chc.isHealthy {
		chc.logger.Info("✓ Database connection restored")
	}
	chc.isHealthy = true
}

// reconnect attempts to re-establish the database connection. Caller holds mu.
func (chc *HealthChecker) reconnect() error {
	if chc.connect == nil {
		return fmt.Errorf("reconnect not configured")
	}

	newDB, err := chc.connect()
	if err != nil {
		return err
	}

	if chc.db != nil {
		chc.db.Close()
	}
	chc.db = newDB
	chc.isHealthy = true
	chc.logger.Info("✓ Database connection re-established")
	return nil
}

// IsHealthy returns the current health status of the connection
func (chc *HealthChecker) IsHealthy() bool {
	chc.mu.RLock()
	defer chc.mu.RUnlock()
	return chc.isHealthy
}

// EnsureConnection ensures the connection is healthy before executing a query
func (chc *HealthChecker) EnsureConnection(ctx context.Context) error {
	chc.mu.RLock()
	isHealthy := chc.isHealthy
	db := chc.db
	chc.mu.RUnlock()

	if !isHealthy {
		return fmt.Errorf("database connection is not healthy")
	}

	// Perform a quick ping to verify
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		chc.mu.Lock()
		chc.isHealthy = false
		chc.mu.Unlock()
		return fmt.Errorf("database connection check failed: %w", err)
	}

	return nil
}
