/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

const connectBackoffBase = 200 * time.Millisecond

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql pool statistics.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// poolManager owns the *sql.DB pool and the bun handle on top of it.
type poolManager struct {
	config *Config
	db     *bun.DB
	sqlDB  *sql.DB
	logger Logger
	mu     sync.RWMutex
}

func newPoolManager(config *Config, logger Logger) *poolManager {
	return &poolManager{config: config, logger: logger}
}

func (pm *poolManager) connect(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.db != nil {
		return nil
	}

	sqlDB, db, err := pm.createConnection()
	if err != nil {
		return err
	}
	pm.configurePool(sqlDB)

	acquireCtx, cancel := context.WithTimeout(ctx, pm.config.Pool.AcquireTimeout())
	defer cancel()

	if err := pm.ping(acquireCtx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("database connection test failed: %w", err)
	}
	if err := pm.warmUp(acquireCtx, sqlDB); err != nil {
		_ = db.Close()
		return fmt.Errorf("connection pool warm-up failed: %w", err)
	}

	pm.sqlDB, pm.db = sqlDB, db
	pm.logger.Info("Database connected successfully",
		"driver", pm.config.Driver,
		"dialect", pm.config.Dialect,
		"pool_min", pm.config.Pool.MinSize,
		"pool_max", pm.config.Pool.MaxSize,
	)
	return nil
}

func (pm *poolManager) createConnection() (*sql.DB, *bun.DB, error) {
	dsn, err := pm.config.DSN()
	if err != nil {
		return nil, nil, err
	}
	if pm.config.Dialect == DriverSQLite {
		if shared, ok := sharedMemoryDSN(dsn, "txrepo-"+uuid.NewString()); ok {
			pm.logger.Debug("Using shared-cache in-memory database", "dsn", shared)
			dsn = shared
		}
	}

	var (
		driverName string
		dialect    schema.Dialect
	)
	switch pm.config.Dialect {
	case DriverPostgres:
		driverName, dialect = "postgres", pgdialect.New()
	case DriverMySQL:
		driverName, dialect = "mysql", mysqldialect.New()
	case DriverSQLite:
		driverName, dialect = sqliteshim.ShimName, sqlitedialect.New()
	default:
		return nil, nil, NewConfigurationError("dialect", fmt.Sprintf("unsupported dialect %q", pm.config.Dialect))
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, nil, &ConfigurationError{Field: "url", Message: "failed to open connection pool", Cause: err}
	}
	db := bun.NewDB(sqlDB, dialect)

	if pm.config.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if pm.config.SlowQueryTime > 0 {
		db.AddQueryHook(&SlowQueryHook{Threshold: pm.config.SlowQueryTime, Logger: pm.logger})
	}
	db.AddQueryHook(&ErrorQueryHook{Logger: pm.logger})
	return sqlDB, db, nil
}

func (pm *poolManager) configurePool(sqlDB *sql.DB) {
	sqlDB.SetMaxOpenConns(pm.config.Pool.MaxSize)
	// min size is at least one after normalize, which keeps a shared
	// in-memory database alive between sessions
	sqlDB.SetMaxIdleConns(pm.config.Pool.MinSize)
}

func (pm *poolManager) ping(ctx context.Context, db *bun.DB) error {
	backoff := retry.WithMaxRetries(uint64(pm.config.ConnectRetries), retry.NewExponential(connectBackoffBase))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.PingContext(ctx); err != nil {
			pm.logger.Warn("Database ping failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// warmUp opens MinSize connections in batches of AcquireIncrement and hands
// them back so they stay idle in the pool.
func (pm *poolManager) warmUp(ctx context.Context, sqlDB *sql.DB) error {
	target := pm.config.Pool.MinSize
	step := pm.config.Pool.AcquireIncrement
	conns := make([]*sql.Conn, 0, target)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	for len(conns) < target {
		batch := min(step, target-len(conns))
		for i := 0; i < batch; i++ {
			c, err := sqlDB.Conn(ctx)
			if err != nil {
				return err
			}
			conns = append(conns, c)
		}
		pm.logger.Debug("Connection pool grown", "size", len(conns), "target", target)
	}
	return nil
}

func (pm *poolManager) disconnect() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.db == nil {
		return nil
	}
	err := pm.db.Close()
	pm.db = nil
	pm.sqlDB = nil
	if err != nil {
		pm.logger.Error("Failed to close database connection", "error", err)
	} else {
		pm.logger.Info("Database connection closed")
	}
	return err
}

func (pm *poolManager) getDB() *bun.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

func (pm *poolManager) healthCheck(ctx context.Context) *HealthStatus {
	pm.mu.RLock()
	db, sqlDB := pm.db, pm.sqlDB
	pm.mu.RUnlock()

	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}
	if db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}

	stats := sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections
	return status
}

func (pm *poolManager) stats() *DBStats {
	pm.mu.RLock()
	sqlDB := pm.sqlDB
	pm.mu.RUnlock()

	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}
