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
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

// SupportedTypes lists the accepted ConnectionConfig.Type values.
var SupportedTypes = []string{"mysql", "postgres", "sqlite", "sqlserver"}

// BaseDatabaseFactory owns one configured manager and exposes the lifecycle
// helpers used by the package level accessors in conn.go.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	logger  Logger
}

func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{
		logger: GetLogger(),
	}
}

// CreateFromConfig validates the connection type, applies DB_* environment
// overrides to cfg and builds the manager. It does not connect.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *ConnectionConfig) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	if !slices.Contains(SupportedTypes, cfg.Type) {
		return nil, fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.Type, SupportedTypes)
	}

	if applied := applyEnvOverrides(cfg); len(applied) > 0 {
		f.logger.Debug("Database config overridden from environment", "keys", applied)
	}

	manager := NewDatabaseManager(cfg)
	manager.SetLogger(f.logger)
	f.manager = manager
	return manager, nil
}

// envOverride maps one DB_* variable onto a ConnectionConfig field. set
// reports false when the raw value cannot be parsed, leaving the field as is.
type envOverride struct {
	key string
	set func(cfg *ConnectionConfig, raw string) bool
}

var envOverrides = []envOverride{
	{"DB_HOST", func(c *ConnectionConfig, v string) bool { c.Host = v; return true }},
	{"DB_PORT", intField(func(c *ConnectionConfig) *int { return &c.Port })},
	{"DB_USERNAME", func(c *ConnectionConfig, v string) bool { c.Username = v; return true }},
	{"DB_PASSWORD", func(c *ConnectionConfig, v string) bool { c.Password = v; return true }},
	{"DB_NAME", func(c *ConnectionConfig, v string) bool { c.DBName = v; return true }},
	{"DB_SSLMODE", func(c *ConnectionConfig, v string) bool { c.SSLMode = v; return true }},
	{"DB_DSN", func(c *ConnectionConfig, v string) bool { c.DSN = v; return true }},
	{"DB_MAX_IDLE_CONNS", intField(func(c *ConnectionConfig) *int { return &c.MaxIdleConns })},
	{"DB_MAX_OPEN_CONNS", intField(func(c *ConnectionConfig) *int { return &c.MaxOpenConns })},
	{"DB_CONN_MAX_LIFETIME", durationField(func(c *ConnectionConfig) *time.Duration { return &c.ConnMaxLifetime })},
	{"DB_ENABLE_RECONNECT", boolField(func(c *ConnectionConfig) *bool { return &c.EnableReconnect })},
	{"DB_RECONNECT_INTERVAL", durationField(func(c *ConnectionConfig) *time.Duration { return &c.ReconnectInterval })},
	{"DB_ENABLE_QUERY_LOG", boolField(func(c *ConnectionConfig) *bool { return &c.EnableQueryLog })},
	{"DB_QUERY_LOG_FORMAT", func(c *ConnectionConfig, v string) bool { c.QueryLogFormat = v; return true }},
	{"DB_SLOW_QUERY_TIME", durationField(func(c *ConnectionConfig) *time.Duration { return &c.SlowQueryTime })},
}

func applyEnvOverrides(cfg *ConnectionConfig) []string {
	var applied []string
	for _, o := range envOverrides {
		raw := os.Getenv(o.key)
		if raw == "" {
			continue
		}
		if o.set(cfg, raw) {
			applied = append(applied, o.key)
		}
	}
	return applied
}

func intField(field func(*ConnectionConfig) *int) func(*ConnectionConfig, string) bool {
	return func(c *ConnectionConfig, raw string) bool {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return false
		}
		*field(c) = v
		return true
	}
}

func boolField(field func(*ConnectionConfig) *bool) func(*ConnectionConfig, string) bool {
	return func(c *ConnectionConfig, raw string) bool {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return false
		}
		*field(c) = v
		return true
	}
}

// durationField accepts a Go duration ("90s") or a bare number of seconds.
func durationField(field func(*ConnectionConfig) *time.Duration) func(*ConnectionConfig, string) bool {
	return func(c *ConnectionConfig, raw string) bool {
		if d, err := time.ParseDuration(raw); err == nil {
			*field(c) = d
			return true
		}
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return false
		}
		*field(c) = time.Duration(secs) * time.Second
		return true
	}
}

// InitializeDatabase connects and, when asked, runs the registered migrations.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context, runMigrations bool) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if runMigrations {
		if err := f.manager.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}
	f.logger.Info("Database initialization completed")
	return nil
}

func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager {
	return f.manager
}

func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{
			LastError:     "Database manager not initialized",
			LastCheckTime: time.Now(),
		}
	}
	return f.manager.HealthCheck(ctx)
}

func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
