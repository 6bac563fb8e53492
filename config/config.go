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

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/middleware"
	"github.com/tomoncle/keel/types"
	"github.com/tomoncle/keel/utils"
)

// EnvPrefix prefixes every environment override, e.g. KEEL_DATABASE_CONNECTION_HOST.
const EnvPrefix = "KEEL"

type ServerConfig struct {
	Address      string   `mapstructure:"address" yaml:"address" validate:"required"`
	Mode         string   `mapstructure:"mode" yaml:"mode" validate:"omitempty,oneof=debug release test"`
	Development  bool     `mapstructure:"development" yaml:"development"`
	AllowOrigins []string `mapstructure:"allow_origins" yaml:"allow_origins"`
	JWTSecret    string   `mapstructure:"jwt_secret" yaml:"-"`
	RequireAuth  bool     `mapstructure:"require_auth" yaml:"require_auth"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

type TransactionConfig struct {
	MaxRetries      uint64        `mapstructure:"max_retries" yaml:"max_retries" validate:"lte=10"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
}

// Config is the effective application configuration.
type Config struct {
	Database    database.Config   `mapstructure:"database" yaml:"database"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Transaction TransactionConfig `mapstructure:"transaction" yaml:"transaction"`
}

// Load reads path (YAML or TOML, by extension) over the built-in defaults and
// applies KEEL_ environment overrides. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := types.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	conn := database.DefaultConnectionConfig()
	defaults := map[string]any{
		"database.connection.type":                  conn.Type,
		"database.connection.host":                  conn.Host,
		"database.connection.port":                  conn.Port,
		"database.connection.username":              conn.Username,
		"database.connection.password":              conn.Password,
		"database.connection.dbname":                conn.DBName,
		"database.connection.sslmode":               conn.SSLMode,
		"database.connection.dsn":                   conn.DSN,
		"database.connection.max_idle_conns":        conn.MaxIdleConns,
		"database.connection.max_open_conns":        conn.MaxOpenConns,
		"database.connection.conn_max_lifetime":     conn.ConnMaxLifetime,
		"database.connection.conn_max_idle_time":    conn.ConnMaxIdleTime,
		"database.connection.connect_timeout":       conn.ConnectTimeout,
		"database.connection.read_timeout":          conn.ReadTimeout,
		"database.connection.write_timeout":         conn.WriteTimeout,
		"database.connection.enable_reconnect":      conn.EnableReconnect,
		"database.connection.reconnect_interval":    conn.ReconnectInterval,
		"database.connection.max_reconnect_tries":   conn.MaxReconnectTries,
		"database.connection.health_check_interval": conn.HealthCheckInterval,
		"database.connection.enable_query_log":      conn.EnableQueryLog,
		"database.connection.query_log_format":      conn.QueryLogFormat,
		"database.connection.slow_query_time":       conn.SlowQueryTime,
		"database.connection.charset":               conn.Charset,
		"database.migrate.enable_migrate_on_startup": true,
		"database.migrate.silent":                    true,

		"server.address":       ":8080",
		"server.mode":          "release",
		"server.development":   false,
		"server.allow_origins": []string{},
		"server.jwt_secret":    "",
		"server.require_auth":  false,

		"log.level":  utils.EnvDefaultString("LOG_LEVEL", "info"),
		"log.format": utils.EnvDefaultString("LOG_FORMAT", "text"),
	}
	tx := middleware.DefaultTransactionOptions()
	defaults["transaction.max_retries"] = tx.MaxRetries
	defaults["transaction.initial_interval"] = tx.InitialInterval
	defaults["transaction.max_interval"] = tx.MaxInterval
	defaults["transaction.max_elapsed_time"] = tx.MaxElapsedTime

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// ApplyLogging pushes the log level and format to every named logger.
func (c *Config) ApplyLogging() {
	utils.ConfigureLogFormat(c.Log.Format)
	utils.ConfigureLogLevel(c.Log.Level)
}

func (c *Config) TransactionOptions() middleware.TransactionOptions {
	return middleware.TransactionOptions{
		MaxRetries:      c.Transaction.MaxRetries,
		InitialInterval: c.Transaction.InitialInterval,
		MaxInterval:     c.Transaction.MaxInterval,
		MaxElapsedTime:  c.Transaction.MaxElapsedTime,
	}
}

func (c *Config) EngineOptions() middleware.EngineOptions {
	return middleware.EngineOptions{
		Mode:         c.Server.Mode,
		Development:  c.Server.Development,
		AllowOrigins: c.Server.AllowOrigins,
		JWTSecret:    c.Server.JWTSecret,
		RequireAuth:  c.Server.RequireAuth,
	}
}
