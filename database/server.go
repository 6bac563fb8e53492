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

	"github.com/uptrace/bun/dialect"
)

// ServerProperties describes the connected database server.
type ServerProperties struct {
	Dialect  string `json:"dialect" yaml:"dialect" bun:"-"`
	Version  string `json:"version" yaml:"version" bun:"version"`
	Edition  string `json:"edition" yaml:"edition" bun:"edition"`
	Database string `json:"database" yaml:"database" bun:"database_name"`
	User     string `json:"user" yaml:"user" bun:"server_user"`
}

var serverPropertiesQueries = map[dialect.Name]string{
	dialect.MSSQL: "SELECT CAST(SERVERPROPERTY('ProductVersion') AS NVARCHAR(128)) AS version, " +
		"CAST(SERVERPROPERTY('Edition') AS NVARCHAR(128)) AS edition, " +
		"DB_NAME() AS database_name, SUSER_SNAME() AS server_user",
	dialect.PG: "SELECT current_setting('server_version') AS version, " +
		"'PostgreSQL' AS edition, current_database() AS database_name, current_user AS server_user",
	dialect.MySQL: "SELECT VERSION() AS version, @@version_comment AS edition, " +
		"DATABASE() AS database_name, CURRENT_USER() AS server_user",
	dialect.SQLite: "SELECT sqlite_version() AS version, 'SQLite' AS edition, " +
		"'main' AS database_name, '' AS server_user",
}

// ServerProperties queries version, edition, current database and user of the
// server behind the unit of work.
func (u *UnitOfWork) ServerProperties(ctx context.Context) (*ServerProperties, error) {
	name := u.db.Dialect().Name()
	query, ok := serverPropertiesQueries[name]
	if !ok {
		return nil, fmt.Errorf("server properties not supported for dialect %s", name)
	}
	props := new(ServerProperties)
	if err := u.Query(ctx, props, query); err != nil {
		return nil, fmt.Errorf("read server properties: %w", err)
	}
	props.Dialect = name.String()
	return props, nil
}
