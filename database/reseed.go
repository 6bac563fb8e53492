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
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type reseedTarget struct {
	table   string
	column  string
	sqlType string
}

// Reseed moves the identity counter of each model's table to the current
// maximum key, so the next generated key is MAX+1 (or 1 on an empty table).
// Models without exactly one store generated integral key are skipped, as are
// unregistered ones. With debug set, or nothing to do, no command is run.
func (u *UnitOfWork) Reseed(ctx context.Context, debug bool, models ...any) (int64, error) {
	if debug || len(models) == 0 {
		return 0, nil
	}
	name := u.db.Dialect().Name()

	targets := make([]reseedTarget, 0, len(models))
	for _, model := range models {
		typ, ok := model.(reflect.Type)
		if !ok {
			typ = reflect.TypeOf(model)
		}
		meta, err := u.registry.Resolve(typ)
		if err != nil {
			u.logger.Debug("Skipping reseed of unregistered model", "model", typ)
			continue
		}
		key, sqlType, ok := meta.IdentityKey(name)
		if !ok {
			continue
		}
		targets = append(targets, reseedTarget{table: meta.Table, column: key.Column, sqlType: sqlType})
	}
	if len(targets) == 0 {
		return 0, nil
	}

	statements, err := reseedStatements(name, targets)
	if err != nil {
		return 0, err
	}

	var affected int64
	run := func(ctx context.Context, db bun.IDB) error {
		for _, stmt := range statements {
			res, err := db.ExecContext(ctx, stmt)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				affected += n
			}
		}
		return nil
	}
	if u.active {
		err = run(ctx, u.tx)
	} else {
		err = u.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return run(ctx, tx)
		})
	}
	if err != nil {
		return 0, fmt.Errorf("reseed identities: %w", err)
	}
	u.logger.Info("Identity counters reseeded", "tables", len(targets))
	return affected, nil
}

// reseedStatements renders the per dialect batch. Values never appear as
// literals: each table gets a variable holding its coalesced MAX(key).
func reseedStatements(name dialect.Name, targets []reseedTarget) ([]string, error) {
	var sb strings.Builder
	switch name {
	case dialect.MSSQL:
		for i, t := range targets {
			fmt.Fprintf(&sb, "DECLARE @MAXID_%d %s; ", i, t.sqlType)
			fmt.Fprintf(&sb, "SELECT @MAXID_%d = MAX([%s]) FROM [%s]; ", i, t.column, t.table)
			fmt.Fprintf(&sb, "SET @MAXID_%d = ISNULL(@MAXID_%d, 0); ", i, i)
			fmt.Fprintf(&sb, "DBCC CHECKIDENT ('%s', RESEED, @MAXID_%d); ", t.table, i)
		}
		return []string{strings.TrimSpace(sb.String())}, nil
	case dialect.PG:
		sb.WriteString("DO $$ DECLARE ")
		for i, t := range targets {
			fmt.Fprintf(&sb, "maxid_%d %s; ", i, t.sqlType)
		}
		sb.WriteString("BEGIN ")
		for i, t := range targets {
			fmt.Fprintf(&sb, `SELECT COALESCE(MAX("%s"), 0) INTO maxid_%d FROM "%s"; `, t.column, i, t.table)
			fmt.Fprintf(&sb, `PERFORM setval(pg_get_serial_sequence('"%s"', '%s'), GREATEST(maxid_%d, 1), maxid_%d > 0); `,
				t.table, t.column, i, i)
		}
		sb.WriteString("END $$;")
		return []string{sb.String()}, nil
	case dialect.MySQL:
		statements := make([]string, 0, len(targets)*5)
		for i, t := range targets {
			statements = append(statements,
				fmt.Sprintf("SET @maxid_%d = (SELECT COALESCE(MAX(`%s`), 0) FROM `%s`)", i, t.column, t.table),
				fmt.Sprintf("SET @reseed_%d = CONCAT('ALTER TABLE `%s` AUTO_INCREMENT = ', @maxid_%d + 1)", i, t.table, i),
				fmt.Sprintf("PREPARE reseed_stmt_%d FROM @reseed_%d", i, i),
				fmt.Sprintf("EXECUTE reseed_stmt_%d", i),
				fmt.Sprintf("DEALLOCATE PREPARE reseed_stmt_%d", i),
			)
		}
		return statements, nil
	case dialect.SQLite:
		statements := make([]string, 0, len(targets))
		for _, t := range targets {
			statements = append(statements, fmt.Sprintf(
				`UPDATE sqlite_sequence SET seq = (SELECT COALESCE(MAX("%s"), 0) FROM "%s") WHERE name = '%s'`,
				t.column, t.table, t.table))
		}
		return statements, nil
	}
	return nil, errors.New("reseed not supported for dialect " + name.String())
}
