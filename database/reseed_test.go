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
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mssqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/schema"
)

func newMockUnitOfWork(t *testing.T, d schema.Dialect) (*UnitOfWork, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	db := bun.NewDB(sqldb, d)
	t.Cleanup(func() { _ = db.Close() })

	reg := testRegistry()
	require.NoError(t, reg.Build(db))
	u := NewUnitOfWork(db, reg)
	u.SetLogger(NopLogger)
	return u, mock
}

func TestReseedSQLServerBatch(t *testing.T) {
	u, mock := newMockUnitOfWork(t, mssqldialect.New())

	mock.ExpectBegin()
	mock.ExpectExec("DECLARE @MAXID_0 BIGINT; " +
		"SELECT @MAXID_0 = MAX([id]) FROM [products]; " +
		"SET @MAXID_0 = ISNULL(@MAXID_0, 0); " +
		"DBCC CHECKIDENT ('products', RESEED, @MAXID_0);").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	// order lines have no generated key and are skipped
	n, err := u.Reseed(context.Background(), false, (*product)(nil), reflect.TypeOf(orderLine{}), &unregistered{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReseedPostgresBlock(t *testing.T) {
	u, mock := newMockUnitOfWork(t, pgdialect.New())

	mock.ExpectBegin()
	mock.ExpectExec(`DO $$ DECLARE maxid_0 BIGINT; BEGIN ` +
		`SELECT COALESCE(MAX("id"), 0) INTO maxid_0 FROM "products"; ` +
		`PERFORM setval(pg_get_serial_sequence('"products"', 'id'), GREATEST(maxid_0, 1), maxid_0 > 0); ` +
		`END $$;`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, err := u.Reseed(context.Background(), false, &product{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReseedJoinsActiveTransaction(t *testing.T) {
	u, mock := newMockUnitOfWork(t, pgdialect.New())
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DO $$ DECLARE maxid_0 BIGINT; BEGIN ` +
		`SELECT COALESCE(MAX("id"), 0) INTO maxid_0 FROM "products"; ` +
		`PERFORM setval(pg_get_serial_sequence('"products"', 'id'), GREATEST(maxid_0, 1), maxid_0 > 0); ` +
		`END $$;`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.NoError(t, u.Begin(ctx))
	_, err := u.Reseed(ctx, false, &product{})
	require.NoError(t, err)
	require.NoError(t, u.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReseedNoOp(t *testing.T) {
	u, mock := newMockUnitOfWork(t, pgdialect.New())
	ctx := context.Background()

	for name, models := range map[string][]any{
		"empty":      nil,
		"unresolved": {&orderLine{}, &unregistered{}},
	} {
		t.Run(name, func(t *testing.T) {
			n, err := u.Reseed(ctx, false, models...)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
	n, err := u.Reseed(ctx, true, &product{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReseedStatementsMySQL(t *testing.T) {
	statements, err := reseedStatements(dialect.MySQL, []reseedTarget{{table: "products", column: "id", sqlType: "BIGINT"}})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"SET @maxid_0 = (SELECT COALESCE(MAX(`id`), 0) FROM `products`)",
		"SET @reseed_0 = CONCAT('ALTER TABLE `products` AUTO_INCREMENT = ', @maxid_0 + 1)",
		"PREPARE reseed_stmt_0 FROM @reseed_0",
		"EXECUTE reseed_stmt_0",
		"DEALLOCATE PREPARE reseed_stmt_0",
	}, statements)

	_, err = reseedStatements(dialect.Invalid, nil)
	assert.Error(t, err)
}

func TestReseedSQLite(t *testing.T) {
	u, _ := newTestUnitOfWork(t)
	ctx := context.Background()
	products := seedProducts(t, u, "a", "b", "c")
	require.NoError(t, u.Remove(products[1]))
	require.NoError(t, u.Remove(products[2]))
	_, err := u.SaveChanges(ctx)
	require.NoError(t, err)

	_, err = u.Reseed(ctx, false, &product{})
	require.NoError(t, err)

	next := seedProducts(t, u, "d")[0]
	assert.Equal(t, products[0].ID+1, next.ID)
}
