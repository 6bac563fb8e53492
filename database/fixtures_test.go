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
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type product struct {
	bun.BaseModel `bun:"table:products"`
	types.Identity[int64]
	types.CreationInfo
	types.ModificationInfo

	Name  string `bun:"name,notnull"`
	Price int64  `bun:"price"`
}

type orderLine struct {
	bun.BaseModel `bun:"table:order_lines"`

	OrderID int64  `bun:"order_id,pk"`
	LineNo  int32  `bun:"line_no,pk"`
	Sku     string `bun:"sku"`
	Qty     int    `bun:"qty"`
}

type unregistered struct {
	ID int64 `bun:"id,pk,autoincrement"`
}

// queryRecorder keeps the text of every executed statement.
type queryRecorder struct {
	mu      sync.Mutex
	queries []string
}

func (r *queryRecorder) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (r *queryRecorder) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, event.Query)
}

func (r *queryRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = nil
}

func (r *queryRecorder) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.queries {
		if strings.HasPrefix(q, prefix) {
			n++
		}
	}
	return n
}

// verbs returns the leading keyword of every recorded statement.
func (r *queryRecorder) verbs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.queries))
	for _, q := range r.queries {
		if fields := strings.Fields(q); len(fields) > 0 {
			out = append(out, strings.ToUpper(fields[0]))
		}
	}
	return out
}

func testRegistry() *EntityRegistry {
	reg := NewEntityRegistry()
	reg.Register(
		NewModelAdapter((*product)(nil), 1),
		NewModelAdapter((*orderLine)(nil), 2),
	)
	return reg
}

// newSQLiteDB opens a private in-memory database with the test tables created.
func newSQLiteDB(t *testing.T) (*bun.DB, *EntityRegistry, *queryRecorder) {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	reg := testRegistry()
	require.NoError(t, reg.Build(db))
	require.NoError(t, NewMigrationManager(db, reg, NopLogger).RunMigrations(context.Background()))

	rec := &queryRecorder{}
	db.AddQueryHook(rec)
	return db, reg, rec
}

func newTestUnitOfWork(t *testing.T) (*UnitOfWork, *queryRecorder) {
	t.Helper()
	db, reg, rec := newSQLiteDB(t)
	u := NewUnitOfWork(db, reg)
	u.SetLogger(NopLogger)
	return u, rec
}

func seedProducts(t *testing.T, u *UnitOfWork, names ...string) []*product {
	t.Helper()
	products := make([]*product, 0, len(names))
	for i, name := range names {
		p := &product{Name: name, Price: int64(10 * (i + 1))}
		require.NoError(t, u.Add(p))
		products = append(products, p)
	}
	_, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	return products
}
