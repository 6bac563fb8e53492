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

package keel

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`
	types.Identity[int64]
	types.CreationInfo

	Name  string `bun:"name,notnull"`
	Color string `bun:"color"`
	Stock int    `bun:"stock"`
}

type widgetDto struct {
	ID    int64
	Name  string
	Color string
	Stock int
}

type widgetSearch struct {
	types.SearchRequest
	Color string
}

type widgetInsert struct {
	Name  string `validate:"required"`
	Color string
	Stock int `validate:"gte=0"`
}

type widgetUpdate struct {
	ID    int64
	Name  string `validate:"required"`
	Stock int
}

type stockLevel struct {
	bun.BaseModel `bun:"table:stock_levels"`

	Warehouse string `bun:"warehouse,pk"`
	Sku       string `bun:"sku,pk"`
	Qty       int    `bun:"qty"`
}

type stockUpdate struct {
	Qty int `validate:"gte=0"`
}

type statementLog struct {
	mu      sync.Mutex
	queries []string
}

func (l *statementLog) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context { return ctx }

func (l *statementLog) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, event.Query)
}

func (l *statementLog) counted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, q := range l.queries {
		if strings.Contains(strings.ToLower(q), "count(") {
			return true
		}
	}
	return false
}

func (l *statementLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = nil
}

// newRequestContext opens an in-memory store and binds a fresh unit of work to the context.
func newRequestContext(t *testing.T) (context.Context, *database.UnitOfWork, *statementLog) {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	reg := database.NewEntityRegistry()
	reg.Register(
		database.NewModelAdapter((*widget)(nil), 1),
		database.NewModelAdapter((*stockLevel)(nil), 2),
	)
	require.NoError(t, reg.Build(db))
	require.NoError(t, database.NewMigrationManager(db, reg, database.NopLogger).RunMigrations(context.Background()))

	log := &statementLog{}
	db.AddQueryHook(log)

	u := database.NewUnitOfWork(db, reg)
	u.SetLogger(database.NopLogger)
	ctx := database.WithActor(database.WithUnitOfWork(context.Background(), u), "alice")
	return ctx, u, log
}

func newWidgetService() *BaseService[widget, int64, widgetDto, widgetSearch, widgetInsert, widgetUpdate] {
	return NewBaseService[widget, int64, widgetDto, widgetSearch, widgetInsert, widgetUpdate](
		Hooks[widget, widgetDto, widgetSearch, widgetInsert, widgetUpdate]{
			Filter: func(q *bun.SelectQuery, search widgetSearch) *bun.SelectQuery {
				if search.Color != "" {
					q = q.Where("color = ?", search.Color)
				}
				return q
			},
			Orders: map[string]string{"qty": "stock"},
		})
}

func seedWidgets(t *testing.T, ctx context.Context, svc *BaseService[widget, int64, widgetDto, widgetSearch, widgetInsert, widgetUpdate]) {
	t.Helper()
	for _, w := range []widgetInsert{
		{Name: "Anvil", Color: "red", Stock: 5},
		{Name: "Bolt", Color: "blue", Stock: 50},
		{Name: "Cog", Color: "red", Stock: 12},
		{Name: "Drill", Color: "green", Stock: 3},
		{Name: "Eyelet", Color: "red", Stock: 80},
	} {
		_, err := svc.Insert(ctx, w, false)
		require.NoError(t, err)
	}
	u, err := UnitOfWork(ctx)
	require.NoError(t, err)
	_, err = u.SaveChanges(ctx)
	require.NoError(t, err)
}

func names(items []widgetDto) []string {
	out := make([]string, len(items))
	for i, w := range items {
		out[i] = w.Name
	}
	return out
}

func TestServiceRequiresUnitOfWork(t *testing.T) {
	svc := newWidgetService()
	ctx := context.Background()

	_, err := svc.GetByID(ctx, 1)
	assert.ErrorIs(t, err, ErrNoUnitOfWork)
	assert.ErrorIs(t, err, types.ErrInvalidOperation)

	_, err = svc.Insert(ctx, widgetInsert{Name: "x"}, true)
	assert.ErrorIs(t, err, ErrNoUnitOfWork)

	_, err = QueryRaw[widgetDto](ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrNoUnitOfWork)
}

func TestInsertReturnsKeyOnlyWhenSaved(t *testing.T) {
	ctx, u, _ := newRequestContext(t)
	svc := newWidgetService()

	id, err := svc.Insert(ctx, widgetInsert{Name: "Anvil", Color: "red"}, false)
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.True(t, u.HasChanges())
	assert.Equal(t, 0, u.Flushes())

	id, err = svc.Insert(ctx, widgetInsert{Name: "Bolt", Color: "blue"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
	assert.Equal(t, 1, u.Flushes())
	assert.False(t, u.HasChanges())

	got, err := svc.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, widgetDto{ID: 2, Name: "Bolt", Color: "blue"}, *got)

	creators, err := QueryRaw[string](ctx, "SELECT creator_id FROM widgets ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "alice"}, creators)
}

func TestInsertValidatesDto(t *testing.T) {
	ctx, u, _ := newRequestContext(t)
	svc := newWidgetService()

	_, err := svc.Insert(ctx, widgetInsert{Stock: -1}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Messages, 2)
	assert.False(t, u.HasChanges())

	result := types.FailedFromError[widgetDto](err)
	assert.False(t, result.Status)
	assert.Len(t, result.Errors, 2)
}

func TestGetByIDMissing(t *testing.T) {
	ctx, _, _ := newRequestContext(t)
	got, err := newWidgetService().GetByID(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetAllPaginatedFiltersBeforeOrdering(t *testing.T) {
	ctx, _, log := newRequestContext(t)
	svc := newWidgetService()
	seedWidgets(t, ctx, svc)

	search := widgetSearch{SearchRequest: types.NewSearchRequest(1, 2, "qty desc"), Color: "red"}
	page, err := svc.GetAllPaginated(ctx, search, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Eyelet", "Cog"}, names(page.Items))
	assert.Equal(t, &types.PagingInfo{TotalCount: 3, TotalPage: 2, HasNext: true, HasPrevious: false}, page.Info)

	log.reset()
	page, err = svc.GetAllPaginated(ctx, widgetSearch{SearchRequest: types.NewSearchRequest(2, 2, "qty desc"), Color: "red"}, false)
	require.NoError(t, err)
	assert.False(t, log.counted())
	assert.Nil(t, page.Info)
	assert.Equal(t, []string{"Anvil"}, names(page.Items))
}

func TestGetAllWindowsWithoutCount(t *testing.T) {
	ctx, _, log := newRequestContext(t)
	svc := newWidgetService()
	seedWidgets(t, ctx, svc)
	log.reset()

	items, err := svc.GetAll(ctx, widgetSearch{SearchRequest: types.NewSearchRequest(2, 2, "name")})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cog", "Drill"}, names(items))
	assert.False(t, log.counted())

	_, err = svc.GetAll(ctx, widgetSearch{SearchRequest: types.NewSearchRequest(1, 2, "creator_secret")})
	assert.ErrorIs(t, err, types.ErrInvalidOperation)

	_, err = svc.GetAll(ctx, widgetSearch{SearchRequest: types.NewSearchRequest(0, 2, "")})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestUpdateKeepsKeyAndSkipsMissing(t *testing.T) {
	ctx, u, _ := newRequestContext(t)
	svc := newWidgetService()
	seedWidgets(t, ctx, svc)
	flushes := u.Flushes()

	require.NoError(t, svc.Update(ctx, 999, widgetUpdate{Name: "Ghost"}, true))
	assert.Equal(t, flushes, u.Flushes())

	require.NoError(t, svc.Update(ctx, 2, widgetUpdate{ID: 77, Name: "Bolt XL", Stock: 60}, false))
	assert.True(t, u.HasChanges())
	_, err := u.SaveChanges(ctx)
	require.NoError(t, err)

	got, err := svc.GetByID(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bolt XL", got.Name)
	assert.Equal(t, 60, got.Stock)
	assert.Equal(t, "blue", got.Color)

	missing, err := svc.GetByID(ctx, 77)
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = svc.Update(ctx, 2, widgetUpdate{}, true)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestDeleteOperations(t *testing.T) {
	ctx, u, _ := newRequestContext(t)
	svc := newWidgetService()
	seedWidgets(t, ctx, svc)

	require.NoError(t, svc.DeleteByID(ctx, 999, true))
	require.NoError(t, svc.DeleteByID(ctx, 1, false))

	detached := &widget{Name: "Bolt"}
	detached.ID = 2
	require.NoError(t, svc.Delete(ctx, detached, false))
	require.NoError(t, svc.Delete(ctx, nil, false))

	n, err := svc.DeleteByPredicate(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("stock < ?", 4)
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cog, err := database.Find[widget](ctx, u, int64(3))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteRange(ctx, []*widget{cog, nil}, true))

	rest, err := svc.GetAll(ctx, widgetSearch{SearchRequest: types.NewSearchRequest(1, 10, "")})
	require.NoError(t, err)
	assert.Equal(t, []string{"Eyelet"}, names(rest))
}

func TestRawAccess(t *testing.T) {
	ctx, _, _ := newRequestContext(t)
	svc := newWidgetService()
	seedWidgets(t, ctx, svc)

	n, err := svc.ExecuteRaw(ctx, "UPDATE widgets SET stock = stock + ? WHERE color = ?", 1, "red")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	var stocks []int
	require.NoError(t, svc.QueryRaw(ctx, &stocks, "SELECT stock FROM widgets WHERE color = ? ORDER BY stock", "red"))
	assert.Equal(t, []int{6, 13, 81}, stocks)
}

func TestHooksOverrideMapping(t *testing.T) {
	ctx, _, _ := newRequestContext(t)
	svc := NewSimpleService[widget, int64, widgetDto](Hooks[widget, widgetDto, types.SearchRequest, widgetDto, widgetDto]{
		ToDto: func(e *widget) (widgetDto, error) {
			return widgetDto{ID: e.ID, Name: strings.ToUpper(e.Name)}, nil
		},
	})

	id, err := svc.Insert(ctx, widgetDto{Name: "Anvil", Color: "red", Stock: 1}, true)
	require.NoError(t, err)

	got, err := svc.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, widgetDto{ID: id, Name: "ANVIL"}, *got)

	page, err := svc.GetAllPaginated(ctx, types.NewSearchRequest(1, 5, "id desc"), true)
	require.NoError(t, err)
	assert.Equal(t, []widgetDto{{ID: id, Name: "ANVIL"}}, page.Items)
	assert.Equal(t, int64(1), page.Info.TotalCount)
}

func TestCompositeService(t *testing.T) {
	ctx, u, _ := newRequestContext(t)
	svc := NewCompositeService[stockLevel, stockLevel, types.SearchRequest, stockLevel, stockUpdate](
		Hooks[stockLevel, stockLevel, types.SearchRequest, stockLevel, stockUpdate]{})

	require.NoError(t, svc.Insert(ctx, stockLevel{Warehouse: "north", Sku: "s-1", Qty: 4}, false))
	require.NoError(t, svc.Insert(ctx, stockLevel{Warehouse: "north", Sku: "s-2", Qty: 9}, true))
	assert.Equal(t, 1, u.Flushes())

	got, err := svc.GetByID(ctx, []any{"north", "s-1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Qty)

	none, err := svc.GetByID(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
	require.NoError(t, svc.Update(ctx, []any{}, stockUpdate{Qty: 1}, true))
	require.NoError(t, svc.DeleteByID(ctx, nil, true))
	assert.Equal(t, 1, u.Flushes())

	_, err = svc.GetByID(ctx, []any{"north"})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	require.NoError(t, svc.Update(ctx, []any{"north", "s-1"}, stockUpdate{Qty: 7}, true))
	require.NoError(t, svc.DeleteByID(ctx, []any{"north", "s-2"}, true))

	rows, err := svc.GetAll(ctx, types.NewSearchRequest(1, 10, "sku"))
	require.NoError(t, err)
	assert.Equal(t, []stockLevel{{Warehouse: "north", Sku: "s-1", Qty: 7}}, rows)
}

func TestStagedInsertThenUpdateFlushesOnce(t *testing.T) {
	ctx, u, _ := newRequestContext(t)
	svc := NewCompositeService[stockLevel, stockLevel, types.SearchRequest, stockLevel, stockUpdate](
		Hooks[stockLevel, stockLevel, types.SearchRequest, stockLevel, stockUpdate]{})

	require.NoError(t, svc.Insert(ctx, stockLevel{Warehouse: "north", Sku: "s-1", Qty: 4}, false))
	require.NoError(t, svc.Insert(ctx, stockLevel{Warehouse: "north", Sku: "s-3", Qty: 2}, false))

	staged, err := svc.GetByID(ctx, []any{"north", "s-1"})
	require.NoError(t, err)
	require.NotNil(t, staged)
	assert.Equal(t, 4, staged.Qty)

	require.NoError(t, svc.Update(ctx, []any{"north", "s-1"}, stockUpdate{Qty: 7}, false))
	require.NoError(t, svc.DeleteByID(ctx, []any{"north", "s-3"}, false))
	assert.Zero(t, u.Flushes())

	_, err = u.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Flushes())

	rows, err := QueryRaw[stockLevel](ctx, "SELECT warehouse, sku, qty FROM stock_levels ORDER BY sku")
	require.NoError(t, err)
	assert.Equal(t, []stockLevel{{Warehouse: "north", Sku: "s-1", Qty: 7}}, rows)
}
