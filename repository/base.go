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

package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

type baseRepositoryImpl[T any] struct {
	uow  *database.UnitOfWork
	meta *database.EntityMeta
}

// NewRepository returns a generic repository bound to uow. T must be registered.
func NewRepository[T any](uow *database.UnitOfWork) (Repository[T], error) {
	if uow == nil {
		return nil, fmt.Errorf("unit of work cannot be nil: %w", types.ErrInvalidArgument)
	}
	meta, err := database.ResolveOf[T](uow.Registry())
	if err != nil {
		return nil, err
	}
	return &baseRepositoryImpl[T]{uow: uow, meta: meta}, nil
}

func (r *baseRepositoryImpl[T]) UnitOfWork() *database.UnitOfWork { return r.uow }

func (r *baseRepositoryImpl[T]) Metadata() *database.EntityMeta { return r.meta }

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect { return r.uow.DB().Dialect() }

// NewSelect starts a select over T that joins the active transaction.
func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery {
	return r.uow.IDB().NewSelect().Model((*T)(nil))
}

func (r *baseRepositoryImpl[T]) Find(ctx context.Context, keys ...any) (*T, error) {
	return database.Find[T](ctx, r.uow, keys...)
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	entities := make([]*T, 0)
	query := r.NewSelect()
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	if err := query.Scan(ctx, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	entities := make([]*T, 0)
	err := r.NewSelect().Where(query, args...).Scan(ctx, &entities)
	if err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) Add(entity ...*T) error {
	for _, e := range entity {
		if err := r.uow.Add(e); err != nil {
			return err
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) Delete(entity *T) error {
	if entity == nil {
		return nil
	}
	return r.uow.Remove(entity)
}

// DeleteByKey stages the deletion of the row with keys. A missing row is not an error.
func (r *baseRepositoryImpl[T]) DeleteByKey(ctx context.Context, keys ...any) error {
	entity, err := r.Find(ctx, keys...)
	if err != nil || entity == nil {
		return err
	}
	return r.uow.Remove(entity)
}

// DeleteByPredicate loads the rows matching predicate and stages their deletion.
// It returns the number of staged rows.
func (r *baseRepositoryImpl[T]) DeleteByPredicate(ctx context.Context, predicate Predicate) (int, error) {
	if predicate == nil {
		return 0, fmt.Errorf("delete predicate cannot be nil: %w", types.ErrInvalidArgument)
	}
	entities := make([]*T, 0)
	if err := predicate(r.NewSelect()).Scan(ctx, &entities); err != nil {
		return 0, err
	}
	for _, e := range entities {
		tracked, err := r.uow.Track(e)
		if err != nil {
			return 0, err
		}
		if err := r.uow.Remove(tracked); err != nil {
			return 0, err
		}
	}
	return len(entities), nil
}

func (r *baseRepositoryImpl[T]) DeleteRange(entity ...*T) error {
	for _, e := range entity {
		if err := r.Delete(e); err != nil {
			return err
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields cannot be empty")
	}
	if len(entity) == 0 {
		return nil
	}
	entities := make([]*T, len(entity))
	copy(entities, entity)

	db := r.uow.IDB()
	switch {
	case db.Dialect().Features().Has(feature.InsertOnConflict):
		return r.upsertWithPostgresqlOrSQLite(ctx, db.NewInsert(), fields, duplicateKeys, entities)
	case db.Dialect().Features().Has(feature.InsertOnDuplicateKey):
		return r.upsertWithMySQL(ctx, db.NewInsert(), fields, entities)
	default:
		// Fallback: Separate insert/update logic
		return r.upsertFallback(ctx, db, entities)
	}
}

func (r *baseRepositoryImpl[T]) upsertWithMySQL(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, entities []*T) error {
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = VALUES(%s)", field, field))
	}
	_, err := insertQuery.
		Model(&entities).
		On("DUPLICATE KEY UPDATE " + strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertWithPostgresqlOrSQLite(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, duplicateKeys []string, entities []*T) error {
	if len(duplicateKeys) == 0 {
		for _, k := range r.meta.Keys {
			duplicateKeys = append(duplicateKeys, k.Column)
		}
	}
	keyNames := strings.Join(duplicateKeys, ",")
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = EXCLUDED.%s", field, field))
	}
	_, err := insertQuery.
		Model(&entities).
		On("CONFLICT (" + keyNames + ") DO UPDATE").
		Set(strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertFallback(ctx context.Context, db bun.IDB, entities []*T) error {
	for _, entity := range entities {
		_, err := db.NewInsert().Model(entity).Exec(ctx)
		if err != nil {
			_, updateErr := db.NewUpdate().Model(entity).WherePK().Exec(ctx)
			if updateErr != nil {
				return fmt.Errorf("upsert failed for entity: insert error: %v, update error: %v", err, updateErr)
			}
		}
	}
	return nil
}

// WhereIf applies where only when cond holds.
func WhereIf(q *bun.SelectQuery, cond bool, where string, args ...interface{}) *bun.SelectQuery {
	if !cond {
		return q
	}
	return q.Where(where, args...)
}
