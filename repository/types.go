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

	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// Predicate narrows a select over the repository's entity.
type Predicate func(q *bun.SelectQuery) *bun.SelectQuery

// ReadRepository defines lookups over a generic entity type. List and Query
// results are not tracked; Find results are.
type ReadRepository[T any] interface {
	Find(ctx context.Context, keys ...any) (*T, error)

	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)
}

// StagingRepository stages changes in the unit of work. Nothing is written
// until the unit of work is saved.
type StagingRepository[T any] interface {
	Add(entity ...*T) error

	Delete(entity *T) error

	DeleteByKey(ctx context.Context, keys ...any) error

	DeleteByPredicate(ctx context.Context, predicate Predicate) (int, error)

	DeleteRange(entity ...*T) error
}

// Repository combines lookups and staging over one unit of work and exposes
// Bun query builders for advanced use cases.
type Repository[T any] interface {
	ReadRepository[T]
	StagingRepository[T]

	// Upsert writes immediately, inside the unit of work's transaction if one is open.
	Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error

	UnitOfWork() *database.UnitOfWork
	Metadata() *database.EntityMeta
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
}
