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
	"fmt"
	"reflect"

	"github.com/tomoncle/keel/types"
)

type SingleKeyService[TEntity any, K comparable, TDto any, TSearch types.Searcher, TInsert any, TUpdate any] interface {
	Service[TEntity, TDto, TSearch]

	// GetByID returns the mapped row, or nil when no row has id.
	GetByID(ctx context.Context, id K) (*TDto, error)

	// Insert stages a new row. The generated key is only known, and returned,
	// when autoSave flushes it.
	Insert(ctx context.Context, dto TInsert, autoSave bool) (K, error)

	// Update maps dto onto the row with id. A missing row is a no-op.
	Update(ctx context.Context, id K, dto TUpdate, autoSave bool) error

	// DeleteByID stages the removal of the row with id. A missing row is a no-op.
	DeleteByID(ctx context.Context, id K, autoSave bool) error
}

// BaseService is the generic service for entities with a single key column.
type BaseService[TEntity any, K comparable, TDto any, TSearch types.Searcher, TInsert any, TUpdate any] struct {
	baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]
}

var _ SingleKeyService[struct{}, int64, struct{}, types.SearchRequest, struct{}, struct{}] = (*BaseService[struct{}, int64, struct{}, types.SearchRequest, struct{}, struct{}])(nil)

// NewBaseService returns a single-key service customized by hooks.
func NewBaseService[TEntity any, K comparable, TDto any, TSearch types.Searcher, TInsert any, TUpdate any](
	hooks Hooks[TEntity, TDto, TSearch, TInsert, TUpdate]) *BaseService[TEntity, K, TDto, TSearch, TInsert, TUpdate] {
	return &BaseService[TEntity, K, TDto, TSearch, TInsert, TUpdate]{
		baseServiceCore: baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]{hooks: hooks},
	}
}

// NewSimpleService returns a single-key service that reads and writes one DTO
// type and searches with the plain SearchRequest.
func NewSimpleService[TEntity any, K comparable, TDto any](
	hooks Hooks[TEntity, TDto, types.SearchRequest, TDto, TDto]) *BaseService[TEntity, K, TDto, types.SearchRequest, TDto, TDto] {
	return NewBaseService[TEntity, K, TDto, types.SearchRequest, TDto, TDto](hooks)
}

func (s *BaseService[TEntity, K, TDto, TSearch, TInsert, TUpdate]) GetByID(ctx context.Context, id K) (*TDto, error) {
	return s.getByID(ctx, []any{id})
}

func (s *BaseService[TEntity, K, TDto, TSearch, TInsert, TUpdate]) Insert(ctx context.Context, dto TInsert, autoSave bool) (K, error) {
	var zero K
	repo, entity, err := s.insert(ctx, dto)
	if err != nil || !autoSave {
		return zero, err
	}
	if err := s.save(ctx, repo.UnitOfWork(), true); err != nil {
		return zero, err
	}
	if _, err := repo.Metadata().SingleKey(); err != nil {
		return zero, err
	}
	keys, err := repo.Metadata().KeyValues(entity)
	if err != nil {
		return zero, err
	}
	return keyAs[K](keys[0])
}

func (s *BaseService[TEntity, K, TDto, TSearch, TInsert, TUpdate]) Update(ctx context.Context, id K, dto TUpdate, autoSave bool) error {
	return s.update(ctx, []any{id}, dto, autoSave)
}

func (s *BaseService[TEntity, K, TDto, TSearch, TInsert, TUpdate]) DeleteByID(ctx context.Context, id K, autoSave bool) error {
	return s.deleteByID(ctx, []any{id}, autoSave)
}

func keyAs[K any](v any) (K, error) {
	if k, ok := v.(K); ok {
		return k, nil
	}
	var zero K
	rv := reflect.ValueOf(v)
	target := reflect.TypeOf(zero)
	if !rv.IsValid() || target == nil || !rv.Type().ConvertibleTo(target) {
		return zero, fmt.Errorf("key value %v is not a %T: %w", v, zero, types.ErrInvalidOperation)
	}
	return rv.Convert(target).Interface().(K), nil
}
