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

	"github.com/tomoncle/keel/types"
)

// CompositeKeyService addresses rows by their full key list, in key column order.
// Every keyed operation is a no-op on an empty key list.
type CompositeKeyService[TEntity any, TDto any, TSearch types.Searcher, TInsert any, TUpdate any] interface {
	Service[TEntity, TDto, TSearch]

	GetByID(ctx context.Context, keys []any) (*TDto, error)
	Insert(ctx context.Context, dto TInsert, autoSave bool) error
	Update(ctx context.Context, keys []any, dto TUpdate, autoSave bool) error
	DeleteByID(ctx context.Context, keys []any, autoSave bool) error
}

type CompositeService[TEntity any, TDto any, TSearch types.Searcher, TInsert any, TUpdate any] struct {
	baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]
}

var _ CompositeKeyService[struct{}, struct{}, types.SearchRequest, struct{}, struct{}] = (*CompositeService[struct{}, struct{}, types.SearchRequest, struct{}, struct{}])(nil)

func NewCompositeService[TEntity any, TDto any, TSearch types.Searcher, TInsert any, TUpdate any](
	hooks Hooks[TEntity, TDto, TSearch, TInsert, TUpdate]) *CompositeService[TEntity, TDto, TSearch, TInsert, TUpdate] {
	return &CompositeService[TEntity, TDto, TSearch, TInsert, TUpdate]{
		baseServiceCore: baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]{hooks: hooks},
	}
}

func (s *CompositeService[TEntity, TDto, TSearch, TInsert, TUpdate]) GetByID(ctx context.Context, keys []any) (*TDto, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return s.getByID(ctx, keys)
}

func (s *CompositeService[TEntity, TDto, TSearch, TInsert, TUpdate]) Insert(ctx context.Context, dto TInsert, autoSave bool) error {
	repo, _, err := s.insert(ctx, dto)
	if err != nil {
		return err
	}
	return s.save(ctx, repo.UnitOfWork(), autoSave)
}

func (s *CompositeService[TEntity, TDto, TSearch, TInsert, TUpdate]) Update(ctx context.Context, keys []any, dto TUpdate, autoSave bool) error {
	if len(keys) == 0 {
		return nil
	}
	return s.update(ctx, keys, dto, autoSave)
}

func (s *CompositeService[TEntity, TDto, TSearch, TInsert, TUpdate]) DeleteByID(ctx context.Context, keys []any, autoSave bool) error {
	if len(keys) == 0 {
		return nil
	}
	return s.deleteByID(ctx, keys, autoSave)
}
