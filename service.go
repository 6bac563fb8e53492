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

	"github.com/jinzhu/copier"
	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/repository"
	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
)

// ErrNoUnitOfWork is returned when a service is called outside a request scope.
var ErrNoUnitOfWork = fmt.Errorf("no unit of work bound to context: %w", types.ErrInvalidOperation)

type Service[TEntity any, TDto any, TSearch types.Searcher] interface {
	// GetAll returns one window of the filtered and ordered rows, without counting.
	GetAll(ctx context.Context, search TSearch) ([]TDto, error)

	// GetAllPaginated returns one page. The total is only counted when includeInfo is set.
	GetAllPaginated(ctx context.Context, search TSearch, includeInfo bool) (*types.Paginate[TDto], error)

	// Delete stages the removal of entity, attaching it first when detached.
	Delete(ctx context.Context, entity *TEntity, autoSave bool) error

	// DeleteByPredicate stages the removal of every row matching predicate.
	DeleteByPredicate(ctx context.Context, predicate repository.Predicate, autoSave bool) (int, error)

	// DeleteRange stages the removal of entities.
	DeleteRange(ctx context.Context, entities []*TEntity, autoSave bool) error

	// ExecuteRaw runs a parameterized statement in the request transaction.
	ExecuteRaw(ctx context.Context, query string, args ...any) (int64, error)

	// QueryRaw scans a parameterized query into dest.
	QueryRaw(ctx context.Context, dest any, query string, args ...any) error
}

// Hooks customizes a generic service. Nil members fall back to the defaults:
// no filter, no sort aliases and field-by-name copying with copier.
type Hooks[TEntity any, TDto any, TSearch types.Searcher, TInsert any, TUpdate any] struct {
	// Filter narrows the base query from the search criteria. It always runs
	// before ordering and pagination.
	Filter func(q *bun.SelectQuery, search TSearch) *bun.SelectQuery

	// Orders maps extra sort names to column names.
	Orders map[string]string

	ToDto    func(entity *TEntity) (TDto, error)
	ToEntity func(dto TInsert) (*TEntity, error)
	Apply    func(dto TUpdate, entity *TEntity) error
}

type baseServiceCore[TEntity any, TDto any, TSearch types.Searcher, TInsert any, TUpdate any] struct {
	hooks Hooks[TEntity, TDto, TSearch, TInsert, TUpdate]
}

// UnitOfWork returns the unit of work bound to ctx.
func UnitOfWork(ctx context.Context) (*database.UnitOfWork, error) {
	u, ok := database.UnitOfWorkFrom(ctx)
	if !ok {
		return nil, ErrNoUnitOfWork
	}
	return u, nil
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) baseRepo(ctx context.Context) (repository.Repository[TEntity], error) {
	u, err := UnitOfWork(ctx)
	if err != nil {
		return nil, err
	}
	return repository.NewRepository[TEntity](u)
}

// query builds filter -> order over the entity table.
func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) query(repo repository.Repository[TEntity], search TSearch) (*bun.SelectQuery, error) {
	q := repo.NewSelect()
	if s.hooks.Filter != nil {
		q = s.hooks.Filter(q, search)
	}
	return repository.NewOrderResolver(repo.Metadata(), s.hooks.Orders).Apply(q, search.SortExpression())
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) GetAll(ctx context.Context, search TSearch) ([]TDto, error) {
	page, err := s.page(ctx, search, false)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) GetAllPaginated(ctx context.Context, search TSearch, includeInfo bool) (*types.Paginate[TDto], error) {
	return s.page(ctx, search, includeInfo)
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) page(ctx context.Context, search TSearch, includeInfo bool) (*types.Paginate[TDto], error) {
	pageNumber, pageSize := search.Page()
	if err := types.CheckWindow(pageNumber, pageSize); err != nil {
		return nil, err
	}
	repo, err := s.baseRepo(ctx)
	if err != nil {
		return nil, err
	}
	q, err := s.query(repo, search)
	if err != nil {
		return nil, err
	}
	entities, err := repository.ToPagedList[TEntity](ctx, q, pageNumber, pageSize, includeInfo)
	if err != nil {
		return nil, err
	}
	return types.MapPaginate(entities, func(e TEntity) (TDto, error) { return s.toDto(&e) })
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) Delete(ctx context.Context, entity *TEntity, autoSave bool) error {
	if entity == nil {
		return nil
	}
	u, err := UnitOfWork(ctx)
	if err != nil {
		return err
	}
	tracked, err := u.Track(entity)
	if err != nil {
		return err
	}
	if err := u.Remove(tracked); err != nil {
		return err
	}
	return s.save(ctx, u, autoSave)
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) DeleteByPredicate(ctx context.Context, predicate repository.Predicate, autoSave bool) (int, error) {
	repo, err := s.baseRepo(ctx)
	if err != nil {
		return 0, err
	}
	n, err := repo.DeleteByPredicate(ctx, predicate)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.save(ctx, repo.UnitOfWork(), autoSave)
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) DeleteRange(ctx context.Context, entities []*TEntity, autoSave bool) error {
	u, err := UnitOfWork(ctx)
	if err != nil {
		return err
	}
	for _, e := range entities {
		if e == nil {
			continue
		}
		tracked, err := u.Track(e)
		if err != nil {
			return err
		}
		if err := u.Remove(tracked); err != nil {
			return err
		}
	}
	return s.save(ctx, u, autoSave)
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) ExecuteRaw(ctx context.Context, query string, args ...any) (int64, error) {
	u, err := UnitOfWork(ctx)
	if err != nil {
		return 0, err
	}
	return u.Exec(ctx, query, args...)
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) QueryRaw(ctx context.Context, dest any, query string, args ...any) error {
	u, err := UnitOfWork(ctx)
	if err != nil {
		return err
	}
	return u.Query(ctx, dest, query, args...)
}

// QueryRaw runs a parameterized query in the request scope and scans every row into T.
func QueryRaw[T any](ctx context.Context, query string, args ...any) ([]T, error) {
	u, err := UnitOfWork(ctx)
	if err != nil {
		return nil, err
	}
	return database.QueryAll[T](ctx, u, query, args...)
}

// insert validates and maps dto, then stages the new entity.
func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) insert(ctx context.Context, dto TInsert) (repository.Repository[TEntity], *TEntity, error) {
	if err := types.Validate(dto); err != nil {
		return nil, nil, err
	}
	repo, err := s.baseRepo(ctx)
	if err != nil {
		return nil, nil, err
	}
	entity, err := s.toEntity(dto)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.Add(entity); err != nil {
		return nil, nil, err
	}
	return repo, entity, nil
}

// update applies dto to the row with keys. Key columns are restored after mapping.
func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) update(ctx context.Context, keys []any, dto TUpdate, autoSave bool) error {
	if err := types.Validate(dto); err != nil {
		return err
	}
	repo, err := s.baseRepo(ctx)
	if err != nil {
		return err
	}
	entity, err := repo.Find(ctx, keys...)
	if err != nil || entity == nil {
		return err
	}
	original, err := repo.Metadata().KeyValues(entity)
	if err != nil {
		return err
	}
	if err := s.apply(dto, entity); err != nil {
		return err
	}
	if err := repo.Metadata().SetKeyValues(entity, original...); err != nil {
		return err
	}
	return s.save(ctx, repo.UnitOfWork(), autoSave)
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) getByID(ctx context.Context, keys []any) (*TDto, error) {
	repo, err := s.baseRepo(ctx)
	if err != nil {
		return nil, err
	}
	entity, err := repo.Find(ctx, keys...)
	if err != nil || entity == nil {
		return nil, err
	}
	dto, err := s.toDto(entity)
	if err != nil {
		return nil, err
	}
	return &dto, nil
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) deleteByID(ctx context.Context, keys []any, autoSave bool) error {
	repo, err := s.baseRepo(ctx)
	if err != nil {
		return err
	}
	entity, err := repo.Find(ctx, keys...)
	if err != nil || entity == nil {
		return err
	}
	if err := repo.Delete(entity); err != nil {
		return err
	}
	return s.save(ctx, repo.UnitOfWork(), autoSave)
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) save(ctx context.Context, u *database.UnitOfWork, autoSave bool) error {
	if !autoSave {
		return nil
	}
	_, err := u.SaveChanges(ctx)
	return err
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) toDto(entity *TEntity) (TDto, error) {
	if s.hooks.ToDto != nil {
		return s.hooks.ToDto(entity)
	}
	var dto TDto
	err := copier.Copy(&dto, entity)
	return dto, err
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) toEntity(dto TInsert) (*TEntity, error) {
	if s.hooks.ToEntity != nil {
		return s.hooks.ToEntity(dto)
	}
	entity := new(TEntity)
	if err := copier.Copy(entity, &dto); err != nil {
		return nil, err
	}
	return entity, nil
}

func (s *baseServiceCore[TEntity, TDto, TSearch, TInsert, TUpdate]) apply(dto TUpdate, entity *TEntity) error {
	if s.hooks.Apply != nil {
		return s.hooks.Apply(dto, entity)
	}
	return copier.Copy(entity, &dto)
}
