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

	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
)

// Paginate restricts q to one page: skip (pageNumber-1)*pageSize rows, take pageSize.
func Paginate(q *bun.SelectQuery, pageNumber, pageSize int) (*bun.SelectQuery, error) {
	if err := types.CheckWindow(pageNumber, pageSize); err != nil {
		return nil, err
	}
	return q.Offset((pageNumber - 1) * pageSize).Limit(pageSize), nil
}

// ToPagedList scans one page of q into T values. The total row count is only
// queried when includeInfo is set.
func ToPagedList[T any](ctx context.Context, q *bun.SelectQuery, pageNumber, pageSize int, includeInfo bool) (*types.Paginate[T], error) {
	if err := types.CheckWindow(pageNumber, pageSize); err != nil {
		return nil, err
	}

	var info *types.PagingInfo
	if includeInfo {
		total, err := q.Count(ctx)
		if err != nil {
			return nil, err
		}
		info = types.NewPagingInfo(int64(total), pageNumber, pageSize)
	}

	items := make([]T, 0, pageSize)
	paged, _ := Paginate(q, pageNumber, pageSize)
	if err := paged.Scan(ctx, &items); err != nil {
		return nil, err
	}
	return types.NewPaginate(pageNumber, pageSize, items, info), nil
}
