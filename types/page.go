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

package types

import "fmt"

// QueryFilter describes a WHERE clause schema and its argument values.
type QueryFilter struct {
	Schema string
	Args   []interface{}
}

// NewQueryFilter creates a new query filter with schema and args.
func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{schema, args}
}

// Searcher is the criteria contract consumed by the generic services.
type Searcher interface {
	// Page returns the 1-based page number and the page size.
	Page() (number int, size int)
	// SortExpression returns a comma separated "field [asc|desc]" list, or "".
	SortExpression() string
}

// SearchRequest is the base criteria embedded by concrete search DTOs.
type SearchRequest struct {
	PageNumber int    `json:"pageNumber" form:"pageNumber" validate:"gte=1"`
	Size       int    `json:"size" form:"size" validate:"gte=1"`
	Sorting    string `json:"sorting" form:"sorting"`
}

var _ Searcher = SearchRequest{}

// NewSearchRequest constructs a SearchRequest.
func NewSearchRequest(pageNumber, size int, sorting string) SearchRequest {
	return SearchRequest{PageNumber: pageNumber, Size: size, Sorting: sorting}
}

func (r SearchRequest) Page() (int, int) { return r.PageNumber, r.Size }

func (r SearchRequest) SortExpression() string { return r.Sorting }

// Offset is the number of rows skipped before the requested page.
func (r SearchRequest) Offset() int {
	return (r.PageNumber - 1) * r.Size
}

// CheckWindow validates a page window.
func CheckWindow(pageNumber, pageSize int) error {
	if pageNumber < 1 {
		return fmt.Errorf("page number must be at least 1, got %d: %w", pageNumber, ErrInvalidArgument)
	}
	if pageSize < 1 {
		return fmt.Errorf("page size must be positive, got %d: %w", pageSize, ErrInvalidArgument)
	}
	return nil
}

// PagingInfo holds the totals of a paged query.
type PagingInfo struct {
	TotalCount  int64 `json:"totalCount"`
	TotalPage   int   `json:"totalPage"`
	HasNext     bool  `json:"hasNext"`
	HasPrevious bool  `json:"hasPrevious"`
}

// NewPagingInfo derives page totals from a row count.
func NewPagingInfo(totalCount int64, pageNumber, pageSize int) *PagingInfo {
	totalPage := 0
	if pageSize > 0 {
		totalPage = int((totalCount + int64(pageSize) - 1) / int64(pageSize))
	}
	return &PagingInfo{
		TotalCount:  totalCount,
		TotalPage:   totalPage,
		HasNext:     pageNumber < totalPage,
		HasPrevious: pageNumber > 1,
	}
}

// Paginate is one page of a query result. Info is nil when totals were not requested.
type Paginate[T any] struct {
	PageNumber int         `json:"pageNumber"`
	Size       int         `json:"size"`
	Items      []T         `json:"items"`
	Info       *PagingInfo `json:"info,omitempty"`
}

// NewPaginate builds a page, never leaving Items nil.
func NewPaginate[T any](pageNumber, size int, items []T, info *PagingInfo) *Paginate[T] {
	if items == nil {
		items = make([]T, 0)
	}
	return &Paginate[T]{PageNumber: pageNumber, Size: size, Items: items, Info: info}
}

// MapPaginate converts the items of p with fn, keeping window and totals.
func MapPaginate[S any, D any](p *Paginate[S], fn func(S) (D, error)) (*Paginate[D], error) {
	items := make([]D, 0, len(p.Items))
	for _, item := range p.Items {
		d, err := fn(item)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return NewPaginate(p.PageNumber, p.Size, items, p.Info), nil
}
