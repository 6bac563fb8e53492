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

import (
	"errors"
	"reflect"
)

// DefaultErrorMessage is used when a failed result is built without messages.
const DefaultErrorMessage = "An error occurred while processing the request."

// ApiResult is the response envelope. Errors is non-empty iff Status is false.
type ApiResult[T any] struct {
	Status   bool     `json:"status"`
	Errors   []string `json:"errors"`
	Response T        `json:"response"`
}

// Success wraps response in a successful result.
func Success[T any](response T) ApiResult[T] {
	return ApiResult[T]{Status: true, Errors: []string{}, Response: response}
}

// Failed builds a failed result whose response is the empty value of T.
func Failed[T any](errs ...string) ApiResult[T] {
	return ApiResult[T]{Status: false, Errors: failureMessages(errs), Response: emptyOf[T]()}
}

// FailedFromError builds a failed result from err, expanding validation messages.
func FailedFromError[T any](err error) ApiResult[T] {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return Failed[T](verr.Messages...)
	}
	if err == nil {
		return Failed[T]()
	}
	return Failed[T](err.Error())
}

// PagedApiResult is the envelope of a paged listing.
type PagedApiResult[T any] struct {
	Status     bool     `json:"status"`
	Errors     []string `json:"errors"`
	Response   []T      `json:"response"`
	TotalCount int64    `json:"totalcount"`
}

// Paged builds a successful paged result.
func Paged[T any](response []T, totalCount int64) PagedApiResult[T] {
	if response == nil {
		response = make([]T, 0)
	}
	return PagedApiResult[T]{Status: true, Errors: []string{}, Response: response, TotalCount: totalCount}
}

// PagedFailed builds a failed paged result.
func PagedFailed[T any](errs ...string) PagedApiResult[T] {
	return PagedApiResult[T]{Status: false, Errors: failureMessages(errs), Response: make([]T, 0)}
}

// PagedFrom converts a page with totals into a paged result.
func PagedFrom[T any](p *Paginate[T]) PagedApiResult[T] {
	var total int64
	if p.Info != nil {
		total = p.Info.TotalCount
	}
	return Paged(p.Items, total)
}

// ToApiResult drops the total count.
func (r PagedApiResult[T]) ToApiResult() ApiResult[[]T] {
	if !r.Status {
		return Failed[[]T](r.Errors...)
	}
	return Success(r.Response)
}

func failureMessages(errs []string) []string {
	if len(errs) == 0 {
		return []string{DefaultErrorMessage}
	}
	return errs
}

// emptyOf returns "" for strings, empty slices and maps, and the zero value otherwise.
func emptyOf[T any]() T {
	var zero T
	t := reflect.TypeOf((*T)(nil)).Elem()
	switch t.Kind() {
	case reflect.Slice:
		return reflect.MakeSlice(t, 0, 0).Interface().(T)
	case reflect.Map:
		return reflect.MakeMap(t).Interface().(T)
	default:
		return zero
	}
}
