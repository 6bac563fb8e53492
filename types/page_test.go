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
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPagingInfo(t *testing.T) {
	tests := []struct {
		name                  string
		total                 int64
		page, size            int
		wantPages             int
		wantNext, wantPrevious bool
	}{
		{"empty", 0, 1, 10, 0, false, false},
		{"exact", 20, 1, 10, 2, true, false},
		{"remainder", 21, 3, 10, 3, false, true},
		{"middle", 50, 2, 10, 5, true, true},
		{"beyond", 5, 4, 10, 1, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := NewPagingInfo(tt.total, tt.page, tt.size)
			assert.Equal(t, tt.total, info.TotalCount)
			assert.Equal(t, tt.wantPages, info.TotalPage)
			assert.Equal(t, tt.wantNext, info.HasNext)
			assert.Equal(t, tt.wantPrevious, info.HasPrevious)
		})
	}
}

func TestCheckWindow(t *testing.T) {
	assert.NoError(t, CheckWindow(1, 1))
	assert.True(t, errors.Is(CheckWindow(0, 10), ErrInvalidArgument))
	assert.True(t, errors.Is(CheckWindow(-3, 10), ErrInvalidArgument))
	assert.True(t, errors.Is(CheckWindow(1, 0), ErrInvalidArgument))
}

func TestPaginateWireShape(t *testing.T) {
	body, err := json.Marshal(NewPaginate[int](1, 10, nil, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"pageNumber":1,"size":10,"items":[]}`, string(body))

	body, err = json.Marshal(NewPaginate(1, 2, []int{1, 2}, NewPagingInfo(3, 1, 2)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"pageNumber":1,"size":2,"items":[1,2],
		"info":{"totalCount":3,"totalPage":2,"hasNext":true,"hasPrevious":false}}`, string(body))
}

func TestMapPaginate(t *testing.T) {
	p := NewPaginate(2, 3, []int{4, 5, 6}, NewPagingInfo(9, 2, 3))
	out, err := MapPaginate(p, func(i int) (string, error) { return strconv.Itoa(i), nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5", "6"}, out.Items)
	assert.Same(t, p.Info, out.Info)

	_, err = MapPaginate(p, func(int) (string, error) { return "", errors.New("x") })
	assert.Error(t, err)
}

func TestSearchRequestValidation(t *testing.T) {
	assert.NoError(t, Validate(NewSearchRequest(1, 10, "")))

	err := Validate(NewSearchRequest(0, 0, ""))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Messages, 2)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	assert.NoError(t, Validate(42))
	assert.Equal(t, 20, NewSearchRequest(3, 10, "").Offset())
}

func TestEntityState(t *testing.T) {
	assert.Equal(t, "Added", Added.String())
	assert.True(t, Deleted.Pending())
	assert.False(t, Unchanged.Pending())
	assert.Equal(t, IllegalName, EntityState(42).Name())
	assert.Equal(t, IllegalValue, EntityState(-1).Number())

	body, err := json.Marshal(Modified)
	require.NoError(t, err)
	assert.Equal(t, `"Modified"`, string(body))
}
