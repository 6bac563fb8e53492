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

package database

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/tomoncle/keel/types"
)

// NoKey is written for entities whose key is not known yet.
const NoKey = "N/A"

// PropertyChange is one changed column of an audited entity.
type PropertyChange struct {
	Name string `json:"name"`
	Old  any    `json:"old"`
	New  any    `json:"new"`
}

// ChangeRecord is the audit view of one entity change.
type ChangeRecord struct {
	TableName string            `json:"tablename"`
	State     types.EntityState `json:"state"`
	Key       string            `json:"key"`
	Changes   []PropertyChange  `json:"changes"`
}

func (e *entry) record(columns []string) ChangeRecord {
	r := ChangeRecord{
		TableName: e.meta.Table,
		State:     e.state,
		Key:       e.keyString(),
		Changes:   make([]PropertyChange, 0, len(e.meta.fields)),
	}
	current := e.meta.snapshot(e.value)
	switch e.state {
	case types.Added:
		for _, f := range e.meta.fields {
			r.Changes = append(r.Changes, PropertyChange{Name: f.Name, New: current[f.Name]})
		}
	case types.Deleted:
		for _, f := range e.meta.fields {
			r.Changes = append(r.Changes, PropertyChange{Name: f.Name, Old: e.original[f.Name]})
		}
	default:
		for _, c := range columns {
			r.Changes = append(r.Changes, PropertyChange{
				Name: c,
				Old:  e.original[c],
				New:  current[c],
			})
		}
	}
	return r
}

func (e *entry) keyString() string {
	values, err := e.meta.KeyValues(e.entity)
	if err != nil || len(values) == 0 {
		return NoKey
	}
	parts := make([]string, len(values))
	unset := true
	for i, v := range values {
		if !reflect.ValueOf(v).IsZero() {
			unset = false
		}
		parts[i] = fmt.Sprint(v)
	}
	if unset {
		return NoKey
	}
	return strings.Join(parts, ",")
}
