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

import "encoding/json"

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// EntityState is the tracking state of an entity inside a unit of work.
type EntityState int

const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
)

var entityStateNames = [...]string{"Detached", "Unchanged", "Added", "Modified", "Deleted"}

var entityStateDescs = [...]string{
	"not tracked",
	"tracked, equal to the last persisted values",
	"staged for insert",
	"staged for update",
	"staged for delete",
}

var _ BaseEnum = Detached

func (s EntityState) IsValid() bool { return s >= Detached && s <= Deleted }

func (s EntityState) Number() int {
	if !s.IsValid() {
		return IllegalValue
	}
	return int(s)
}

func (s EntityState) Name() string {
	if !s.IsValid() {
		return IllegalName
	}
	return entityStateNames[s]
}

func (s EntityState) String() string { return s.Name() }

func (s EntityState) Desc() string {
	if !s.IsValid() {
		return IllegalDesc
	}
	return entityStateDescs[s]
}

// Pending reports whether the state produces a statement on flush.
func (s EntityState) Pending() bool { return s == Added || s == Modified || s == Deleted }

// MarshalJSON writes the state name.
func (s EntityState) MarshalJSON() ([]byte, error) { return json.Marshal(s.Name()) }
