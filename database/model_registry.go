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
	"sort"
	"sync"

	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
)

var defaultRegistry = NewEntityRegistry()

// SQLModel represents a registered entity. Instance should return a struct
// pointer compatible with Bun, and Priority controls ordering when creating
// tables (lower values first).
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// EntityRegistry holds the registered entities and, once built, their key metadata.
// After Build the metadata is read only and may be shared across requests.
type EntityRegistry struct {
	mu     sync.RWMutex
	models []SQLModel
	metas  map[reflect.Type]*EntityMeta
}

// NewEntityRegistry returns an empty registry.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{
		models: make([]SQLModel, 0),
		metas:  make(map[reflect.Type]*EntityMeta),
	}
}

// Register adds models. They are resolved on the next Build.
func (r *EntityRegistry) Register(models ...SQLModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, models...)
}

// Models returns the registered models sorted by ascending priority.
func (r *EntityRegistry) Models() []SQLModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]SQLModel, len(r.models))
	copy(result, r.models)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority() < result[j].Priority()
	})
	return result
}

// Instances returns the model instances in priority order.
func (r *EntityRegistry) Instances() []interface{} {
	models := r.Models()
	instances := make([]interface{}, len(models))
	for i, model := range models {
		instances[i] = model.Instance()
	}
	return instances
}

// Build resolves the bun table of every registered model. A model without a
// primary key fails the whole build.
func (r *EntityRegistry) Build(db *bun.DB) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	metas := make(map[reflect.Type]*EntityMeta)
	for _, instance := range r.Instances() {
		typ := indirectType(reflect.TypeOf(instance))
		if typ.Kind() != reflect.Struct {
			return fmt.Errorf("model %T is not a struct: %w", instance, types.ErrInvalidArgument)
		}
		meta, err := newEntityMeta(typ, db.Table(typ))
		if err != nil {
			return err
		}
		metas[typ] = meta
	}

	r.mu.Lock()
	r.metas = metas
	r.mu.Unlock()
	return nil
}

// Resolve returns the metadata of typ (a struct or pointer to struct type).
func (r *EntityRegistry) Resolve(typ reflect.Type) (*EntityMeta, error) {
	if typ == nil {
		return nil, fmt.Errorf("nil entity type: %w", types.ErrKeyNotFound)
	}
	typ = indirectType(typ)
	r.mu.RLock()
	meta, ok := r.metas[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("entity %s is not registered: %w", typ, types.ErrKeyNotFound)
	}
	return meta, nil
}

// ResolveOf is Resolve for a static type.
func ResolveOf[T any](r *EntityRegistry) (*EntityMeta, error) {
	return r.Resolve(reflect.TypeOf((*T)(nil)).Elem())
}

type ModelAdapter struct {
	instance interface{}
	priority int
}

// NewModelAdapter wraps a struct instance and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{
		instance: instance,
		priority: priority,
	}
}

func (a *ModelAdapter) Instance() interface{} {
	return a.instance
}

func (a *ModelAdapter) Priority() int {
	return a.priority
}

// DefaultRegistry returns the process wide registry used by InitDB.
func DefaultRegistry() *EntityRegistry {
	return defaultRegistry
}

// GetRegisteredModels returns all models registered in the default registry
// sorted by ascending priority.
func GetRegisteredModels() []SQLModel {
	return defaultRegistry.Models()
}

// RegisteredModel adds a model to the default registry.
func RegisteredModel(model SQLModel) {
	defaultRegistry.Register(model)
}

func RegisteredModelInstances() []interface{} {
	return defaultRegistry.Instances()
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
