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
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

// KeyProperty is one primary key component of an entity.
type KeyProperty struct {
	Name      string       // Go field name
	Column    string       // column name
	Type      reflect.Type // field type without pointers
	Generated bool         // assigned by the store (autoincrement or identity)
	index     []int
}

// EntityMeta is the resolved table metadata of a registered entity.
type EntityMeta struct {
	Type    reflect.Type
	Table   string
	Keys    []KeyProperty
	Columns []string

	fields  []*schema.Field
	byName  map[string]*schema.Field
	keyCols map[string]struct{}
}

func newEntityMeta(typ reflect.Type, table *schema.Table) (*EntityMeta, error) {
	if table == nil || len(table.PKs) == 0 {
		return nil, fmt.Errorf("entity %s has no primary key: %w", typ, types.ErrKeyNotFound)
	}
	meta := &EntityMeta{
		Type:    typ,
		Table:   table.Name,
		Keys:    make([]KeyProperty, 0, len(table.PKs)),
		Columns: make([]string, 0, len(table.Fields)),
		fields:  table.Fields,
		byName:  make(map[string]*schema.Field, len(table.Fields)*2),
		keyCols: make(map[string]struct{}, len(table.PKs)),
	}
	for _, pk := range table.PKs {
		meta.Keys = append(meta.Keys, KeyProperty{
			Name:      pk.GoName,
			Column:    pk.Name,
			Type:      pk.IndirectType,
			Generated: pk.AutoIncrement || pk.Identity,
			index:     pk.Index,
		})
		meta.keyCols[pk.Name] = struct{}{}
	}
	for _, f := range table.Fields {
		meta.Columns = append(meta.Columns, f.Name)
		meta.byName[strings.ToLower(f.GoName)] = f
		meta.byName[strings.ToLower(f.Name)] = f
	}
	return meta, nil
}

// SingleKey returns the only key property. Composite keys are rejected.
func (m *EntityMeta) SingleKey() (KeyProperty, error) {
	if len(m.Keys) != 1 {
		return KeyProperty{}, fmt.Errorf("entity %s has %d key columns, expected exactly one: %w",
			m.Table, len(m.Keys), types.ErrInvalidOperation)
	}
	return m.Keys[0], nil
}

// CompositeKeys returns the client assigned key components.
func (m *EntityMeta) CompositeKeys() []KeyProperty {
	keys := make([]KeyProperty, 0, len(m.Keys))
	for _, k := range m.Keys {
		if !k.Generated {
			keys = append(keys, k)
		}
	}
	return keys
}

// IdentityKey returns the key when the entity has exactly one store generated
// integral key, along with the SQL type used to declare a variable of it.
func (m *EntityMeta) IdentityKey(name dialect.Name) (KeyProperty, string, bool) {
	if len(m.Keys) != 1 || !m.Keys[0].Generated {
		return KeyProperty{}, "", false
	}
	key := m.Keys[0]
	sqlType, ok := identitySQLType(name, key.Type.Kind())
	if !ok {
		return KeyProperty{}, "", false
	}
	return key, sqlType, true
}

func identitySQLType(name dialect.Name, kind reflect.Kind) (string, bool) {
	switch kind {
	case reflect.Uint8:
		if name == dialect.PG {
			return "SMALLINT", true
		}
		return "TINYINT", true
	case reflect.Int16:
		return "SMALLINT", true
	case reflect.Int32:
		if name == dialect.PG {
			return "INTEGER", true
		}
		return "INT", true
	case reflect.Int64, reflect.Int:
		return "BIGINT", true
	}
	return "", false
}

// Column resolves a Go field name or column name, case insensitively, to a
// mapped column.
func (m *EntityMeta) Column(name string) (string, bool) {
	f, ok := m.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", false
	}
	return f.Name, true
}

// IsKeyColumn reports whether column is part of the primary key.
func (m *EntityMeta) IsKeyColumn(column string) bool {
	_, ok := m.keyCols[column]
	return ok
}

// KeyValues reads the key values of entity in key order.
func (m *EntityMeta) KeyValues(entity any) ([]any, error) {
	v, err := m.structValue(entity)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(m.Keys))
	for i, k := range m.Keys {
		fv, err := v.FieldByIndexErr(k.index)
		if err != nil {
			return nil, fmt.Errorf("read key %s of %s: %w", k.Name, m.Table, err)
		}
		values[i] = fv.Interface()
	}
	return values, nil
}

// SetKeyValues writes keys into entity in key order.
func (m *EntityMeta) SetKeyValues(entity any, keys ...any) error {
	if len(keys) != len(m.Keys) {
		return fmt.Errorf("entity %s expects %d key values, got %d: %w",
			m.Table, len(m.Keys), len(keys), types.ErrInvalidArgument)
	}
	v, err := m.structValue(entity)
	if err != nil {
		return err
	}
	for i, k := range m.Keys {
		fv, err := v.FieldByIndexErr(k.index)
		if err != nil {
			return fmt.Errorf("write key %s of %s: %w", k.Name, m.Table, err)
		}
		kv := reflect.ValueOf(keys[i])
		if !kv.IsValid() || !kv.Type().ConvertibleTo(fv.Type()) {
			return fmt.Errorf("key %s of %s cannot hold %T: %w", k.Name, m.Table, keys[i], types.ErrInvalidArgument)
		}
		fv.Set(kv.Convert(fv.Type()))
	}
	return nil
}

func (m *EntityMeta) structValue(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return reflect.Value{}, fmt.Errorf("entity must be a non nil pointer, got %T: %w", entity, types.ErrInvalidArgument)
	}
	v = v.Elem()
	if v.Type() != m.Type {
		return reflect.Value{}, fmt.Errorf("entity %T is not a %s: %w", entity, m.Type, types.ErrInvalidArgument)
	}
	return v, nil
}

// snapshot copies every mapped column value of v.
func (m *EntityMeta) snapshot(v reflect.Value) map[string]any {
	values := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		fv, err := v.FieldByIndexErr(f.Index)
		if err != nil {
			values[f.Name] = nil
			continue
		}
		values[f.Name] = copyValue(fv)
	}
	return values
}

// copyValue detaches slices and maps from the live entity so later in place
// edits show up as changes.
func copyValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return v.Interface()
		}
		c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(c, v)
		return c.Interface()
	case reflect.Map:
		if v.IsNil() {
			return v.Interface()
		}
		c := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			c.SetMapIndex(iter.Key(), iter.Value())
		}
		return c.Interface()
	}
	return v.Interface()
}
