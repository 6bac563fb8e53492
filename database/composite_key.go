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
	"context"
	"fmt"
	"reflect"

	"github.com/tomoncle/keel/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	msgTooFewCompositeKeys = "composite_key.too_few_keys"
	msgNotCompositeKey     = "composite_key.not_a_key"
)

func init() {
	_ = message.SetString(language.English, msgTooFewCompositeKeys,
		`The "%s" table must contain at least 2 client assigned key properties to continue processing!`)
	_ = message.SetString(language.Turkish, msgTooFewCompositeKeys,
		`İşleme devam edebilmek için "%s" tablosunda en az 2 istemci tarafından atanan anahtar özelliği bulunmalıdır!`)
	_ = message.SetString(language.English, msgNotCompositeKey,
		`The property "%[2]s" in table "%[1]s" must be a client assigned key!`)
	_ = message.SetString(language.Turkish, msgNotCompositeKey,
		`"%[1]s" tablosundaki "%[2]s" özelliği istemci tarafından atanan bir anahtar olmalıdır!`)
}

// ErrorPrinter returns the message printer for a supported error language,
// "en" or "tr" (region subtags are accepted).
func ErrorPrinter(lang string) (*message.Printer, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("unsupported language %q: %w", lang, types.ErrInvalidArgument)
	}
	base, _ := tag.Base()
	switch base.String() {
	case "en":
		return message.NewPrinter(language.English), nil
	case "tr":
		return message.NewPrinter(language.Turkish), nil
	}
	return nil, fmt.Errorf("unsupported language %q: %w", lang, types.ErrInvalidArgument)
}

// SetCompositeKey changes one component of old's composite key. Key columns
// cannot be updated in place, so a copy of old's persisted values carrying
// newValue in the selected component is staged for insertion and old is staged
// for deletion. The flush happens only when autoSave is set.
//
// selector must return the address of a client assigned key field of its
// argument, e.g. func(o *OrderLine) *int32 { return &o.LineNo }.
func SetCompositeKey[T any, V any](ctx context.Context, u *UnitOfWork, autoSave bool,
	old *T, selector func(*T) *V, newValue V, lang string) (*T, error) {
	printer, err := ErrorPrinter(lang)
	if err != nil {
		return nil, err
	}
	if old == nil || selector == nil {
		return nil, fmt.Errorf("composite key change needs an entity and a selector: %w", types.ErrInvalidArgument)
	}
	meta, err := ResolveOf[T](u.registry)
	if err != nil {
		return nil, err
	}
	keys := meta.CompositeKeys()
	if len(keys) < 2 {
		return nil, fmt.Errorf("%s: %w", printer.Sprintf(msgTooFewCompositeKeys, meta.Table), types.ErrKeyNotFound)
	}

	oldValue := reflect.ValueOf(old).Elem()
	target := selector(old)
	property, column, isKey := selectedField(meta, oldValue, target, keys)
	if !isKey {
		return nil, fmt.Errorf("%s: %w", printer.Sprintf(msgNotCompositeKey, meta.Table, property), types.ErrInvalidOperation)
	}

	if u.State(old) == types.Detached {
		if err := u.Attach(old); err != nil {
			return nil, err
		}
	}
	original, _ := u.OriginalValues(old)

	created := new(T)
	createdValue := reflect.ValueOf(created).Elem()
	for _, f := range meta.fields {
		fv, err := createdValue.FieldByIndexErr(f.Index)
		if err != nil {
			continue
		}
		if f.Name == column {
			fv.Set(reflect.ValueOf(newValue))
			continue
		}
		if v := reflect.ValueOf(original[f.Name]); v.IsValid() && v.Type().AssignableTo(fv.Type()) {
			fv.Set(v)
		}
	}

	if err := u.Add(created); err != nil {
		return nil, err
	}
	if err := u.Remove(old); err != nil {
		return nil, err
	}
	if autoSave {
		if _, err := u.SaveChanges(ctx); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// selectedField finds the mapped field whose address is target.
func selectedField(meta *EntityMeta, v reflect.Value, target any, keys []KeyProperty) (name, column string, isKey bool) {
	tv := reflect.ValueOf(target)
	if !tv.IsValid() || tv.Kind() != reflect.Ptr || tv.IsNil() {
		return "<unknown>", "", false
	}
	addr := tv.Pointer()
	name = "<unknown>"
	for _, f := range meta.fields {
		fv, err := v.FieldByIndexErr(f.Index)
		if err != nil || fv.Addr().Pointer() != addr || fv.Type() != tv.Elem().Type() {
			continue
		}
		name, column = f.GoName, f.Name
		break
	}
	for _, k := range keys {
		if k.Column == column {
			return name, column, true
		}
	}
	return name, column, false
}
