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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
)

// UnitOfWork is a per request persistence context. It tracks entities,
// stages inserts, updates and deletes, and flushes them in one batch.
// A UnitOfWork is not safe for concurrent use.
type UnitOfWork struct {
	db       *bun.DB
	registry *EntityRegistry
	logger   Logger

	tx     bun.Tx
	active bool

	entries map[any]*entry
	seq     int64
	flushes int
	journal []ChangeRecord
}

type entry struct {
	entity   any
	value    reflect.Value
	meta     *EntityMeta
	state    types.EntityState
	original map[string]any
	seq      int64
}

// NewUnitOfWork returns an empty unit of work over db, resolving entities
// through registry.
func NewUnitOfWork(db *bun.DB, registry *EntityRegistry) *UnitOfWork {
	if registry == nil {
		registry = defaultRegistry
	}
	return &UnitOfWork{
		db:       db,
		registry: registry,
		logger:   GetLogger(),
		entries:  make(map[any]*entry),
	}
}

// SetLogger replaces the logger used for flush diagnostics.
func (u *UnitOfWork) SetLogger(logger Logger) {
	if logger == nil {
		logger = NopLogger
	}
	u.logger = logger
}

// DB returns the underlying connection pool.
func (u *UnitOfWork) DB() *bun.DB { return u.db }

// IDB returns the active transaction, or the pool when none is open.
func (u *UnitOfWork) IDB() bun.IDB {
	if u.active {
		return u.tx
	}
	return u.db
}

// Registry returns the entity registry used by this unit of work.
func (u *UnitOfWork) Registry() *EntityRegistry { return u.registry }

// Metadata resolves the metadata of entity's type.
func (u *UnitOfWork) Metadata(entity any) (*EntityMeta, error) {
	return u.registry.Resolve(reflect.TypeOf(entity))
}

func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.active {
		return fmt.Errorf("transaction already active: %w", types.ErrInvalidOperation)
	}
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	u.tx = tx
	u.active = true
	return nil
}

func (u *UnitOfWork) Commit() error {
	if !u.active {
		return fmt.Errorf("no active transaction: %w", types.ErrInvalidOperation)
	}
	u.active = false
	return u.tx.Commit()
}

// Rollback aborts the active transaction. It is a no-op without one.
func (u *UnitOfWork) Rollback() error {
	if !u.active {
		return nil
	}
	u.active = false
	return u.tx.Rollback()
}

func (u *UnitOfWork) InTransaction() bool { return u.active }

// Reset rolls back any open transaction and forgets every tracked entity,
// the change journal and the flush count.
func (u *UnitOfWork) Reset() {
	if u.active {
		if err := u.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			u.logger.Warn("Rollback during reset failed", "error", err)
		}
	}
	u.entries = make(map[any]*entry)
	u.journal = nil
	u.seq = 0
	u.flushes = 0
}

// Flushes is the number of SaveChanges calls that wrote to the store.
func (u *UnitOfWork) Flushes() int { return u.flushes }

// Add stages entity for insertion.
func (u *UnitOfWork) Add(entity any) error {
	u.detectChanges()
	if e, ok := u.entries[entity]; ok {
		if e.state == types.Deleted {
			e.state = types.Unchanged
		}
		return nil
	}
	e, err := u.newEntry(entity, types.Added)
	if err != nil {
		return err
	}
	u.entries[entity] = e
	return nil
}

// Attach tracks entity as persisted and unchanged, snapshotting its current values.
func (u *UnitOfWork) Attach(entity any) error {
	if _, ok := u.entries[entity]; ok {
		return nil
	}
	u.detectChanges()
	e, err := u.newEntry(entity, types.Unchanged)
	if err != nil {
		return err
	}
	e.original = e.meta.snapshot(e.value)
	u.entries[entity] = e
	return nil
}

// Track returns the already tracked instance of the row entity represents, or
// attaches entity and returns it.
func (u *UnitOfWork) Track(entity any) (any, error) {
	if _, ok := u.entries[entity]; ok {
		return entity, nil
	}
	meta, err := u.Metadata(entity)
	if err != nil {
		return nil, err
	}
	keys, err := meta.KeyValues(entity)
	if err != nil {
		return nil, err
	}
	if found, ok := u.tracked(meta, keys); ok {
		return found, nil
	}
	if err := u.Attach(entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// Remove stages entity for deletion. Removing a pending insert just forgets it.
func (u *UnitOfWork) Remove(entity any) error {
	u.detectChanges()
	e, ok := u.entries[entity]
	if !ok {
		if err := u.Attach(entity); err != nil {
			return err
		}
		e = u.entries[entity]
	}
	if e.state == types.Added {
		delete(u.entries, entity)
		return nil
	}
	e.state = types.Deleted
	e.seq = u.nextSeq()
	return nil
}

// Detach stops tracking entity.
func (u *UnitOfWork) Detach(entity any) {
	delete(u.entries, entity)
}

// State returns the tracking state of entity, detecting pending modifications.
func (u *UnitOfWork) State(entity any) types.EntityState {
	e, ok := u.entries[entity]
	if !ok {
		return types.Detached
	}
	if e.state == types.Unchanged || e.state == types.Modified {
		if len(e.changedColumns()) > 0 {
			return types.Modified
		}
		return types.Unchanged
	}
	return e.state
}

// HasChanges reports whether a SaveChanges would write anything.
func (u *UnitOfWork) HasChanges() bool {
	for _, e := range u.entries {
		switch e.state {
		case types.Added, types.Deleted:
			return true
		case types.Unchanged, types.Modified:
			if len(e.changedColumns()) > 0 {
				return true
			}
		}
	}
	return false
}

// IsModified reports whether any of the named fields (Go or column names)
// differ from the persisted snapshot. Without fields it checks the whole entity.
// Pending inserts count as modified.
func (u *UnitOfWork) IsModified(entity any, fields ...string) bool {
	e, ok := u.entries[entity]
	if !ok {
		return false
	}
	if e.state == types.Added {
		return true
	}
	changed := e.changedColumns()
	if len(fields) == 0 {
		return len(changed) > 0
	}
	for _, name := range fields {
		column, ok := e.meta.Column(name)
		if !ok {
			continue
		}
		for _, c := range changed {
			if c == column {
				return true
			}
		}
	}
	return false
}

// OriginalValues returns a copy of the last persisted values of entity, by column.
func (u *UnitOfWork) OriginalValues(entity any) (map[string]any, bool) {
	e, ok := u.entries[entity]
	if !ok || e.original == nil {
		return nil, false
	}
	values := make(map[string]any, len(e.original))
	for k, v := range e.original {
		values[k] = v
	}
	return values, true
}

// SaveChanges writes every staged operation in staging order. Inside an active
// transaction the writes join it, otherwise a short transaction is used.
// It returns the number of affected rows.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (int64, error) {
	pending, err := u.prepare(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var affected int64
	run := func(ctx context.Context, db bun.IDB) error {
		for _, op := range pending {
			n, err := op.exec(ctx, db, u.logger)
			if err != nil {
				return fmt.Errorf("%s %s: %w", op.entry.state, op.entry.meta.Table, err)
			}
			affected += n
		}
		return nil
	}

	if u.active {
		err = run(ctx, u.tx)
	} else {
		err = u.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return run(ctx, tx)
		})
	}
	if err != nil {
		return 0, err
	}

	u.accept(pending)
	u.flushes++
	u.logger.Debug("Unit of work flushed", "operations", len(pending), "affected", affected)
	return affected, nil
}

type operation struct {
	entry   *entry
	columns []string
}

func (op operation) exec(ctx context.Context, db bun.IDB, logger Logger) (int64, error) {
	e := op.entry
	var (
		res sql.Result
		err error
	)
	switch e.state {
	case types.Added:
		res, err = db.NewInsert().Model(e.entity).Exec(ctx)
	case types.Modified:
		q := db.NewUpdate().Model(e.entity).Column(op.columns...)
		for _, k := range e.meta.Keys {
			q = q.Where("? = ?", bun.Ident(k.Column), e.original[k.Column])
		}
		res, err = q.Exec(ctx)
	case types.Deleted:
		q := db.NewDelete().Model(e.entity)
		for _, k := range e.meta.Keys {
			q = q.Where("? = ?", bun.Ident(k.Column), e.original[k.Column])
		}
		res, err = q.Exec(ctx)
	default:
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		logger.Debug("Driver reports no affected rows, counting 0", "table", e.meta.Table, "error", err)
		return 0, nil
	}
	return n, nil
}

// prepare stamps audit traits, runs change detection and orders the operations.
func (u *UnitOfWork) prepare(ctx context.Context) ([]operation, error) {
	actor := ActorFrom(ctx)
	now := time.Now()
	u.detectChanges()

	ops := make([]operation, 0, len(u.entries))
	for _, e := range u.entries {
		switch e.state {
		case types.Added:
			if s, ok := e.entity.(types.CreationStamper); ok {
				s.StampCreation(actor, now)
			}
			ops = append(ops, operation{entry: e})
		case types.Deleted:
			ops = append(ops, operation{entry: e})
		case types.Unchanged, types.Modified:
			changed := e.changedColumns()
			if len(changed) == 0 {
				e.state = types.Unchanged
				continue
			}
			for _, c := range changed {
				if e.meta.IsKeyColumn(c) {
					return nil, fmt.Errorf("key %s of %s cannot be modified, use SetCompositeKey: %w",
						c, e.meta.Table, types.ErrInvalidOperation)
				}
			}
			if s, ok := e.entity.(types.ModificationStamper); ok {
				s.StampModification(actor, now)
				changed = e.changedColumns()
			}
			e.state = types.Modified
			ops = append(ops, operation{entry: e, columns: changed})
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].entry.seq < ops[j].entry.seq })
	return ops, nil
}

// accept journals the flushed operations and makes the current values the new baseline.
func (u *UnitOfWork) accept(ops []operation) {
	for _, op := range ops {
		e := op.entry
		u.journal = append(u.journal, e.record(op.columns))
		if e.state == types.Deleted {
			delete(u.entries, e.entity)
			continue
		}
		e.original = e.meta.snapshot(e.value)
		e.state = types.Unchanged
	}
}

// Changes returns the audit records of everything flushed since the last
// Reset followed by the changes still pending.
func (u *UnitOfWork) Changes() []ChangeRecord {
	records := make([]ChangeRecord, 0, len(u.journal)+len(u.entries))
	records = append(records, u.journal...)

	pending := make([]*entry, 0, len(u.entries))
	for _, e := range u.entries {
		pending = append(pending, e)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	for _, e := range pending {
		switch e.state {
		case types.Added, types.Deleted:
			records = append(records, e.record(nil))
		default:
			if changed := e.changedColumns(); len(changed) > 0 {
				r := e.record(changed)
				r.State = types.Modified
				records = append(records, r)
			}
		}
	}
	return records
}

func (u *UnitOfWork) newEntry(entity any, state types.EntityState) (*entry, error) {
	meta, err := u.Metadata(entity)
	if err != nil {
		return nil, err
	}
	v, err := meta.structValue(entity)
	if err != nil {
		return nil, err
	}
	return &entry{
		entity: entity,
		value:  v,
		meta:   meta,
		state:  state,
		seq:    u.nextSeq(),
	}, nil
}

// detectChanges marks unchanged entities whose values moved away from their
// snapshot as modified and gives them the next staging position. Running it
// before every staging call keeps flush order equal to the order in which
// mutations happened relative to Add and Remove.
func (u *UnitOfWork) detectChanges() {
	var modified []*entry
	for _, e := range u.entries {
		if e.state == types.Unchanged && len(e.changedColumns()) > 0 {
			modified = append(modified, e)
		}
	}
	sort.Slice(modified, func(i, j int) bool { return modified[i].seq < modified[j].seq })
	for _, e := range modified {
		e.state = types.Modified
		e.seq = u.nextSeq()
	}
}

func (u *UnitOfWork) nextSeq() int64 {
	u.seq++
	return u.seq
}

// tracked returns the tracked, not deleted entity of meta's type with the
// given keys. Pending inserts match on their current key values once those
// are assigned.
func (u *UnitOfWork) tracked(meta *EntityMeta, keys []any) (any, bool) {
	for _, e := range u.entries {
		if e.meta != meta || e.state == types.Deleted {
			continue
		}
		values := e.original
		if e.state == types.Added {
			if e.keyString() == NoKey {
				continue
			}
			values = meta.snapshot(e.value)
		}
		if keysEqual(meta, values, keys) {
			return e.entity, true
		}
	}
	return nil, false
}

func keysEqual(meta *EntityMeta, original map[string]any, keys []any) bool {
	if len(keys) != len(meta.Keys) {
		return false
	}
	for i, k := range meta.Keys {
		kv := reflect.ValueOf(keys[i])
		if !kv.IsValid() || !kv.Type().ConvertibleTo(k.Type) {
			return false
		}
		if kv.Convert(k.Type).Interface() != original[k.Column] {
			return false
		}
	}
	return true
}

func (e *entry) changedColumns() []string {
	if e.original == nil {
		return nil
	}
	current := e.meta.snapshot(e.value)
	var changed []string
	for _, f := range e.meta.fields {
		if !reflect.DeepEqual(current[f.Name], e.original[f.Name]) {
			changed = append(changed, f.Name)
		}
	}
	return changed
}

// Find returns the entity with the given key values. Tracked entities are
// returned without a query. A missing row yields nil, nil.
func Find[T any](ctx context.Context, u *UnitOfWork, keys ...any) (*T, error) {
	meta, err := ResolveOf[T](u.registry)
	if err != nil {
		return nil, err
	}
	if len(keys) != len(meta.Keys) {
		return nil, fmt.Errorf("entity %s expects %d key values, got %d: %w",
			meta.Table, len(meta.Keys), len(keys), types.ErrInvalidArgument)
	}
	if found, ok := u.tracked(meta, keys); ok {
		return found.(*T), nil
	}

	entity := new(T)
	q := u.IDB().NewSelect().Model(entity)
	for i, k := range meta.Keys {
		q = q.Where("? = ?", bun.Ident(k.Column), keys[i])
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := u.Attach(entity); err != nil {
		return nil, err
	}
	return entity, nil
}
