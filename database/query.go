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
)

// Raw SQL runs through bun's formatter, so "?" placeholders and bun.Ident or
// bun.Safe arguments work the same as in the query builders. Every call joins
// the active transaction.

// Query scans the rows of a raw query into dest (a slice, struct or map pointer).
func (u *UnitOfWork) Query(ctx context.Context, dest any, query string, args ...any) error {
	if err := u.IDB().NewRaw(query, args...).Scan(ctx, dest); err != nil {
		return fmt.Errorf("raw query: %w", err)
	}
	return nil
}

// Scalar scans the first column of the first row into dest.
func (u *UnitOfWork) Scalar(ctx context.Context, dest any, query string, args ...any) error {
	if err := u.IDB().QueryRowContext(ctx, query, args...).Scan(dest); err != nil {
		return fmt.Errorf("raw scalar: %w", err)
	}
	return nil
}

// Exec runs a raw statement and returns the number of affected rows.
func (u *UnitOfWork) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := u.IDB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("raw exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// QueryAll runs a raw query and returns its rows as T values. The result is
// never nil.
func QueryAll[T any](ctx context.Context, u *UnitOfWork, query string, args ...any) ([]T, error) {
	rows := make([]T, 0)
	if err := u.Query(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
