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

package repository

import (
	"fmt"
	"strings"

	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
)

// OrderTerm is one resolved ordering column.
type OrderTerm struct {
	Column string
	Desc   bool
}

// OrderResolver turns a "field [asc|desc], ..." expression into ordering
// terms. Fields are matched against a whitelist of the entity's Go field and
// column names plus optional aliases, case insensitively.
type OrderResolver struct {
	meta    *database.EntityMeta
	aliases map[string]string
}

// NewOrderResolver builds a resolver for meta. aliases maps extra sort names
// to column names.
func NewOrderResolver(meta *database.EntityMeta, aliases map[string]string) *OrderResolver {
	r := &OrderResolver{meta: meta, aliases: make(map[string]string, len(aliases))}
	for alias, column := range aliases {
		r.aliases[strings.ToLower(alias)] = column
	}
	return r
}

// Resolve parses expr. An empty expression yields no terms.
func (r *OrderResolver) Resolve(expr string) ([]OrderTerm, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	parts := strings.Split(expr, ",")
	terms := make([]OrderTerm, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, sortingFailed(expr)
		}
		column, ok := r.column(fields[0])
		if !ok {
			return nil, sortingFailed(expr)
		}
		term := OrderTerm{Column: column}
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				term.Desc = true
			default:
				return nil, sortingFailed(expr)
			}
		}
		terms = append(terms, term)
	}
	return terms, nil
}

// Apply orders q by expr.
func (r *OrderResolver) Apply(q *bun.SelectQuery, expr string) (*bun.SelectQuery, error) {
	terms, err := r.Resolve(expr)
	if err != nil {
		return nil, err
	}
	for _, t := range terms {
		if t.Desc {
			q = q.OrderExpr("? DESC", bun.Ident(t.Column))
		} else {
			q = q.OrderExpr("? ASC", bun.Ident(t.Column))
		}
	}
	return q, nil
}

func (r *OrderResolver) column(name string) (string, bool) {
	if column, ok := r.aliases[strings.ToLower(name)]; ok {
		return column, true
	}
	if r.meta == nil {
		return "", false
	}
	return r.meta.Column(name)
}

func sortingFailed(expr string) error {
	return fmt.Errorf("sorting failed: %s: %w", expr, types.ErrInvalidOperation)
}
