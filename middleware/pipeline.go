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

package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tomoncle/keel/database"
)

// Option marks a handler or a pipeline with request lifecycle behaviour.
type Option uint8

const (
	// DisableTransaction runs a handler without the managed transaction.
	DisableTransaction Option = 1 << iota
)

// Scope is the request scoped state shared by the interceptors of one request.
type Scope struct {
	Context    *gin.Context
	UnitOfWork *database.UnitOfWork

	options Option
}

// Ctx returns the request context. It carries the unit of work and the actor.
func (s *Scope) Ctx() context.Context { return s.Context.Request.Context() }

// Status is the response status written so far.
func (s *Scope) Status() int { return s.Context.Writer.Status() }

// Has reports whether opt is set for this request.
func (s *Scope) Has(opt Option) bool { return s.options&opt != 0 }

// HandlerFunc is a request handler run inside the pipeline.
type HandlerFunc func(s *Scope) error

// Interceptor wraps the rest of the chain. It must call next at most once per
// attempt and return its error unless it handles it.
type Interceptor func(s *Scope, next func() error) error

// UnitOfWorkFactory creates the unit of work bound to one request.
type UnitOfWorkFactory func() (*database.UnitOfWork, error)

// Pipeline is an ordered list of interceptors shared by a group of handlers.
// The first interceptor is the outermost.
type Pipeline struct {
	factory      UnitOfWorkFactory
	interceptors []Interceptor
	options      Option
}

// NewPipeline builds a pipeline. A nil factory binds no unit of work, which
// turns the transaction interceptor into a pass-through.
func NewPipeline(factory UnitOfWorkFactory, interceptors ...Interceptor) *Pipeline {
	return &Pipeline{factory: factory, interceptors: interceptors}
}

// Use returns a copy of p with interceptors appended.
func (p *Pipeline) Use(interceptors ...Interceptor) *Pipeline {
	cp := *p
	cp.interceptors = append(append([]Interceptor(nil), p.interceptors...), interceptors...)
	return &cp
}

// WithoutTransaction returns a copy of p whose handlers never open the managed transaction.
func (p *Pipeline) WithoutTransaction() *Pipeline {
	cp := *p
	cp.options |= DisableTransaction
	return &cp
}

// Handle adapts h to gin. Errors are attached to the gin context for Problems to render.
func (p *Pipeline) Handle(h HandlerFunc, opts ...Option) gin.HandlerFunc {
	options := p.options
	for _, o := range opts {
		options |= o
	}
	return func(c *gin.Context) {
		s := &Scope{Context: c, options: options}
		ctx := c.Request.Context()
		if actor := Identity(c); actor != "" {
			ctx = database.WithActor(ctx, actor)
		}
		if p.factory != nil {
			u, err := p.factory()
			if err != nil {
				_ = c.Error(err)
				c.Abort()
				return
			}
			defer func() { _ = u.Rollback() }()
			s.UnitOfWork = u
			ctx = database.WithUnitOfWork(ctx, u)
		}
		c.Request = c.Request.WithContext(ctx)

		if err := p.run(s, 0, h); err != nil {
			_ = c.Error(err)
			c.Abort()
		}
	}
}

func (p *Pipeline) run(s *Scope, i int, h HandlerFunc) error {
	if i == len(p.interceptors) {
		return h(s)
	}
	return p.interceptors[i](s, func() error { return p.run(s, i+1, h) })
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
