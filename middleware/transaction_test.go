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
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/types"
)

func TestTransactionCommitsOnSuccessStatus(t *testing.T) {
	st := newStore(t)
	p := NewPipeline(st.factory, Transaction(fastRetry(0)))
	r := newRouter()
	r.POST("/notes", p.Handle(stageNote(http.StatusCreated)))

	w := send(r, http.MethodPost, "/notes", `{"body":"hello"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"status":true,"errors":[],"response":"hello"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, []string{"hello"}, st.notes(t))
	assert.Equal(t, 1, st.lastUnitOfWork().Flushes())
	assert.False(t, st.lastUnitOfWork().InTransaction())
}

func TestTransactionRollsBackOnFailureStatus(t *testing.T) {
	st := newStore(t)
	p := NewPipeline(st.factory, Transaction(fastRetry(0)))
	r := newRouter()
	r.POST("/notes", p.Handle(stageNote(http.StatusConflict)))

	w := send(r, http.MethodPost, "/notes", `{"body":"dup"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"dup"`)
	assert.Empty(t, st.notes(t))
}

func TestTransactionRollsBackFlushedChanges(t *testing.T) {
	st := newStore(t)
	p := NewPipeline(st.factory, Transaction(fastRetry(0)))
	r := newRouter()
	r.POST("/notes", p.Handle(func(s *Scope) error {
		if err := s.UnitOfWork.Add(&note{Body: "flushed"}); err != nil {
			return err
		}
		if _, err := s.UnitOfWork.SaveChanges(s.Ctx()); err != nil {
			return err
		}
		s.Context.Status(http.StatusUnprocessableEntity)
		return nil
	}))

	w := send(r, http.MethodPost, "/notes", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, st.notes(t))
}

func TestTransactionSkipsRedundantFlush(t *testing.T) {
	st := newStore(t)
	p := NewPipeline(st.factory, Transaction(fastRetry(0)))
	r := newRouter()
	r.POST("/notes", p.Handle(func(s *Scope) error {
		if err := s.UnitOfWork.Add(&note{Body: "early"}); err != nil {
			return err
		}
		if _, err := s.UnitOfWork.SaveChanges(s.Ctx()); err != nil {
			return err
		}
		s.Context.Status(http.StatusNoContent)
		return nil
	}))

	w := send(r, http.MethodPost, "/notes", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"early"}, st.notes(t))
	assert.Equal(t, 1, st.lastUnitOfWork().Flushes())
}

func TestTransactionHandlerErrorRollsBackAndPropagates(t *testing.T) {
	st := newStore(t)
	p := NewPipeline(st.factory, Transaction(fastRetry(3)))
	r := newRouter()
	attempts := 0
	r.POST("/notes", p.Handle(func(s *Scope) error {
		attempts++
		if err := s.UnitOfWork.Add(&note{Body: "lost"}); err != nil {
			return err
		}
		s.Context.JSON(http.StatusCreated, types.Success("never sent"))
		return fmt.Errorf("order 7 is closed: %w", types.ErrInvalidOperation)
	}))

	w := send(r, http.MethodPost, "/notes", "")
	assert.Equal(t, 1, attempts)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ProblemContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "order 7 is closed")
	assert.NotContains(t, w.Body.String(), "never sent")
	assert.Empty(t, st.notes(t))
}

func TestTransactionPanicRollsBack(t *testing.T) {
	st := newStore(t)
	p := NewPipeline(st.factory, Transaction(fastRetry(0)))
	r := newRouter()
	r.POST("/notes", p.Handle(func(s *Scope) error {
		if err := s.UnitOfWork.Add(&note{Body: "boom"}); err != nil {
			return err
		}
		if _, err := s.UnitOfWork.SaveChanges(s.Ctx()); err != nil {
			return err
		}
		panic("boom")
	}))

	w := send(r, http.MethodPost, "/notes", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ProblemContentType, w.Header().Get("Content-Type"))
	assert.Empty(t, st.notes(t))
	assert.False(t, st.lastUnitOfWork().InTransaction())
}

func TestTransactionRetriesTransientFailures(t *testing.T) {
	st := newStore(t)
	p := NewPipeline(st.factory, Transaction(fastRetry(3)))
	r := newRouter()
	attempts := 0
	r.POST("/notes", p.Handle(func(s *Scope) error {
		attempts++
		s.Context.Header("X-Attempt", strconv.Itoa(attempts))
		if attempts == 1 {
			s.Context.Header("X-Stale", "yes")
			if err := s.UnitOfWork.Add(&note{Body: "first"}); err != nil {
				return err
			}
			return fmt.Errorf("flush: %w", driver.ErrBadConn)
		}
		return stageNote(http.StatusCreated)(s)
	}))

	w := send(r, http.MethodPost, "/notes", `{"body":"second"}`)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Attempt"))
	assert.Empty(t, w.Header().Get("X-Stale"))
	assert.Equal(t, []string{"second"}, st.notes(t))
}

func TestTransactionGivesUpAfterRetries(t *testing.T) {
	st := newStore(t)
	p := NewPipeline(st.factory, Transaction(fastRetry(2)))
	r := newRouter()
	attempts := 0
	r.POST("/notes", p.Handle(func(s *Scope) error {
		attempts++
		if err := s.UnitOfWork.Add(&note{Body: "retry"}); err != nil {
			return err
		}
		return driver.ErrBadConn
	}))

	w := send(r, http.MethodPost, "/notes", "")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, st.notes(t))
}

func TestTransactionBypass(t *testing.T) {
	st := newStore(t)
	p := NewPipeline(st.factory, Transaction(fastRetry(0)))
	r := newRouter()

	inTx := func(s *Scope) error {
		s.Context.JSON(http.StatusOK, txState(s.UnitOfWork != nil && s.UnitOfWork.InTransaction()))
		return nil
	}
	selfSaving := func(s *Scope) error {
		require.False(t, s.UnitOfWork.InTransaction())
		if err := s.UnitOfWork.Add(&note{Body: "self"}); err != nil {
			return err
		}
		_, err := s.UnitOfWork.SaveChanges(s.Ctx())
		if err != nil {
			return err
		}
		s.Context.Status(http.StatusCreated)
		return nil
	}

	r.GET("/tx-state", p.Handle(inTx))
	r.POST("/tx-state", p.Handle(inTx))
	r.POST("/opt-out", p.Handle(inTx, DisableTransaction))
	r.POST("/group", p.WithoutTransaction().Handle(inTx))
	r.POST("/unbound", NewPipeline(nil, Transaction(fastRetry(0))).Handle(inTx))
	r.POST("/self", p.Handle(selfSaving, DisableTransaction))

	assert.JSONEq(t, `{"tx":false}`, send(r, http.MethodGet, "/tx-state", "").Body.String())
	assert.JSONEq(t, `{"tx":true}`, send(r, http.MethodPost, "/tx-state", "").Body.String())
	assert.JSONEq(t, `{"tx":false}`, send(r, http.MethodPost, "/opt-out", "").Body.String())
	assert.JSONEq(t, `{"tx":false}`, send(r, http.MethodPost, "/group", "").Body.String())
	assert.JSONEq(t, `{"tx":false}`, send(r, http.MethodPost, "/unbound", "").Body.String())

	assert.Equal(t, http.StatusCreated, send(r, http.MethodPost, "/self", "").Code)
	assert.Equal(t, []string{"self"}, st.notes(t))
}

func TestPipelineFactoryError(t *testing.T) {
	p := NewPipeline(func() (*database.UnitOfWork, error) {
		return nil, errors.New("pool exhausted")
	}, Transaction(fastRetry(0)))
	r := newRouter()
	called := false
	r.POST("/notes", p.Handle(func(s *Scope) error { called = true; return nil }))

	w := send(r, http.MethodPost, "/notes", "")
	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPipelineInterceptorOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Interceptor {
		return func(s *Scope, next func() error) error {
			trace = append(trace, name+">")
			err := next()
			trace = append(trace, "<"+name)
			return err
		}
	}
	p := NewPipeline(nil, mark("a")).Use(mark("b"))
	r := newRouter()
	r.GET("/", p.Handle(func(s *Scope) error {
		trace = append(trace, "handler")
		s.Context.Status(http.StatusOK)
		return nil
	}))

	send(r, http.MethodGet, "/", "")
	assert.Equal(t, []string{"a>", "b>", "handler", "<b", "<a"}, trace)
}

func txState(tx bool) map[string]bool { return map[string]bool{"tx": tx} }
