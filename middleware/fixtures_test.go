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
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type note struct {
	bun.BaseModel `bun:"table:notes"`
	types.Identity[int64]
	types.CreationInfo

	Body string `bun:"body,notnull"`
}

type noteInput struct {
	Body string `json:"body"`
}

// store hands out one unit of work per request and remembers the last one.
type store struct {
	db  *bun.DB
	reg *database.EntityRegistry

	mu   sync.Mutex
	last *database.UnitOfWork
}

func newStore(t *testing.T) *store {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	reg := database.NewEntityRegistry()
	reg.Register(database.NewModelAdapter((*note)(nil), 0))
	require.NoError(t, reg.Build(db))
	require.NoError(t, database.NewMigrationManager(db, reg, database.NopLogger).RunMigrations(context.Background()))
	return &store{db: db, reg: reg}
}

func (s *store) factory() (*database.UnitOfWork, error) {
	u := database.NewUnitOfWork(s.db, s.reg)
	u.SetLogger(database.NopLogger)
	s.mu.Lock()
	s.last = u
	s.mu.Unlock()
	return u, nil
}

func (s *store) lastUnitOfWork() *database.UnitOfWork {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *store) notes(t *testing.T) []string {
	t.Helper()
	var bodies []string
	require.NoError(t, s.db.NewSelect().Model((*note)(nil)).Column("body").Order("id").Scan(context.Background(), &bodies))
	return bodies
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fastRetry(maxRetries uint64) TransactionOptions {
	return TransactionOptions{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Logger:          quietLogger(),
	}
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Problems(false))
	return r
}

// stageNote binds the body, stages a note and answers with status.
func stageNote(status int) HandlerFunc {
	return func(s *Scope) error {
		var in noteInput
		if err := s.Context.ShouldBindJSON(&in); err != nil {
			return fmt.Errorf("bad body: %v: %w", err, types.ErrInvalidArgument)
		}
		if err := s.UnitOfWork.Add(&note{Body: in.Body}); err != nil {
			return err
		}
		s.Context.JSON(status, types.Success(in.Body))
		return nil
	}
}

func send(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
