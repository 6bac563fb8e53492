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
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/utils"
)

// TransactionOptions configures the retry strategy around the request transaction.
type TransactionOptions struct {
	// MaxRetries is the number of replays after the first attempt.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime bounds the whole retry loop. Zero means no bound.
	MaxElapsedTime time.Duration
	Logger         *logrus.Logger
}

// DefaultTransactionOptions retries three times starting at 100ms.
func DefaultTransactionOptions() TransactionOptions {
	return TransactionOptions{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

func (o TransactionOptions) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if o.InitialInterval > 0 {
		b.InitialInterval = o.InitialInterval
	}
	if o.MaxInterval > 0 {
		b.MaxInterval = o.MaxInterval
	}
	b.MaxElapsedTime = o.MaxElapsedTime
	b.Reset()
	return backoff.WithMaxRetries(b, o.MaxRetries)
}

// Transaction wraps mutating requests in one transaction per attempt.
//
// The transaction commits when the handler returns no error and the status is
// in [200,400), flushing staged changes first if any remain. Any other status
// rolls back and still delivers the response. An error or panic rolls back and
// propagates. Transient store faults replay the whole attempt.
func Transaction(opts TransactionOptions) Interceptor {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger("TRANSACTION")
	}
	return func(s *Scope, next func() error) error {
		if s.UnitOfWork == nil || s.Has(DisableTransaction) || !isMutating(s.Context.Request.Method) {
			return next()
		}

		c := s.Context
		original := c.Writer
		defer func() { c.Writer = original }()

		var body []byte
		if c.Request.Body != nil {
			var err error
			if body, err = io.ReadAll(c.Request.Body); err != nil {
				return err
			}
		}

		attempt := 0
		operation := func() error {
			attempt++
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			buf := newBufferedWriter(original)
			c.Writer = buf

			err := runAttempt(s, buf, next)
			c.Writer = original
			if err == nil {
				return buf.flushTo(original)
			}
			if database.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		notify := func(err error, wait time.Duration) {
			logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"method":  c.Request.Method,
				"path":    c.Request.URL.Path,
				"wait":    wait,
			}).Warnf("transient failure, replaying transaction: %v", err)
		}
		return backoff.RetryNotify(operation, backoff.WithContext(opts.backOff(), s.Ctx()), notify)
	}
}

func runAttempt(s *Scope, buf *bufferedWriter, next func() error) (err error) {
	u := s.UnitOfWork
	ctx := s.Ctx()
	u.Reset()
	if err := u.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = u.Rollback()
			panic(r)
		}
	}()

	if err := next(); err != nil {
		_ = u.Rollback()
		return err
	}

	status := buf.Status()
	if status < http.StatusOK || status >= http.StatusBadRequest {
		return u.Rollback()
	}
	if u.HasChanges() {
		if _, err := u.SaveChanges(ctx); err != nil {
			_ = u.Rollback()
			return err
		}
	}
	return u.Commit()
}
