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
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/tomoncle/keel/database"
	"github.com/tomoncle/keel/utils"
)

// Audit emits one trace entry per successful mutating request listing the
// entity changes of its unit of work. It only runs when logger is at trace
// level and never affects the response.
func Audit(logger *logrus.Logger) Interceptor {
	if logger == nil {
		logger = utils.NewLogger("AUDIT")
	}
	return func(s *Scope, next func() error) error {
		err := next()
		if err != nil || s.UnitOfWork == nil || !isMutating(s.Context.Request.Method) ||
			!logger.IsLevelEnabled(logrus.TraceLevel) {
			return err
		}
		status := s.Status()
		if status <= http.StatusOK || status >= http.StatusBadRequest {
			return nil
		}
		collectAndLog(logger, Identity(s.Context), s.UnitOfWork)
		return nil
	}
}

func collectAndLog(logger *logrus.Logger, user string, u *database.UnitOfWork) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("entity audit skipped: %v", r)
		}
	}()
	changes := u.Changes()
	if len(changes) == 0 {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Warnf("entity audit failed: %v", r)
			}
		}()
		logger.WithFields(logrus.Fields{
			"user":    user,
			"changes": changes,
		}).Trace("Entity audit")
	}()
}
