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
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tomoncle/keel/types"
	"github.com/tomoncle/keel/utils"
)

const (
	ProblemContentType = "application/problem+json"
	// StatusClientClosedRequest is the non standard status for a request the client abandoned.
	StatusClientClosedRequest = 499
)

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Instance   string `json:"instance,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// Problems renders the last handler error, or a recovered panic, as a problem
// document. In development the detail and stack of unexpected errors are exposed.
func Problems(development bool) gin.HandlerFunc {
	logger := utils.NewLogger("PROBLEM")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}
				writeProblem(c, logger, err, string(debug.Stack()), development)
			}
		}()
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		writeProblem(c, logger, err, fmt.Sprintf("%+v", err), development)
	}
}

func writeProblem(c *gin.Context, logger *logrus.Logger, err error, stack string, development bool) {
	p := NewProblem(err, development)
	p.Instance = c.Request.URL.Path
	p.TraceID = TraceID(c)
	if c.Writer.Written() {
		logger.WithField("trace_id", p.TraceID).Errorf("Error after response was written: %v", err)
		c.Abort()
		return
	}
	if p.Status == http.StatusInternalServerError {
		logger.WithFields(logrus.Fields{
			"trace_id": p.TraceID,
			"path":     p.Instance,
		}).Errorf("Unhandled error: %v", err)
		if development {
			p.StackTrace = stack
		}
	}
	c.Header("Content-Type", ProblemContentType)
	c.AbortWithStatusJSON(p.Status, p)
}

// NewProblem maps err to its status and title.
func NewProblem(err error, development bool) *Problem {
	p := &Problem{Type: "about:blank"}
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, types.ErrKeyNotFound),
		errors.Is(err, types.ErrInvalidArgument),
		errors.Is(err, types.ErrInvalidOperation):
		p.Status, p.Title, p.Detail = http.StatusBadRequest, "Bad Request", err.Error()
	case errors.Is(err, types.ErrUnauthorized):
		p.Status, p.Title = http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, context.Canceled):
		p.Status, p.Title = StatusClientClosedRequest, "Request Cancelled"
	case development:
		p.Status, p.Title, p.Detail = http.StatusInternalServerError, "An unexpected error occurred", err.Error()
	default:
		p.Status, p.Title = http.StatusInternalServerError, "Internal Server Error"
		p.Detail = "An unexpected error occurred. Please try again later."
	}
	return p
}
