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
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tomoncle/keel/utils"
)

// EngineOptions configures NewEngine.
type EngineOptions struct {
	Mode         string
	Development  bool
	AllowOrigins []string

	// JWTSecret enables bearer authentication when set.
	JWTSecret   string
	RequireAuth bool
}

// NewEngine builds a gin engine with request ids, access logging, CORS,
// problem responses and optional bearer authentication installed.
func NewEngine(opts EngineOptions) *gin.Engine {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	router := gin.New()

	config := cors.DefaultConfig()
	if len(opts.AllowOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = opts.AllowOrigins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", RequestIDHeader}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH", "HEAD"}
	config.ExposeHeaders = []string{"Content-Length", "Content-Type", RequestIDHeader}

	router.Use(
		RequestID(),
		AccessLog(utils.NewLogger("HTTP")),
		cors.New(config),
		Problems(opts.Development),
	)
	if opts.JWTSecret != "" {
		router.Use(Authenticate([]byte(opts.JWTSecret), opts.RequireAuth))
	}
	return router
}

// AccessLog logs one line per request.
func AccessLog(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"latency":  time.Since(start).String(),
			"trace_id": TraceID(c),
		}).Info("request")
	}
}
