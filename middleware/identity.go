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
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tomoncle/keel/types"
)

const identityKey = "keel.identity"

// Authenticate reads a bearer token signed with secret (HMAC) and stores its
// "sub" claim as the request identity. With required unset, requests without
// a usable token continue anonymously.
func Authenticate(secret []byte, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, err := parseBearer(c.GetHeader("Authorization"), secret)
		if err != nil {
			if required {
				_ = c.Error(err)
				c.Abort()
				return
			}
			c.Next()
			return
		}
		c.Set(identityKey, subject)
		c.Next()
	}
}

// Identity returns the authenticated subject, or "".
func Identity(c *gin.Context) string {
	return c.GetString(identityKey)
}

func parseBearer(header string, secret []byte) (string, error) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("missing bearer token: %w", types.ErrUnauthorized)
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %v: %w", err, types.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject: %w", types.ErrUnauthorized)
	}
	return claims.Subject, nil
}
