/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cnop-core/internal/lock"
)

// Gateway header contract.
const (
	headerRequestID     = "X-Request-ID"
	headerUserName      = "X-User-Name"
	headerUserRole      = "X-User-Role"
	headerAuthenticated = "X-Authenticated"
)

type identityKey struct{}

// Identity is the authenticated caller extracted by the auth middleware.
type Identity struct {
	Username string
	Role     string
}

func identityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// requestIDMiddleware honors the gateway's X-Request-ID or mints one, and
// threads it through the context for lock attribution and log correlation.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(headerRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(lock.WithRequestID(r.Context(), requestID)))
	})
}

// authMiddleware resolves the caller identity. Gateway-asserted identity
// headers are trusted only when X-Authenticated is present; otherwise a
// Bearer token is required and verified locally.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerAuthenticated) != "" {
			username := r.Header.Get(headerUserName)
			if username != "" {
				role := r.Header.Get(headerUserRole)
				ctx := context.WithValue(r.Context(), identityKey{}, Identity{Username: username, Role: role})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		authz := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || token == "" {
			h.writeError(w, r, errMissingToken)
			return
		}
		claims, err := h.tokens.Verify(token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, Identity{Username: claims.Subject, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverMiddleware converts panics into 500 responses instead of
// dropping the connection.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("Panic in request handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"kind":"InternalError","message":"internal error"}}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
