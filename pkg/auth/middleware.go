// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// MiddlewareConfig controls which requests need a token.
type MiddlewareConfig struct {
	// ExcludedPaths skip authentication entirely.
	ExcludedPaths []string

	// RequireAuth rejects requests without a token. When false such
	// requests proceed without claims; invalid tokens are always rejected.
	RequireAuth bool
}

// Middleware validates bearer tokens and stores the claims in the request
// context.
func Middleware(validator TokenValidator, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if cfg.RequireAuth {
					writeError(w, http.StatusUnauthorized, "missing Authorization header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "invalid Authorization format, expected: Bearer <token>")
				return
			}

			claims, err := validator.ValidateToken(r.Context(), tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects authenticated requests whose role is not allowed.
// It must run after Middleware.
func RequireRole(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
				return
			}
			if !claims.HasRole(allowedRoles...) {
				writeError(w, http.StatusForbidden, ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
