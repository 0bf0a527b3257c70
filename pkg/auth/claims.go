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

// Package auth validates bearer JWTs for the HTTP API.
//
// Tokens are checked against a JSON Web Key Set fetched from the identity
// provider and refreshed in the background. Configure it under server.auth:
//
//	server:
//	  auth:
//	    enabled: true
//	    jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	    issuer: "https://auth.example.com"
//	    audience: "instruct-api"
//	    write_roles: [admin, tuner]
//
// Validated claims are stored in the request context.
package auth

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrUnauthorized means the request carried no usable identity.
	ErrUnauthorized = errors.New("unauthorized: authentication required")

	// ErrForbidden means the caller is known but its role is not allowed.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrInvalidToken wraps every token validation failure.
	ErrInvalidToken = errors.New("invalid token")
)

type claimsKey struct{}

// Claims is the identity extracted from a validated token.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`

	// Scopes comes from the space separated scope claim.
	Scopes []string `json:"scope,omitempty"`

	// Extra holds the remaining private claims.
	Extra map[string]any `json:"-"`
}

// Value returns a private claim that has no dedicated field.
func (c *Claims) Value(key string) (any, bool) {
	v, ok := c.Extra[key]
	return v, ok
}

// String returns a private claim as a string, or "" when it is missing or
// not a string.
func (c *Claims) String(key string) string {
	v, _ := c.Value(key)
	s, _ := v.(string)
	return s
}

// HasRole reports whether the role claim is one of roles.
func (c *Claims) HasRole(roles ...string) bool {
	return c.Role != "" && slices.Contains(roles, c.Role)
}

// HasScope reports whether scope was granted.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// ClaimsFromContext returns the claims stored by Middleware, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// ContextWithClaims attaches claims to ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}
