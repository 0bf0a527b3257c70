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

package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/kadirpekel/instruct/pkg/auth"
)

// Response headers set on limited routes.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// CallerFunc attributes a request to a caller.
type CallerFunc func(*http.Request) string

// CallerFromRequest uses the token subject when the request was
// authenticated and the client host otherwise.
func CallerFromRequest(r *http.Request) string {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.Subject != "" {
		return "sub:" + claims.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return ""
	}
	return "ip:" + host
}

type callerKey struct{}

// CallerFromContext returns the caller Middleware admitted, or "".
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}

// Middleware rejects requests of callers that exhausted a rule with 429.
// A nil limiter disables it. Store failures let the request through.
func Middleware(l *Limiter, caller CallerFunc) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if caller == nil {
		caller = CallerFromRequest
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := caller(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Allow(r.Context(), id)
			if err != nil {
				slog.Error("Rate limit check failed", "caller", id, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, d)
			if !d.Allowed {
				writeLimited(w, d)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, id)))
		})
	}
}

func setHeaders(w http.ResponseWriter, d *Decision) {
	u := d.Tightest()
	if u == nil {
		return
	}
	w.Header().Set(HeaderLimit, strconv.FormatInt(u.Limit, 10))
	w.Header().Set(HeaderRemaining, strconv.FormatInt(u.Remaining, 10))
	w.Header().Set(HeaderReset, strconv.FormatInt(u.ResetsAt.Unix(), 10))
}

func writeLimited(w http.ResponseWriter, d *Decision) {
	secs := int64(math.Ceil(d.RetryAfter.Seconds()))
	if secs > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(struct {
		Error             string  `json:"error"`
		RetryAfterSeconds int64   `json:"retry_after_seconds,omitempty"`
		Usage             []Usage `json:"usage"`
	}{d.Reason, secs, d.Usages})
}
