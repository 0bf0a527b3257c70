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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfter reads the standard Retry-After header in either the
// delta-seconds or the HTTP-date form.
func ParseRetryAfter(h http.Header) Hints {
	var hints Hints
	v := h.Get("Retry-After")
	if v == "" {
		return hints
	}
	if secs, err := strconv.Atoi(v); err == nil {
		hints.RetryAfter = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		hints.ResetAt = at
	}
	return hints
}

// ParseOpenAIHeaders adds the x-ratelimit-* headers to ParseRetryAfter.
// Resets come as durations ("6m0s"); some proxies send unix seconds.
func ParseOpenAIHeaders(h http.Header) Hints {
	hints := ParseRetryAfter(h)

	for _, name := range []string{"x-ratelimit-reset-tokens", "x-ratelimit-reset-requests"} {
		v := h.Get(name)
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			if hints.RetryAfter == 0 {
				hints.RetryAfter = d
			}
			break
		}
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			hints.ResetAt = time.Unix(unix, 0)
			break
		}
	}

	hints.RequestsRemaining = headerInt(h, "x-ratelimit-remaining-requests")
	hints.TokensRemaining = headerInt(h, "x-ratelimit-remaining-tokens")
	return hints
}

func headerInt(h http.Header, name string) int {
	n, _ := strconv.Atoi(h.Get(name))
	return n
}
