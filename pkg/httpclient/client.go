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

// Package httpclient is the retrying HTTP client shared by the HTTP-based
// model providers. Retries and backoff for completion calls live here so the
// proposal engine never has to reason about them.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// Client defaults.
const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second

	// fixedRetries caps retries of plain server errors.
	fixedRetries = 2
)

// Backoff is how a failed status is retried.
type Backoff int

const (
	// NoRetry returns the failure to the caller.
	NoRetry Backoff = iota
	// FixedBackoff retries server errors a couple of times with a short,
	// linearly growing delay.
	FixedBackoff
	// ExponentialBackoff retries rate limits, honouring provider hints.
	ExponentialBackoff
)

func (b Backoff) String() string {
	switch b {
	case FixedBackoff:
		return "fixed"
	case ExponentialBackoff:
		return "exponential"
	}
	return "none"
}

// Classifier maps a non-2xx status to a Backoff.
type Classifier func(status int) Backoff

// HintParser extracts retry hints from the headers of a failed response.
type HintParser func(http.Header) Hints

// Hints is what a provider said about its limits on a failed response.
type Hints struct {
	RetryAfter        time.Duration
	ResetAt           time.Time
	RequestsRemaining int
	TokensRemaining   int
}

// RetryableError is returned once retries on a transient status run out.
type RetryableError struct {
	StatusCode int
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	msg := fmt.Sprintf("HTTP %d after %d attempts", e.StatusCode, e.Attempts)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	return msg
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err wraps a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Client wraps http.Client with status-driven retries.
type Client struct {
	client     *http.Client
	clock      clockwork.Clock
	maxRetries int
	baseDelay  time.Duration
	classify   Classifier
	hints      HintParser
	wait       func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithTimeout bounds each attempt. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithHeaderParser reads provider specific retry hints.
func WithHeaderParser(p HintParser) Option {
	return func(c *Client) { c.hints = p }
}

func WithClassifier(fn Classifier) Option {
	return func(c *Client) { c.classify = fn }
}

// WithClock replaces the clock used for backoff waits.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// New returns a client with the default timeout, retries and classifier.
func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: DefaultTimeout},
		clock:      clockwork.NewRealClock(),
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		classify:   Classify,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.wait = c.sleep
	return c
}

// Classify is the default Classifier.
func Classify(status int) Backoff {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return ExponentialBackoff
	case http.StatusRequestTimeout, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return FixedBackoff
	}
	return NoRetry
}

// Do sends req and retries transient failures. Bodies are replayed through
// req.GetBody, which http.NewRequest sets for the common body types. On a
// non-2xx status the response is returned together with the error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replay request body: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		failure := fmt.Errorf("HTTP %d", resp.StatusCode)
		backoff := c.classify(resp.StatusCode)
		if backoff == NoRetry {
			return resp, failure
		}

		var hints Hints
		if c.hints != nil {
			hints = c.hints(resp.Header)
		}
		delay := c.delay(backoff, attempt, hints)
		if attempt >= c.maxRetries {
			return resp, &RetryableError{
				StatusCode: resp.StatusCode,
				Attempts:   attempt + 1,
				RetryAfter: delay,
				Err:        failure,
			}
		}
		if delay <= 0 {
			return resp, failure
		}

		_ = resp.Body.Close()
		slog.Warn("Retrying HTTP request",
			"status", resp.StatusCode,
			"backoff", backoff.String(),
			"delay", delay,
			"attempt", attempt+1,
			"max_retries", c.maxRetries)
		if err := c.wait(req.Context(), delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) delay(backoff Backoff, attempt int, hints Hints) time.Duration {
	switch backoff {
	case ExponentialBackoff:
		if hints.RetryAfter > 0 {
			return hints.RetryAfter
		}
		if !hints.ResetAt.IsZero() {
			if d := hints.ResetAt.Sub(c.clock.Now()); d > 0 {
				return d
			}
		}
		d := c.baseDelay << attempt
		return d + d/10

	case FixedBackoff:
		if attempt >= fixedRetries {
			return 0
		}
		return time.Duration(2+attempt) * c.baseDelay / 2
	}
	return 0
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := c.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
