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

// Package ratelimit enforces per-caller proposal quotas.
//
// Each rule is a fixed window over either the number of proposal requests or
// the prompt context tokens those proposals consumed. A request is admitted
// only while every rule has headroom; admitted requests are counted up
// front, tokens once the proposal completes.
package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/instruct/pkg/config"
)

// Kind is what a rule counts.
type Kind string

const (
	KindRequests Kind = "requests"
	KindTokens   Kind = "tokens"
)

// Window is the length of a fixed counting window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
	WindowWeek   Window = "week"
)

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	}
	return time.Hour
}

// Rule limits one Kind within one Window.
type Rule struct {
	Kind   Kind
	Window Window
	Limit  int64
}

func (r Rule) String() string {
	return fmt.Sprintf("%d %s per %s", r.Limit, r.Kind, r.Window)
}

// RulesFromConfig converts configured rules.
func RulesFromConfig(cfg *config.RateLimitConfig) []Rule {
	rules := make([]Rule, 0, len(cfg.Limits))
	for _, l := range cfg.Limits {
		rules = append(rules, Rule{Kind: Kind(l.Type), Window: Window(l.Window), Limit: l.Limit})
	}
	return rules
}

// Key identifies one counter.
type Key struct {
	Caller string
	Kind   Kind
	Window Window
}

// Counter is the amount consumed in the window ending at WindowEnd.
type Counter struct {
	Amount    int64
	WindowEnd time.Time
}

// Usage reports a caller's standing against one rule.
type Usage struct {
	Kind      Kind      `json:"type"`
	Window    Window    `json:"window"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Decision is the outcome of Allow.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	Usages     []Usage       `json:"usage"`
	RetryAfter time.Duration `json:"-"`
}

// Tightest returns the usage with the least remaining headroom relative to
// its limit, or nil when there are none.
func (d *Decision) Tightest() *Usage {
	var best *Usage
	for i := range d.Usages {
		u := &d.Usages[i]
		if best == nil || u.Remaining*best.Limit < best.Remaining*u.Limit {
			best = u
		}
	}
	return best
}

// ErrEmptyCaller is returned for requests that could not be attributed.
var ErrEmptyCaller = errors.New("caller identifier is empty")
