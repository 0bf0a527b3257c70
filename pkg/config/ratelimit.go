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

package config

import (
	"errors"
	"fmt"
	"slices"
)

// Rate limit stores.
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreSQL    = "sql"
)

var (
	rateLimitTypes   = []string{"requests", "tokens"}
	rateLimitWindows = []string{"minute", "hour", "day", "week"}
)

// RateLimitConfig caps how many proposals a caller may request. Callers are
// identified by their token subject, or by client address when auth is off.
//
//	server:
//	  rate_limit:
//	    enabled: true
//	    store: sql
//	    limits:
//	      - {type: requests, window: minute, limit: 10}
//	      - {type: tokens, window: day, limit: 2000000}
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`

	// Store is memory, or sql to share counters through the database section.
	Store string `yaml:"store,omitempty" json:"store,omitempty" jsonschema:"title=Store,enum=memory,enum=sql,default=memory"`

	Limits []RateLimitRule `yaml:"limits,omitempty" json:"limits,omitempty" jsonschema:"title=Limits,description=Per-caller limits; all must hold"`
}

// RateLimitRule is one fixed-window limit. Token limits count the prompt
// context tokens of completed proposals.
type RateLimitRule struct {
	Type   string `yaml:"type" json:"type" jsonschema:"title=Type,enum=requests,enum=tokens"`
	Window string `yaml:"window" json:"window" jsonschema:"title=Window,enum=minute,enum=hour,enum=day,enum=week"`
	Limit  int64  `yaml:"limit" json:"limit" jsonschema:"title=Limit,minimum=1"`
}

// SetDefaults uses the memory store and, when enabled without rules, allows
// 60 proposals per minute.
func (c *RateLimitConfig) SetDefaults() {
	if c.Store == "" {
		c.Store = RateLimitStoreMemory
	}
	if c.Enabled && len(c.Limits) == 0 {
		c.Limits = []RateLimitRule{{Type: "requests", Window: "minute", Limit: 60}}
	}
}

// Validate checks every rule. A disabled section is always valid.
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.Store != RateLimitStoreMemory && c.Store != RateLimitStoreSQL {
		errs = append(errs, fmt.Errorf("invalid store %q (valid: memory, sql)", c.Store))
	}
	for i, rule := range c.Limits {
		if !slices.Contains(rateLimitTypes, rule.Type) {
			errs = append(errs, fmt.Errorf("limits[%d]: invalid type %q (valid: requests, tokens)", i, rule.Type))
		}
		if !slices.Contains(rateLimitWindows, rule.Window) {
			errs = append(errs, fmt.Errorf("limits[%d]: invalid window %q (valid: minute, hour, day, week)", i, rule.Window))
		}
		if rule.Limit <= 0 {
			errs = append(errs, fmt.Errorf("limits[%d]: limit must be positive", i))
		}
	}
	return errors.Join(errs...)
}

// IsEnabled reports whether rate limiting is configured and on.
func (c *RateLimitConfig) IsEnabled() bool {
	return c != nil && c.Enabled
}
