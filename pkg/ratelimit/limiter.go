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
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kadirpekel/instruct/pkg/config"
)

// DefaultSweepInterval is how often Run drops expired counters.
const DefaultSweepInterval = 5 * time.Minute

// Limiter applies a set of rules to callers.
type Limiter struct {
	rules []Rule
	store Store
	clock clockwork.Clock

	// mu makes Allow's check-then-count atomic within one process.
	mu sync.Mutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the clock used for windows.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Limiter) { l.clock = clock }
}

// New returns a limiter enforcing rules over store.
func New(rules []Rule, store Store, opts ...Option) (*Limiter, error) {
	if len(rules) == 0 {
		return nil, errors.New("at least one rule is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	seen := make(map[Key]bool, len(rules))
	for _, r := range rules {
		k := Key{Kind: r.Kind, Window: r.Window}
		if seen[k] {
			return nil, fmt.Errorf("rule %s: duplicate %s/%s rule", r, r.Kind, r.Window)
		}
		seen[k] = true
		if r.Limit <= 0 {
			return nil, fmt.Errorf("rule %s: limit must be positive", r)
		}
		if r.Kind != KindRequests && r.Kind != KindTokens {
			return nil, fmt.Errorf("rule %s: unknown kind", r)
		}
	}

	l := &Limiter{rules: slices.Clone(rules), store: store, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NewFromConfig builds the limiter described by cfg, or returns nil when
// rate limiting is off.
func NewFromConfig(ctx context.Context, cfg *config.RateLimitConfig, dbCfg *config.DatabaseConfig, pool *config.DBPool, opts ...Option) (*Limiter, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	store, err := NewStoreFromConfig(ctx, cfg, dbCfg, pool)
	if err != nil {
		return nil, err
	}
	return New(RulesFromConfig(cfg), store, opts...)
}

// Rules returns the enforced rules.
func (l *Limiter) Rules() []Rule {
	return slices.Clone(l.rules)
}

// Allow admits caller when every rule has headroom and, if so, counts the
// request against the request rules.
func (l *Limiter) Allow(ctx context.Context, caller string) (*Decision, error) {
	if caller == "" {
		return nil, ErrEmptyCaller
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	d := &Decision{Allowed: true, Usages: make([]Usage, 0, len(l.rules))}
	counters := make([]Counter, len(l.rules))

	for i, rule := range l.rules {
		c, err := l.store.Get(ctx, l.key(caller, rule), now)
		if err != nil {
			return nil, err
		}
		counters[i] = c
		if c.Amount < rule.Limit {
			continue
		}
		wait := c.WindowEnd.Sub(now)
		if d.Allowed || wait > d.RetryAfter {
			d.RetryAfter = wait
		}
		if d.Allowed {
			d.Reason = fmt.Sprintf("%s limit reached for the %s window (%d/%d)", rule.Kind, rule.Window, c.Amount, rule.Limit)
		}
		d.Allowed = false
	}

	if d.Allowed {
		for i, rule := range l.rules {
			if rule.Kind != KindRequests {
				continue
			}
			c, err := l.store.Add(ctx, l.key(caller, rule), 1, now)
			if err != nil {
				return nil, err
			}
			counters[i] = c
		}
	}

	for i, rule := range l.rules {
		d.Usages = append(d.Usages, usage(rule, counters[i]))
	}
	return d, nil
}

// Record charges tokens to caller's token rules.
func (l *Limiter) Record(ctx context.Context, caller string, tokens int64) error {
	if caller == "" {
		return ErrEmptyCaller
	}
	if tokens <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for _, rule := range l.rules {
		if rule.Kind != KindTokens {
			continue
		}
		if _, err := l.store.Add(ctx, l.key(caller, rule), tokens, now); err != nil {
			return err
		}
	}
	return nil
}

// Usage reports caller's standing against every rule without counting.
func (l *Limiter) Usage(ctx context.Context, caller string) ([]Usage, error) {
	if caller == "" {
		return nil, ErrEmptyCaller
	}
	now := l.clock.Now()
	out := make([]Usage, 0, len(l.rules))
	for _, rule := range l.rules {
		c, err := l.store.Get(ctx, l.key(caller, rule), now)
		if err != nil {
			return nil, err
		}
		out = append(out, usage(rule, c))
	}
	return out, nil
}

// Reset forgets caller's counters.
func (l *Limiter) Reset(ctx context.Context, caller string) error {
	if caller == "" {
		return ErrEmptyCaller
	}
	return l.store.Reset(ctx, caller)
}

// Run sweeps expired counters every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := l.store.Sweep(ctx, l.clock.Now()); err != nil {
				slog.Warn("Failed to sweep rate limit counters", "error", err)
			}
		}
	}
}

// Close closes the store.
func (l *Limiter) Close() error {
	return l.store.Close()
}

func (l *Limiter) key(caller string, rule Rule) Key {
	return Key{Caller: caller, Kind: rule.Kind, Window: rule.Window}
}

func usage(rule Rule, c Counter) Usage {
	return Usage{
		Kind:      rule.Kind,
		Window:    rule.Window,
		Current:   c.Amount,
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-c.Amount, 0),
		ResetsAt:  c.WindowEnd,
	}
}
