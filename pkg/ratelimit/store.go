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
	"sync"
	"time"
)

// Store keeps fixed-window counters. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the live counter for key. An expired or missing counter is
	// reported as zero with a window starting at now.
	Get(ctx context.Context, key Key, now time.Time) (Counter, error)

	// Add adds amount to the live counter for key, starting a new window
	// when the previous one has ended.
	Add(ctx context.Context, key Key, amount int64, now time.Time) (Counter, error)

	// Reset drops every counter of caller.
	Reset(ctx context.Context, caller string) error

	// Sweep drops counters whose window ended before now.
	Sweep(ctx context.Context, now time.Time) error

	Close() error
}

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[Key]Counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[Key]Counter)}
}

func (s *MemoryStore) Get(_ context.Context, key Key, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key, now), nil
}

func (s *MemoryStore) Add(_ context.Context, key Key, amount int64, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.live(key, now)
	c.Amount += amount
	s.counters[key] = c
	return c, nil
}

func (s *MemoryStore) live(key Key, now time.Time) Counter {
	c, ok := s.counters[key]
	if !ok || !c.WindowEnd.After(now) {
		return Counter{WindowEnd: now.Add(key.Window.Duration())}
	}
	return c
}

func (s *MemoryStore) Reset(_ context.Context, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counters {
		if k.Caller == caller {
			delete(s.counters, k)
		}
	}
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.counters {
		if !c.WindowEnd.After(now) {
			delete(s.counters, k)
		}
	}
	return nil
}

// Len reports the number of counters held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
