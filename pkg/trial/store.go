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

// Package trial records optimization trials so later proposals can learn
// from the instructions that were already tried.
//
// A run groups the trials of one optimization session. Each trial carries
// the instruction used per predictor index and the score it achieved. Logs
// converts a run into the propose.TrialLogs shape consumed by the engine.
package trial

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kadirpekel/instruct/pkg/propose"
)

// ErrRunNotFound is returned when a run has no recorded trials.
var ErrRunNotFound = errors.New("run not found")

// NextIndex asks Record to append the trial after the last one in its run.
const NextIndex = -1

// Trial is one evaluated set of instructions.
type Trial struct {
	RunID        string         `json:"run_id" yaml:"run_id"`
	Index        int            `json:"index" yaml:"index"`
	Instructions map[int]string `json:"instructions" yaml:"instructions"`
	Score        *float64       `json:"score,omitempty" yaml:"score,omitempty"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
}

// RunSummary describes one run.
type RunSummary struct {
	ID        string   `json:"id"`
	Trials    int      `json:"trials"`
	BestScore *float64 `json:"best_score,omitempty"`
}

// Store persists trials grouped by run.
type Store interface {
	// Record saves a trial under runID and returns it with its index and
	// timestamp filled in. A trial with an existing index replaces it.
	Record(ctx context.Context, runID string, t Trial) (Trial, error)

	// Logs returns the trials of a run keyed by trial index.
	Logs(ctx context.Context, runID string) (propose.TrialLogs, error)

	// Runs lists every run ordered by ID.
	Runs(ctx context.Context) ([]RunSummary, error)

	Close() error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Option configures a store.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock sets the clock used for trial timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MemoryStore keeps trials in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]map[int]Trial
	clock clockwork.Clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		runs:  make(map[string]map[int]Trial),
		clock: o.clock,
	}
}

func (s *MemoryStore) Record(_ context.Context, runID string, t Trial) (Trial, error) {
	if err := validate(runID, t); err != nil {
		return Trial{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		run = make(map[int]Trial)
		s.runs[runID] = run
	}
	if t.Index == NextIndex {
		t.Index = 0
		for idx := range run {
			t.Index = max(t.Index, idx+1)
		}
	}

	t.RunID = runID
	t.Instructions = maps.Clone(t.Instructions)
	if t.Score != nil {
		score := *t.Score
		t.Score = &score
	}
	t.CreatedAt = s.clock.Now().UTC()
	run[t.Index] = t
	return t, nil
}

func (s *MemoryStore) Logs(_ context.Context, runID string) (propose.TrialLogs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	logs := make(propose.TrialLogs, len(run))
	for idx, t := range run {
		logs[idx] = toEntry(t.Instructions, t.Score)
	}
	return logs, nil
}

func (s *MemoryStore) Runs(_ context.Context) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(s.runs))
	out := make([]RunSummary, 0, len(ids))
	for _, id := range ids {
		summary := RunSummary{ID: id, Trials: len(s.runs[id])}
		for _, t := range s.runs[id] {
			if t.Score != nil && (summary.BestScore == nil || *t.Score > *summary.BestScore) {
				best := *t.Score
				summary.BestScore = &best
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func validate(runID string, t Trial) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	if t.Index < NextIndex {
		return errors.New("trial index must be non-negative")
	}
	return nil
}

func toEntry(instructions map[int]string, score *float64) propose.TrialLogEntry {
	entry := propose.TrialLogEntry{Instructions: maps.Clone(instructions)}
	if score != nil {
		s := *score
		entry.Score = &s
	}
	return entry
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
