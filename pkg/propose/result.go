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

package propose

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Metadata describes how a Result was produced.
type Metadata struct {
	ProposalID          string    `json:"proposal_id"`
	Timestamp           time.Time `json:"timestamp"`
	Model               string    `json:"model,omitempty"`
	NumExamplesAnalyzed int       `json:"num_examples_analyzed"`
	CurrentInstruction  string    `json:"current_instruction,omitempty"`
	Tip                 string    `json:"tip,omitempty"`
	ContextTokens       int       `json:"context_tokens,omitempty"`
	Fallback            bool      `json:"fallback"`
}

// Result is the immutable outcome of one proposal. Accessors return copies.
type Result struct {
	candidates            []string
	predictorInstructions map[int][]string
	analysis              Analysis
	metadata              Metadata
	context               string
}

// Candidates returns the ranked candidates, best first.
func (r *Result) Candidates() []string {
	return slices.Clone(r.candidates)
}

// BestInstruction returns the top candidate, or "" when there is none.
func (r *Result) BestInstruction() string {
	if len(r.candidates) == 0 {
		return ""
	}
	return r.candidates[0]
}

func (r *Result) NumCandidates() int {
	return len(r.candidates)
}

// PredictorInstructions returns the per-predictor candidate lists, or nil
// for single-schema proposals.
func (r *Result) PredictorInstructions() map[int][]string {
	if r.predictorInstructions == nil {
		return nil
	}
	out := make(map[int][]string, len(r.predictorInstructions))
	for k, v := range r.predictorInstructions {
		out[k] = slices.Clone(v)
	}
	return out
}

func (r *Result) Analysis() Analysis {
	return r.analysis.clone()
}

func (r *Result) Metadata() Metadata {
	return r.metadata
}

// Context returns the prompt context the candidates were generated from.
func (r *Result) Context() string {
	return r.context
}

type resultJSON struct {
	BestInstruction       string           `json:"best_instruction"`
	Candidates            []string         `json:"candidates"`
	NumCandidates         int              `json:"num_candidates"`
	PredictorInstructions map[int][]string `json:"predictor_instructions,omitempty"`
	Analysis              Analysis         `json:"analysis"`
	Metadata              Metadata         `json:"metadata"`
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		BestInstruction:       r.BestInstruction(),
		Candidates:            r.candidates,
		NumCandidates:         r.NumCandidates(),
		PredictorInstructions: maps.Clone(r.predictorInstructions),
		Analysis:              r.analysis,
		Metadata:              r.metadata,
	})
}
