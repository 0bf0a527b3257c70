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
	"regexp"
	"sort"
	"strings"
)

var (
	actionVerbs = []string{"analyze", "classify", "generate", "explain", "solve", "determine", "identify"}

	reasoningCuePattern = regexp.MustCompile(`(?i)step|think|reason|explain`)
)

const (
	actionVerbWeight = 0.4
	reasoningWeight  = 0.3
)

// ScoreCandidate scores one instruction by the action verbs it uses and,
// when the task needs reasoning, whether it asks for it.
func ScoreCandidate(candidate string, requiresReasoning bool) float64 {
	lower := strings.ToLower(candidate)
	score := 0.0
	for _, verb := range actionVerbs {
		if strings.Contains(lower, verb) {
			score += actionVerbWeight
		}
	}
	if requiresReasoning && reasoningCuePattern.MatchString(candidate) {
		score += reasoningWeight
	}
	return score
}

// RankCandidates returns a new slice ordered by score, best first. Ties
// keep their input order.
func RankCandidates(candidates []string, requiresReasoning bool) []string {
	type ranked struct {
		text  string
		score float64
	}
	rs := make([]ranked, len(candidates))
	for i, c := range candidates {
		rs[i] = ranked{c, ScoreCandidate(c, requiresReasoning)}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].score > rs[j].score
	})

	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.text
	}
	return out
}
