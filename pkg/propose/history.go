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
	"fmt"
	"math"
	"sort"
	"strings"
)

// TrialLogEntry is one past optimization trial: the instruction used per
// predictor index and the score it achieved.
type TrialLogEntry struct {
	Instructions map[int]string `json:"instructions" yaml:"instructions"`
	Score        *float64       `json:"score,omitempty" yaml:"score,omitempty"`
}

// TrialLogs maps trial index to its entry.
type TrialLogs map[int]TrialLogEntry

// InstructionHistory renders the best instructions tried for a predictor,
// averaged over trials. The top MaxHistoryInstructions are kept and listed
// in ascending score order, so the best one comes last. Entries without a
// score or instruction are ignored. Returns "" when nothing was scored.
func InstructionHistory(logs TrialLogs, predictor int) string {
	type scored struct {
		instruction string
		sum         float64
		n           int
	}

	trials := make([]int, 0, len(logs))
	for k := range logs {
		trials = append(trials, k)
	}
	sort.Ints(trials)

	index := make(map[string]int)
	var entries []*scored
	for _, k := range trials {
		entry := logs[k]
		if entry.Score == nil || math.IsNaN(*entry.Score) {
			continue
		}
		instruction := strings.TrimSpace(entry.Instructions[predictor])
		if instruction == "" {
			continue
		}
		i, ok := index[instruction]
		if !ok {
			i = len(entries)
			index[instruction] = i
			entries = append(entries, &scored{instruction: instruction})
		}
		entries[i].sum += *entry.Score
		entries[i].n++
	}
	if len(entries) == 0 {
		return ""
	}

	avg := func(s *scored) float64 { return s.sum / float64(s.n) }
	sort.SliceStable(entries, func(i, j int) bool {
		return avg(entries[i]) > avg(entries[j])
	})
	if len(entries) > MaxHistoryInstructions {
		entries = entries[:MaxHistoryInstructions]
	}

	lines := make([]string, len(entries))
	for i, s := range entries {
		lines[len(entries)-1-i] = fmt.Sprintf("%s | Score: %.4f", s.instruction, avg(s))
	}
	return strings.Join(lines, "\n")
}
