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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/instruct/pkg/completion"
	"github.com/kadirpekel/instruct/pkg/observability"
)

const (
	proposedInstructionField = "proposed_instruction"

	maxTemperature = 2.0

	generatorInstruction = "You are an expert prompt engineer. Use the task context to write one " +
		"new instruction for a language model performing this task. Reply with the instruction only."

	reasoningFallback = "Think step by step and provide a clear explanation."
	plainFallback     = "Be accurate and specific in your response."
)

// Requirements returns the sentence that steers generation, extended by
// what the analysis detected.
func Requirements(a Analysis) string {
	clauses := []string{"Be specific and actionable.", "Guide the model's reasoning process."}
	if a.RequiresReasoning() {
		clauses = append(clauses, "Encourage step-by-step thinking.")
	}
	if a.ExamplePatterns.HasTheme(ThemeMathematicalReasoning) {
		clauses = append(clauses, "Emphasize mathematical accuracy.")
	}
	if a.ExamplePatterns.HasTheme(ThemeClassification) {
		clauses = append(clauses, "Encourage careful categorization.")
	}
	return strings.Join(clauses, " ")
}

// Fallback is the instruction used when no candidate could be generated.
func Fallback(a Analysis) string {
	suffix := plainFallback
	if a.RequiresReasoning() {
		suffix = reasoningFallback
	}
	return strings.TrimSpace(strings.TrimSpace(a.TaskDescription) + " " + suffix)
}

// generateCandidates issues n independent completion calls. Failed calls
// are logged and skipped. The result keeps call order, minus empties and
// duplicates; fallback reports that nothing came back.
func (p *Proposer) generateCandidates(ctx context.Context, contextText string, a Analysis, n int) (candidates []string, fallback bool) {
	ctx, span := p.tracer.Start(ctx, observability.SpanGenerate)
	defer span.End()

	instruction := generatorInstruction + "\n\n" + Requirements(a)
	slots := make([]string, n)

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrency)
	for i := range n {
		g.Go(func() error {
			res, err := p.service.Complete(ctx, &completion.Request{
				Instruction: instruction,
				Prompt: fmt.Sprintf("%s\n\nCandidate #%d of %d. Propose an instruction that differs from the others.",
					contextText, i+1, n),
				Outputs: []completion.OutputField{{
					Name:        proposedInstructionField,
					Description: "The proposed instruction",
				}},
				Temperature: p.temperatureFor(i + 1),
			})
			if err != nil {
				slog.Warn("Candidate generation failed", "candidate", i+1, "error", err)
				return nil
			}
			slots[i] = strings.TrimSpace(res.Get(proposedInstructionField))
			p.logStep("Generated candidate", "candidate", i+1, "instruction", slots[i])
			return nil
		})
	}
	_ = g.Wait()

	candidates = dedupe(slots)
	if len(candidates) == 0 {
		fb := Fallback(a)
		slog.Warn("No candidates generated, using fallback instruction", "instruction", fb)
		return []string{fb}, true
	}
	return candidates, false
}

// temperatureFor returns the temperature for the 1-based call index.
func (p *Proposer) temperatureFor(index int) *float64 {
	if p.cfg.Temperature == nil {
		return nil
	}
	t := *p.cfg.Temperature
	if p.cfg.TemperatureStep > 0 {
		t = min(t+float64(index)*p.cfg.TemperatureStep, maxTemperature)
	}
	return &t
}

// dedupe drops empty strings and repeats, keeping first occurrences.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
