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
	"math/rand/v2"
	"strings"

	"github.com/kadirpekel/instruct/pkg/signature"
)

// Tip is a prompting hint that may be added to the proposal context.
type Tip struct {
	Name string
	Text string
}

// Tips is the tip vocabulary, in draw order.
var Tips = []Tip{
	{"creative", "Don't be afraid to be creative when writing the new instruction."},
	{"simple", "Keep the instruction clear and concise."},
	{"description", "Make the instruction informative and descriptive."},
	{"high_stakes", "Frame the instruction around a high stakes scenario the model must get right."},
	{"persona", `Open the instruction with a persona relevant to the task (e.g. "You are a ...").`},
}

// drawTip picks a tip from rng, or returns the zero Tip when tips are off.
func drawTip(cfg Config, rng *rand.Rand) Tip {
	if !cfg.UseTip || !cfg.SetTipRandomly {
		return Tip{}
	}
	return Tips[rng.IntN(len(Tips))]
}

// includeHistory decides whether the history section is shown this call.
func includeHistory(cfg Config, rng *rand.Rand) bool {
	if !cfg.UseInstructionHistory {
		return false
	}
	if cfg.SetHistoryRandomly {
		return rng.Float64() < 0.5
	}
	return true
}

// contextParts is everything a proposal context may contain. Empty parts
// are left out.
type contextParts struct {
	summary            string
	source             string
	analysis           Analysis
	demos              []signature.Demo
	currentInstruction string
	tip                Tip
	history            string
}

// assembleContext renders the sections in fixed order, separated by blank
// lines.
func assembleContext(cfg Config, p contextParts) string {
	var sections []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	if cfg.UseDatasetSummary && p.summary != "" {
		add("Dataset summary: " + p.summary)
	}
	if cfg.ProgramAware && p.source != "" {
		add("Program: " + p.source)
	}
	add("Task: " + p.analysis.TaskDescription)
	add(renderFields(p.analysis))
	if cfg.UseTaskDemos && cfg.NumDemosInContext > 0 && len(p.demos) > 0 {
		add(renderDemos(p.demos[:min(cfg.NumDemosInContext, len(p.demos))], p.analysis))
	}
	if themes := p.analysis.ExamplePatterns.Themes; len(themes) > 0 {
		add("Detected themes: " + strings.Join(themes, ", "))
	}
	if p.currentInstruction != "" {
		add(fmt.Sprintf("Current instruction: %q", p.currentInstruction))
	}
	if p.tip.Text != "" {
		add("Tip: " + p.tip.Text)
	}
	if p.history != "" {
		add("Previously tried instructions, lowest to highest score:\n" + p.history)
	}

	return strings.Join(sections, "\n\n")
}

func renderFields(a Analysis) string {
	var b strings.Builder
	b.WriteString("Input fields:")
	for _, f := range a.InputFields {
		b.WriteString("\n- " + f.Render())
	}
	b.WriteString("\nOutput fields:")
	for _, f := range a.OutputFields {
		b.WriteString("\n- " + f.Render())
	}
	return b.String()
}

func renderDemos(demos []signature.Demo, a Analysis) string {
	inOrder := fieldNames(a.InputFields)
	outOrder := fieldNames(a.OutputFields)

	lines := []string{"Examples:"}
	for _, d := range demos {
		lines = append(lines, "- "+renderPair(d.Inputs, d.Outputs, inOrder, outOrder))
	}
	return strings.Join(lines, "\n")
}

// renderPair formats "Inputs: k: v, ... | Expected: k: v, ...". Keys in
// order come first, the rest alphabetically.
func renderPair(inputs, outputs map[string]any, inOrder, outOrder []string) string {
	return "Inputs: " + renderValues(inputs, inOrder) + " | Expected: " + renderValues(outputs, outOrder)
}

func renderValues(values map[string]any, order []string) string {
	keys := orderedKeys(values, order)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		s, ok := stringify(values[k])
		if !ok {
			continue
		}
		parts = append(parts, k+": "+s)
	}
	return strings.Join(parts, ", ")
}

func fieldNames(fields []FieldDescriptor) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
