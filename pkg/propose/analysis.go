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
	"maps"
	"slices"

	"github.com/kadirpekel/instruct/pkg/signature"
)

// Analysis is the frozen view of a task that feeds context assembly.
type Analysis struct {
	TaskDescription      string               `json:"task_description"`
	InputFields          []FieldDescriptor    `json:"input_fields"`
	OutputFields         []FieldDescriptor    `json:"output_fields"`
	ExamplePatterns      ExamplePatterns      `json:"example_patterns"`
	ComplexityIndicators ComplexityIndicators `json:"complexity_indicators"`
	FewShotPatterns      *FewShotPatterns     `json:"few_shot_patterns,omitempty"`
}

// Analyze builds the Analysis for a schema over the first window examples.
// It reads but never modifies its arguments.
func Analyze(schema *signature.Signature, examples []signature.Example, demos []signature.Demo, window int) Analysis {
	inputs := Introspect(schema.Inputs)
	outputs := Introspect(schema.Outputs)
	return Analysis{
		TaskDescription:      schema.Description,
		InputFields:          inputs,
		OutputFields:         outputs,
		ExamplePatterns:      AnalyzePatterns(schema.Description, fieldNames(inputs), examples, window),
		ComplexityIndicators: AnalyzeComplexity(inputs, outputs, examples),
		FewShotPatterns:      AnalyzeFewShot(demos),
	}
}

// RequiresReasoning is shorthand for the complexity flag.
func (a Analysis) RequiresReasoning() bool {
	return a.ComplexityIndicators.RequiresReasoning
}

func (a Analysis) clone() Analysis {
	c := a
	c.InputFields = cloneFields(a.InputFields)
	c.OutputFields = cloneFields(a.OutputFields)
	c.ExamplePatterns.CommonKeywords = slices.Clone(a.ExamplePatterns.CommonKeywords)
	c.ExamplePatterns.Themes = slices.Clone(a.ExamplePatterns.Themes)
	if a.ExamplePatterns.FieldTypes != nil {
		c.ExamplePatterns.FieldTypes = make(map[string]map[string]int, len(a.ExamplePatterns.FieldTypes))
		for k, v := range a.ExamplePatterns.FieldTypes {
			c.ExamplePatterns.FieldTypes[k] = maps.Clone(v)
		}
	}
	if a.FewShotPatterns != nil {
		fs := *a.FewShotPatterns
		c.FewShotPatterns = &fs
	}
	return c
}

func cloneFields(fields []FieldDescriptor) []FieldDescriptor {
	out := slices.Clone(fields)
	for i := range out {
		out[i].EnumValues = slices.Clone(out[i].EnumValues)
	}
	return out
}
