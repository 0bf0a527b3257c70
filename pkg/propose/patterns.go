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
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/instruct/pkg/signature"
)

// Theme names.
const (
	ThemeQuestionAnswering     = "question_answering"
	ThemeClassification        = "classification"
	ThemeMathematicalReasoning = "mathematical_reasoning"
	ThemeAnalyticalReasoning   = "analytical_reasoning"
)

// ThemeRulesVersion changes whenever ThemeRules changes.
const ThemeRulesVersion = 1

// ThemeRule detects one theme in text. Rules are independent and
// non-exclusive.
type ThemeRule struct {
	Name  string
	Match func(text string) bool
}

var (
	classificationPattern = regexp.MustCompile(`(?i)classify|category|type`)
	arithmeticPattern     = regexp.MustCompile(`\d+\s*[+\-*/]\s*\d+`)
	analyticalPattern     = regexp.MustCompile(`(?i)analyze|explain|reason`)

	reasoningFieldPattern = regexp.MustCompile(`(?i)reason|explain|rational|justif`)
	reasoningInputPattern = regexp.MustCompile(`(?i)why|how|explain|analyze|reason`)

	nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
)

// ThemeRules is the ordered theme table.
var ThemeRules = []ThemeRule{
	{ThemeQuestionAnswering, func(s string) bool {
		return strings.Contains(strings.ToLower(s), "question") || strings.Contains(s, "?")
	}},
	{ThemeClassification, classificationPattern.MatchString},
	{ThemeMathematicalReasoning, arithmeticPattern.MatchString},
	{ThemeAnalyticalReasoning, analyticalPattern.MatchString},
}

const (
	maxKeywords       = 10
	minKeywordLength  = 4
	reasoningSampleN  = 5
	stringInputsDelim = " "
)

// ExamplePatterns holds statistics over the analysis window.
type ExamplePatterns struct {
	SampleSize      int                       `json:"sample_size"`
	AvgInputLength  float64                   `json:"avg_input_length"`
	AvgOutputLength float64                   `json:"avg_output_length"`
	FieldTypes      map[string]map[string]int `json:"field_types"`
	CommonKeywords  []string                  `json:"common_keywords"`
	Themes          []string                  `json:"themes"`
}

// HasTheme reports whether name was detected.
func (p ExamplePatterns) HasTheme(name string) bool {
	for _, t := range p.Themes {
		if t == name {
			return true
		}
	}
	return false
}

// ComplexityIndicators summarizes how demanding the task looks.
type ComplexityIndicators struct {
	NumInputFields    int  `json:"num_input_fields"`
	NumOutputFields   int  `json:"num_output_fields"`
	HasComplexOutput  bool `json:"has_complex_output"`
	RequiresReasoning bool `json:"requires_reasoning"`
}

// FewShotPatterns describes the demos supplied with a proposal.
type FewShotPatterns struct {
	NumDemos        int     `json:"num_demos"`
	WithReasoning   int     `json:"with_reasoning"`
	AvgOutputLength float64 `json:"avg_output_length"`
}

// AnalyzePatterns computes statistics over the first window examples.
// Inputs named in inputOrder are read in that order, the rest
// alphabetically. Lengths count characters. Values that cannot be rendered
// are skipped.
func AnalyzePatterns(description string, inputOrder []string, examples []signature.Example, window int) ExamplePatterns {
	if window <= 0 || window > len(examples) {
		window = len(examples)
	}
	sample := examples[:window]

	p := ExamplePatterns{
		SampleSize: len(sample),
		FieldTypes: make(map[string]map[string]int),
	}

	var inTotal, outTotal int
	texts := []string{description}
	for _, ex := range sample {
		inTotal += valuesLength(ex.Inputs)
		outTotal += valuesLength(ex.Outputs)
		tallyTypes(p.FieldTypes, ex.Inputs)
		tallyTypes(p.FieldTypes, ex.Outputs)
		texts = append(texts, stringInputs(ex, inputOrder)...)
	}
	if n := len(sample); n > 0 {
		p.AvgInputLength = float64(inTotal) / float64(n)
		p.AvgOutputLength = float64(outTotal) / float64(n)
	}

	p.CommonKeywords = topKeywords(sample, inputOrder)
	p.Themes = DetectThemes(strings.Join(texts, "\n"))
	return p
}

// DetectThemes applies ThemeRules in order.
func DetectThemes(text string) []string {
	themes := []string{}
	for _, rule := range ThemeRules {
		if rule.Match(text) {
			themes = append(themes, rule.Name)
		}
	}
	return themes
}

// AnalyzeComplexity derives the complexity indicators.
func AnalyzeComplexity(inputs, outputs []FieldDescriptor, examples []signature.Example) ComplexityIndicators {
	c := ComplexityIndicators{
		NumInputFields:  len(inputs),
		NumOutputFields: len(outputs),
	}
	for _, f := range outputs {
		if f.IsComplex() {
			c.HasComplexOutput = true
		}
		if reasoningFieldPattern.MatchString(f.Name) {
			c.RequiresReasoning = true
		}
	}

	if !c.RequiresReasoning {
		n := min(reasoningSampleN, len(examples))
		order := fieldNames(inputs)
		var parts []string
		for _, ex := range examples[:n] {
			parts = append(parts, stringInputs(ex, order)...)
		}
		c.RequiresReasoning = reasoningInputPattern.MatchString(strings.Join(parts, stringInputsDelim))
	}
	return c
}

// AnalyzeFewShot summarizes demos, or returns nil when there are none.
func AnalyzeFewShot(demos []signature.Demo) *FewShotPatterns {
	if len(demos) == 0 {
		return nil
	}
	p := &FewShotPatterns{NumDemos: len(demos)}
	var total int
	for _, d := range demos {
		if strings.TrimSpace(d.Reasoning) != "" {
			p.WithReasoning++
		}
		total += valuesLength(d.Outputs)
	}
	p.AvgOutputLength = float64(total) / float64(len(demos))
	return p
}

func valuesLength(values map[string]any) int {
	n := 0
	for _, v := range values {
		if s, ok := stringify(v); ok {
			n += utf8.RuneCountInString(s)
		}
	}
	return n
}

// stringInputs returns the string-valued inputs of ex, fields in order
// first.
func stringInputs(ex signature.Example, order []string) []string {
	keys := orderedKeys(ex.Inputs, order)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := ex.Inputs[k].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func tallyTypes(tally map[string]map[string]int, values map[string]any) {
	for k, v := range values {
		name, ok := valueTypeName(v)
		if !ok {
			continue
		}
		if tally[k] == nil {
			tally[k] = make(map[string]int)
		}
		tally[k][name]++
	}
}

func valueTypeName(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	switch v.(type) {
	case string:
		return "string", true
	case bool:
		return "boolean", true
	case json.Number:
		return "number", true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number", true
	case reflect.Slice, reflect.Array:
		return "array", true
	case reflect.Map, reflect.Struct:
		return "object", true
	}
	return "", false
}

// stringify renders a value for length statistics and demo rendering.
func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "", false
	}
	return fmt.Sprint(v), true
}

func topKeywords(examples []signature.Example, inputOrder []string) []string {
	counts := make(map[string]int)
	var order []string
	for _, ex := range examples {
		for _, text := range stringInputs(ex, inputOrder) {
			for _, w := range nonWord.Split(strings.ToLower(text), -1) {
				if utf8.RuneCountInString(w) < minKeywordLength {
					continue
				}
				if counts[w] == 0 {
					order = append(order, w)
				}
				counts[w]++
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	if order == nil {
		order = []string{}
	}
	return order
}

// orderedKeys returns the keys of values named in order, in that order,
// followed by the remaining keys sorted.
func orderedKeys(values map[string]any, order []string) []string {
	keys := make([]string, 0, len(values))
	for _, k := range order {
		if _, ok := values[k]; ok && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range values {
		if !slices.Contains(order, k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
