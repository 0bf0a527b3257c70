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

package signature

// Example is one training record: input values and the expected outputs.
// Values are scalars, slices or maps as decoded from JSON or YAML.
type Example struct {
	Inputs  map[string]any `yaml:"inputs" json:"inputs"`
	Outputs map[string]any `yaml:"outputs" json:"outputs"`
}

// Demo is a few-shot demonstration shown in-context.
type Demo struct {
	Inputs    map[string]any `yaml:"inputs" json:"inputs"`
	Outputs   map[string]any `yaml:"outputs" json:"outputs"`
	Reasoning string         `yaml:"reasoning,omitempty" json:"reasoning,omitempty"`
}

// Predictor is one model-calling step of a program.
type Predictor struct {
	Name        string     `yaml:"name" json:"name"`
	Signature   *Signature `yaml:"signature" json:"signature"`
	Instruction string     `yaml:"instruction,omitempty" json:"instruction,omitempty"`
}

// Program is a pipeline of predictors. Source optionally points at the code
// implementing it, for source-aware proposals.
type Program struct {
	Name       string      `yaml:"name" json:"name"`
	Source     string      `yaml:"source,omitempty" json:"source,omitempty"`
	Predictors []Predictor `yaml:"predictors" json:"predictors"`
}

// Single wraps a signature in a one-predictor program.
func Single(name string, sig *Signature, instruction string) *Program {
	return &Program{
		Name: name,
		Predictors: []Predictor{{
			Name:        name,
			Signature:   sig,
			Instruction: instruction,
		}},
	}
}
