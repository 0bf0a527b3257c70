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
	"errors"
	"fmt"
)

// Defaults for the numeric knobs.
const (
	DefaultNumInstructionCandidates = 5
	DefaultViewDataBatchSize        = 10
	DefaultNumDemosInContext        = 3
	DefaultMaxConcurrency           = 1

	// MaxHistoryInstructions caps the rendered instruction history.
	MaxHistoryInstructions = 5
)

// Config controls which signals feed the proposal context and how many
// candidates are generated. The Use* toggles are independent of each other.
type Config struct {
	// UseDatasetSummary includes the iteratively built dataset summary.
	UseDatasetSummary bool

	// ProgramAware includes the source-awareness note for the program.
	ProgramAware bool

	// UseTaskDemos includes few-shot demo summaries.
	UseTaskDemos bool

	// UseTip includes a prompting tip. A tip is only drawn when
	// SetTipRandomly is also set.
	UseTip bool

	// UseInstructionHistory includes previously tried instructions and
	// their average scores.
	UseInstructionHistory bool

	// SetTipRandomly draws the tip from the injected random source.
	SetTipRandomly bool

	// SetHistoryRandomly includes the history section with probability 0.5.
	SetHistoryRandomly bool

	// NumInstructionCandidates is the number of generation calls per proposal.
	NumInstructionCandidates int

	// ViewDataBatchSize is the summarizer batch size and the pattern
	// analysis window.
	ViewDataBatchSize int

	// NumDemosInContext caps the demos rendered into the context.
	NumDemosInContext int

	// MaxConcurrency bounds parallel candidate generation calls.
	MaxConcurrency int

	// Temperature is the base temperature for generation calls. Nil leaves
	// the completion service default.
	Temperature *float64

	// TemperatureStep adds i*step to the base temperature of call i.
	TemperatureStep float64

	// Verbose logs summarizer steps and candidate texts at INFO.
	Verbose bool
}

// DefaultConfig returns a Config with every signal enabled and a
// deterministic history section.
func DefaultConfig() Config {
	return Config{
		UseDatasetSummary:        true,
		ProgramAware:             true,
		UseTaskDemos:             true,
		UseTip:                   true,
		UseInstructionHistory:    true,
		SetTipRandomly:           true,
		SetHistoryRandomly:       false,
		NumInstructionCandidates: DefaultNumInstructionCandidates,
		ViewDataBatchSize:        DefaultViewDataBatchSize,
		NumDemosInContext:        DefaultNumDemosInContext,
		MaxConcurrency:           DefaultMaxConcurrency,
	}
}

// Validate checks the numeric knobs.
func (c Config) Validate() error {
	var errs []error
	if c.NumInstructionCandidates < 1 {
		errs = append(errs, fmt.Errorf("num_instruction_candidates must be at least 1, got %d", c.NumInstructionCandidates))
	}
	if c.ViewDataBatchSize < 1 {
		errs = append(errs, fmt.Errorf("view_data_batch_size must be at least 1, got %d", c.ViewDataBatchSize))
	}
	if c.NumDemosInContext < 0 {
		errs = append(errs, fmt.Errorf("num_demos_in_context must be non-negative, got %d", c.NumDemosInContext))
	}
	if c.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 2"))
	}
	if c.TemperatureStep < 0 {
		errs = append(errs, fmt.Errorf("temperature_step must be non-negative"))
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	if c.NumInstructionCandidates == 0 {
		c.NumInstructionCandidates = DefaultNumInstructionCandidates
	}
	if c.ViewDataBatchSize == 0 {
		c.ViewDataBatchSize = DefaultViewDataBatchSize
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	return c
}
