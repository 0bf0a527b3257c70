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

package config

import (
	"github.com/kadirpekel/instruct/pkg/propose"
)

// ProposerConfig configures the instruction proposal engine.
//
// Example:
//
//	proposer:
//	  num_instruction_candidates: 8
//	  view_data_batch_size: 10
//	  use_instruction_history: true
//	  set_history_randomly: false
//	  max_concurrency: 4
//	  seed: 42
type ProposerConfig struct {
	UseDatasetSummary     *bool `yaml:"use_dataset_summary,omitempty" json:"use_dataset_summary,omitempty" jsonschema:"title=Use Dataset Summary,description=Include the dataset summary in the context,default=true"`
	ProgramAware          *bool `yaml:"program_aware,omitempty" json:"program_aware,omitempty" jsonschema:"title=Program Aware,description=Include the program source note,default=true"`
	UseTaskDemos          *bool `yaml:"use_task_demos,omitempty" json:"use_task_demos,omitempty" jsonschema:"title=Use Task Demos,description=Include few-shot demos,default=true"`
	UseTip                *bool `yaml:"use_tip,omitempty" json:"use_tip,omitempty" jsonschema:"title=Use Tip,description=Include a prompting tip,default=true"`
	UseInstructionHistory *bool `yaml:"use_instruction_history,omitempty" json:"use_instruction_history,omitempty" jsonschema:"title=Use Instruction History,description=Include scored past instructions,default=true"`
	SetTipRandomly        *bool `yaml:"set_tip_randomly,omitempty" json:"set_tip_randomly,omitempty" jsonschema:"title=Set Tip Randomly,description=Draw the tip at random,default=true"`
	SetHistoryRandomly    *bool `yaml:"set_history_randomly,omitempty" json:"set_history_randomly,omitempty" jsonschema:"title=Set History Randomly,description=Include history with probability 0.5,default=false"`

	NumInstructionCandidates int `yaml:"num_instruction_candidates,omitempty" json:"num_instruction_candidates,omitempty" jsonschema:"title=Candidates,description=Generation calls per proposal,minimum=1,default=5"`
	ViewDataBatchSize        int `yaml:"view_data_batch_size,omitempty" json:"view_data_batch_size,omitempty" jsonschema:"title=Batch Size,description=Summarizer batch and analysis window,minimum=1,default=10"`
	NumDemosInContext        int `yaml:"num_demos_in_context,omitempty" json:"num_demos_in_context,omitempty" jsonschema:"title=Demos In Context,description=Maximum demos rendered,minimum=0,default=3"`
	MaxConcurrency           int `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty" jsonschema:"title=Max Concurrency,description=Parallel generation calls,minimum=1,default=1"`

	// TemperatureStep spreads candidate temperatures above llm.temperature.
	TemperatureStep float64 `yaml:"temperature_step,omitempty" json:"temperature_step,omitempty" jsonschema:"title=Temperature Step,description=Per-candidate temperature increment,minimum=0"`

	// Seed makes tip and history selection reproducible. Nil seeds from
	// the clock.
	Seed *uint64 `yaml:"seed,omitempty" json:"seed,omitempty" jsonschema:"title=Seed,description=Random seed for tip and history selection"`

	Verbose bool `yaml:"verbose,omitempty" json:"verbose,omitempty" jsonschema:"title=Verbose,description=Log engine steps at info level"`
}

// SetDefaults applies default values to ProposerConfig.
func (c *ProposerConfig) SetDefaults() {
	d := propose.DefaultConfig()
	setBool := func(p **bool, v bool) {
		if *p == nil {
			*p = BoolPtr(v)
		}
	}
	setBool(&c.UseDatasetSummary, d.UseDatasetSummary)
	setBool(&c.ProgramAware, d.ProgramAware)
	setBool(&c.UseTaskDemos, d.UseTaskDemos)
	setBool(&c.UseTip, d.UseTip)
	setBool(&c.UseInstructionHistory, d.UseInstructionHistory)
	setBool(&c.SetTipRandomly, d.SetTipRandomly)
	setBool(&c.SetHistoryRandomly, d.SetHistoryRandomly)

	if c.NumInstructionCandidates == 0 {
		c.NumInstructionCandidates = d.NumInstructionCandidates
	}
	if c.ViewDataBatchSize == 0 {
		c.ViewDataBatchSize = d.ViewDataBatchSize
	}
	if c.NumDemosInContext == 0 {
		c.NumDemosInContext = d.NumDemosInContext
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
}

// Validate checks the proposer configuration.
func (c *ProposerConfig) Validate() error {
	return c.Engine(nil).Validate()
}

// Engine converts the section into an engine configuration. The base
// temperature comes from the LLM section.
func (c *ProposerConfig) Engine(temperature *float64) propose.Config {
	d := propose.DefaultConfig()
	return propose.Config{
		UseDatasetSummary:        BoolValue(c.UseDatasetSummary, d.UseDatasetSummary),
		ProgramAware:             BoolValue(c.ProgramAware, d.ProgramAware),
		UseTaskDemos:             BoolValue(c.UseTaskDemos, d.UseTaskDemos),
		UseTip:                   BoolValue(c.UseTip, d.UseTip),
		UseInstructionHistory:    BoolValue(c.UseInstructionHistory, d.UseInstructionHistory),
		SetTipRandomly:           BoolValue(c.SetTipRandomly, d.SetTipRandomly),
		SetHistoryRandomly:       BoolValue(c.SetHistoryRandomly, d.SetHistoryRandomly),
		NumInstructionCandidates: c.NumInstructionCandidates,
		ViewDataBatchSize:        c.ViewDataBatchSize,
		NumDemosInContext:        c.NumDemosInContext,
		MaxConcurrency:           c.MaxConcurrency,
		Temperature:              temperature,
		TemperatureStep:          c.TemperatureStep,
		Verbose:                  c.Verbose,
	}
}
