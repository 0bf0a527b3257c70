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

// Package config provides configuration types and loading for instruct.
//
// A configuration file is YAML (or JSON) with one section per concern:
//
//	llm:
//	  provider: openai
//	  model: gpt-4o-mini
//	  api_key: ${OPENAI_API_KEY}
//
//	proposer:
//	  num_instruction_candidates: 5
//	  view_data_batch_size: 10
//	  use_tip: true
//
//	database:
//	  driver: sqlite
//	  database: ./trials.db
//
//	server:
//	  port: 8080
//
// Every section applies its own defaults and validates itself. With no file
// at all, DefaultConfig yields a usable configuration whose LLM provider is
// detected from the environment.
package config

import (
	"errors"
	"fmt"

	"github.com/kadirpekel/instruct/pkg/observability"
)

// Config is the root configuration.
type Config struct {
	// Name labels this deployment in logs and traces.
	Name string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"title=Name,description=Deployment name"`

	// LLM configures the model behind the completion service.
	LLM LLMConfig `yaml:"llm,omitempty" json:"llm,omitempty" jsonschema:"title=LLM,description=Language model provider"`

	// Proposer configures the instruction proposal engine.
	Proposer ProposerConfig `yaml:"proposer,omitempty" json:"proposer,omitempty" jsonschema:"title=Proposer,description=Instruction proposal engine settings"`

	// Source configures the optional program source-awareness provider.
	Source SourceConfig `yaml:"source,omitempty" json:"source,omitempty" jsonschema:"title=Source,description=Program source-awareness provider"`

	// Database enables the SQL trial store. Nil keeps trials in memory.
	Database *DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,description=SQL trial store"`

	// Logger configures logging.
	Logger LoggerConfig `yaml:"logger,omitempty" json:"logger,omitempty" jsonschema:"title=Logger,description=Logging settings"`

	// Observability configures tracing and metrics.
	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty" jsonschema:"title=Observability,description=Tracing and metrics"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty" jsonschema:"title=Server,description=HTTP API server"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "instruct"
	}
	c.LLM.SetDefaults()
	c.Proposer.SetDefaults()
	c.Source.SetDefaults()
	if c.Database != nil {
		c.Database.SetDefaults()
	}
	c.Logger.SetDefaults()
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = c.Name
	}
	c.Observability.SetDefaults()
	c.Server.SetDefaults()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	check("llm", c.LLM.Validate())
	check("proposer", c.Proposer.Validate())
	check("source", c.Source.Validate())
	if c.Database != nil {
		check("database", c.Database.Validate())
	}
	check("logger", c.Logger.Validate())
	check("observability", c.Observability.Validate())
	check("server", c.Server.Validate())
	if rl := c.Server.RateLimit; rl.IsEnabled() && rl.Store == RateLimitStoreSQL && c.Database == nil {
		errs = append(errs, fmt.Errorf("server: rate_limit: the sql store requires the database section"))
	}

	return errors.Join(errs...)
}
