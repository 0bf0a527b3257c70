// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/instruct/pkg/config"
)

// SchemaCmd prints the JSON Schema of the configuration file.
type SchemaCmd struct {
	// Compact enables compact JSON output (no indentation)
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run() error {
	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(configSchema()); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}

func configSchema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&config.Config{})
	schema.Title = "instruct configuration"
	schema.Description = "Configuration for the instruct proposal engine, its HTTP API and trial store"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Examples = []any{
		map[string]any{
			"llm": map[string]any{
				"provider": "openai",
				"model":    "gpt-4o-mini",
				"api_key":  "${OPENAI_API_KEY}",
			},
			"proposer": map[string]any{
				"num_instruction_candidates": 5,
				"use_tip":                    true,
			},
		},
	}
	return schema
}
