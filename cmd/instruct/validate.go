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
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/instruct/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." type:"existingfile" placeholder:"PATH"`

	Format string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`

	// PrintConfig prints the expanded configuration
	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (with defaults applied and env vars resolved)."`
}

type validationReport struct {
	Valid  bool           `json:"valid"`
	File   string         `json:"file"`
	Error  string         `json:"error,omitempty"`
	Config *config.Config `json:"config,omitempty"`
}

func (c *ValidateCmd) Run() error {
	cfg, loader, err := config.LoadConfigFile(context.Background(), c.Config)
	if err != nil {
		if c.Format == "json" {
			_ = printJSON(validationReport{File: c.Config, Error: err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "%s: invalid\n  %v\n", c.Config, err)
		}
		return fmt.Errorf("configuration is invalid")
	}
	defer loader.Close()

	report := validationReport{Valid: true, File: c.Config}
	if c.PrintConfig {
		report.Config = cfg
	}

	if c.Format == "json" {
		return printJSON(report)
	}
	fmt.Printf("%s: valid\n", c.Config)
	if c.PrintConfig {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to print config: %w", err)
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
