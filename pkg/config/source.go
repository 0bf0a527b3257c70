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

import "fmt"

// SourceType selects the source-awareness provider.
type SourceType string

const (
	SourceNone   SourceType = "none"
	SourceStatic SourceType = "static"
	SourceFile   SourceType = "file"
	SourceMCP    SourceType = "mcp"
)

// SourceConfig configures how a program's source-awareness note is obtained.
//
// Example:
//
//	source:
//	  type: mcp
//	  command: ./describe-program
//	  args: ["--stdio"]
//	  tool: describe_program
type SourceConfig struct {
	// Type is one of none, static, file, mcp. Default: none
	Type SourceType `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"title=Type,description=Source provider,enum=none,enum=static,enum=file,enum=mcp,default=none"`

	// Text is the note returned by the static provider.
	Text string `yaml:"text,omitempty" json:"text,omitempty" jsonschema:"title=Text,description=Static source note"`

	// Path overrides the program source path for the file provider.
	Path string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"title=Path,description=Program source path"`

	// Command starts the MCP stdio server.
	Command string `yaml:"command,omitempty" json:"command,omitempty" jsonschema:"title=Command,description=MCP server command"`

	// Args are passed to Command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty" jsonschema:"title=Args,description=MCP server arguments"`

	// Env entries (KEY=VALUE) are added to the MCP server environment.
	Env []string `yaml:"env,omitempty" json:"env,omitempty" jsonschema:"title=Env,description=MCP server environment"`

	// Tool is the MCP tool that describes a program. Default: describe_program
	Tool string `yaml:"tool,omitempty" json:"tool,omitempty" jsonschema:"title=Tool,description=MCP tool name,default=describe_program"`
}

// SetDefaults applies default values to SourceConfig.
func (c *SourceConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = SourceNone
	}
	if c.Type == SourceMCP && c.Tool == "" {
		c.Tool = "describe_program"
	}
}

// Validate checks the source configuration.
func (c *SourceConfig) Validate() error {
	switch c.Type {
	case SourceNone, SourceFile, "":
	case SourceStatic:
		if c.Text == "" {
			return fmt.Errorf("text is required for static source")
		}
	case SourceMCP:
		if c.Command == "" {
			return fmt.Errorf("command is required for mcp source")
		}
	default:
		return fmt.Errorf("invalid source type %q (valid: none, static, file, mcp)", c.Type)
	}
	return nil
}
