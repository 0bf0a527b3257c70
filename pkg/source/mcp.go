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

package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/instruct/pkg/signature"
)

const (
	// DefaultTool is the MCP tool called when none is configured.
	DefaultTool = "describe_program"

	mcpProtocolVersion = "2024-11-05"
)

// MCPConfig configures an MCP source provider over stdio.
type MCPConfig struct {
	Command string
	Args    []string
	Env     []string
	Tool    string
}

// MCP asks a tool on an MCP server to describe a program. The tool receives
// {"program": name, "source": path} and its text content is the note. The
// connection is made on first use.
type MCP struct {
	tool    string
	connect func(ctx context.Context) (*client.Client, error)

	mu     sync.Mutex
	client *client.Client
}

// NewMCP returns a provider that starts cfg.Command as an MCP stdio server.
func NewMCP(cfg MCPConfig) (*MCP, error) {
	if cfg.Command == "" {
		return nil, errors.New("mcp source requires a command")
	}
	return &MCP{
		tool: toolName(cfg.Tool),
		connect: func(context.Context) (*client.Client, error) {
			return client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		},
	}, nil
}

// NewMCPWithClient uses an existing, not yet initialized client.
func NewMCPWithClient(c *client.Client, tool string) *MCP {
	return &MCP{
		tool: toolName(tool),
		connect: func(context.Context) (*client.Client, error) {
			return c, nil
		},
	}
}

func toolName(name string) string {
	if name == "" {
		return DefaultTool
	}
	return name
}

// Describe calls the tool. A tool-level error is returned as an error.
func (m *MCP) Describe(ctx context.Context, program *signature.Program) (string, error) {
	if program == nil {
		return "", nil
	}
	c, err := m.session(ctx)
	if err != nil {
		return "", err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = m.tool
	req.Params.Arguments = map[string]any{
		"program": program.Name,
		"source":  program.Source,
	}

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	text := textContent(resp)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("tool %s failed: %s", m.tool, text)
	}
	return text, nil
}

func (m *MCP) session(ctx context.Context) (*client.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}

	c, err := m.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "instruct", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP: %w", err)
	}

	m.client = c
	return c, nil
}

// Close shuts down the MCP connection.
func (m *MCP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

func textContent(resp *mcp.CallToolResult) string {
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, strings.TrimSpace(tc.Text))
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}
