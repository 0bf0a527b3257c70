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

// Package anthropic provides an Anthropic Claude LLM implementation on top
// of the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kadirpekel/instruct/pkg/model"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
	defaultTimeout   = 120 * time.Second
)

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is an Anthropic LLM implementation.
type Client struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature *float64
}

// New creates a new Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	return &Client{
		client:      anthropic.NewClient(opts...),
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.model
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderAnthropic
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// GenerateContent sends one Messages API request. Anthropic has no
// response-schema parameter, so a requested schema is appended to the
// system prompt and the caller parses the JSON reply.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	slog.Debug("Anthropic call completed", "model", c.model, "duration", time.Since(start), "stop_reason", msg.StopReason)

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no text content in response")
	}

	reason := model.FinishReasonStop
	if string(msg.StopReason) == "max_tokens" {
		reason = model.FinishReasonLength
	}

	return model.TextResponse(text.String(), &model.Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, reason), nil
}

func (c *Client) buildParams(req *model.Request) (anthropic.MessageNewParams, error) {
	maxTokens := c.maxTokens
	if req.Config != nil && req.Config.MaxTokens != nil {
		maxTokens = *req.Config.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
	}

	temperature := c.temperature
	if req.Config != nil && req.Config.Temperature != nil {
		temperature = req.Config.Temperature
	}
	if temperature != nil {
		params.Temperature = anthropic.Float(*temperature)
	}

	system := req.SystemInstruction
	if req.Config != nil && req.Config.ResponseSchema != nil {
		schema, err := json.Marshal(req.Config.ResponseSchema)
		if err != nil {
			return params, fmt.Errorf("failed to marshal response schema: %w", err)
		}
		system = strings.TrimSpace(system + "\n\nRespond with only a JSON object matching this schema, no prose:\n" + string(schema))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	for _, msg := range req.Messages {
		text := model.MessageText(msg)
		if text == "" {
			continue
		}
		if msg.Role == a2a.MessageRoleAgent {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}
	if len(params.Messages) == 0 {
		return params, fmt.Errorf("request has no text messages")
	}

	return params, nil
}

var _ model.LLM = (*Client)(nil)
