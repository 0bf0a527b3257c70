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

// Package openai provides an OpenAI LLM implementation using the Responses API
// (/v1/responses) with json_schema structured output.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/instruct/pkg/httpclient"
	"github.com/kadirpekel/instruct/pkg/model"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 1024
	defaultTimeout   = 120 * time.Second
)

// Config configures the OpenAI client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	TLS         *httpclient.TLSConfig
}

// Client is an OpenAI LLM implementation using the Responses API.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	modelName   string
	maxTokens   int
	temperature *float64
}

// New creates a new OpenAI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
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

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithTLSConfig(cfg.TLS),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &Client{
		httpClient:  httpClient,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderOpenAI
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// GenerateContent performs one non-streaming Responses API call.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request) (*model.Response, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if bodyBytes, _ := io.ReadAll(resp.Body); len(bodyBytes) > 0 {
				return nil, fmt.Errorf("request failed: %w - response: %s", err, string(bodyBytes))
			}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return parseResponse(&apiResp)
}

func (c *Client) buildRequest(req *model.Request) *responsesRequest {
	apiReq := &responsesRequest{
		Model:        c.modelName,
		Instructions: req.SystemInstruction,
		Temperature:  c.temperature,
	}

	maxTokens := c.maxTokens
	if req.Config != nil && req.Config.MaxTokens != nil {
		maxTokens = *req.Config.MaxTokens
	}
	if maxTokens > 0 {
		apiReq.MaxOutputTokens = &maxTokens
	}
	if req.Config != nil && req.Config.Temperature != nil {
		apiReq.Temperature = req.Config.Temperature
	}

	for _, msg := range req.Messages {
		text := model.MessageText(msg)
		if text == "" {
			continue
		}
		role, contentType := "user", "input_text"
		if msg.Role == a2a.MessageRoleAgent {
			role, contentType = "assistant", "output_text"
		}
		apiReq.Input = append(apiReq.Input, inputItem{
			Type:    "message",
			Role:    role,
			Content: []contentItem{{Type: contentType, Text: text}},
		})
	}

	if req.Config != nil && req.Config.ResponseSchema != nil {
		apiReq.Text = &textFormat{
			Format: &jsonSchemaFormat{
				Type:   "json_schema",
				Name:   req.Config.SchemaName(),
				Strict: true,
				Schema: req.Config.ResponseSchema,
			},
		}
	}

	return apiReq
}

func parseResponse(resp *responsesResponse) (*model.Response, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}

	reason := model.FinishReasonStop
	if resp.Status != "completed" {
		if resp.IncompleteDetails == nil || resp.IncompleteDetails.Reason != "max_output_tokens" {
			msg := fmt.Sprintf("response incomplete: status=%s", resp.Status)
			if resp.IncompleteDetails != nil {
				msg += fmt.Sprintf(", reason=%s", resp.IncompleteDetails.Reason)
			}
			return nil, fmt.Errorf("%s", msg)
		}
		reason = model.FinishReasonLength
	}

	var text strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				text.WriteString(part.Text)
			}
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no text output in response")
	}

	return model.TextResponse(text.String(), &model.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, reason), nil
}

type responsesRequest struct {
	Model           string      `json:"model"`
	Input           []inputItem `json:"input,omitempty"`
	Instructions    string      `json:"instructions,omitempty"`
	MaxOutputTokens *int        `json:"max_output_tokens,omitempty"`
	Temperature     *float64    `json:"temperature,omitempty"`
	Text            *textFormat `json:"text,omitempty"`
}

type textFormat struct {
	Format *jsonSchemaFormat `json:"format,omitempty"`
}

type jsonSchemaFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type inputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentItem `json:"content,omitempty"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesResponse struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Error             *apiError          `json:"error,omitempty"`
	IncompleteDetails *incompleteDetails `json:"incomplete_details,omitempty"`
	Model             string             `json:"model"`
	Output            []outputItem       `json:"output"`
	Usage             apiUsage           `json:"usage"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

type incompleteDetails struct {
	Reason string `json:"reason,omitempty"`
}

type outputItem struct {
	Type    string        `json:"type"`
	ID      string        `json:"id,omitempty"`
	Role    string        `json:"role,omitempty"`
	Content []contentItem `json:"content,omitempty"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

var _ model.LLM = (*Client)(nil)
