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

// Package ollama provides an Ollama LLM implementation over the Chat API
// (/api/chat). A response schema is passed through the format field.
package ollama

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
	defaultBaseURL   = "http://localhost:11434"
	defaultModel     = "llama3.2"
	defaultTimeout   = 300 * time.Second // first request loads the model
	defaultKeepAlive = "5m"
)

// Config configures the Ollama client.
type Config struct {
	// BaseURL is the Ollama server URL (default: http://localhost:11434)
	BaseURL string

	// Model is the model name (e.g., "llama3.2", "mistral")
	Model string

	Temperature *float64

	// NumPredict limits the number of tokens to predict
	NumPredict int

	// KeepAlive controls how long the model stays loaded (default: "5m")
	KeepAlive string

	Timeout    time.Duration
	MaxRetries int
	TLS        *httpclient.TLSConfig
}

// Client is an Ollama LLM implementation.
type Client struct {
	httpClient  *httpclient.Client
	baseURL     string
	modelName   string
	temperature *float64
	numPredict  int
	keepAlive   string
}

// New creates a new Ollama client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	keepAlive := cfg.KeepAlive
	if keepAlive == "" {
		keepAlive = defaultKeepAlive
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &Client{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithTLSConfig(cfg.TLS),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfter),
		),
		baseURL:     baseURL,
		modelName:   modelName,
		temperature: cfg.Temperature,
		numPredict:  cfg.NumPredict,
		keepAlive:   keepAlive,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderOllama
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// GenerateContent performs one non-streaming chat call.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request) (*model.Response, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if chatResp.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", chatResp.Error)
	}
	if chatResp.Message == nil || strings.TrimSpace(chatResp.Message.Content) == "" {
		return nil, fmt.Errorf("empty response from Ollama")
	}

	reason := model.FinishReasonStop
	if chatResp.DoneReason == "length" {
		reason = model.FinishReasonLength
	}

	return model.TextResponse(chatResp.Message.Content, &model.Usage{
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
		TotalTokens:      chatResp.PromptEvalCount + chatResp.EvalCount,
	}, reason), nil
}

func (c *Client) buildRequest(req *model.Request) *chatRequest {
	chatReq := &chatRequest{
		Model:     c.modelName,
		Stream:    false,
		KeepAlive: c.keepAlive,
	}

	if req.SystemInstruction != "" {
		chatReq.Messages = append(chatReq.Messages, &chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, msg := range req.Messages {
		text := model.MessageText(msg)
		if text == "" {
			continue
		}
		role := "user"
		if msg.Role == a2a.MessageRoleAgent {
			role = "assistant"
		}
		chatReq.Messages = append(chatReq.Messages, &chatMessage{Role: role, Content: text})
	}

	options := map[string]any{}
	temperature := c.temperature
	numPredict := c.numPredict
	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			temperature = cfg.Temperature
		}
		if cfg.MaxTokens != nil {
			numPredict = *cfg.MaxTokens
		}
		if cfg.ResponseSchema != nil {
			chatReq.Format = cfg.ResponseSchema
		}
	}
	if temperature != nil {
		options["temperature"] = *temperature
	}
	if numPredict > 0 {
		options["num_predict"] = numPredict
	}
	if len(options) > 0 {
		chatReq.Options = options
	}

	return chatReq
}

type chatRequest struct {
	Model     string         `json:"model"`
	Messages  []*chatMessage `json:"messages"`
	Format    any            `json:"format,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model           string       `json:"model"`
	Message         *chatMessage `json:"message,omitempty"`
	Done            bool         `json:"done"`
	DoneReason      string       `json:"done_reason,omitempty"`
	PromptEvalCount int          `json:"prompt_eval_count,omitempty"`
	EvalCount       int          `json:"eval_count,omitempty"`
	Error           string       `json:"error,omitempty"`
}

var _ model.LLM = (*Client)(nil)
