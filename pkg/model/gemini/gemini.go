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

// Package gemini provides a Google Gemini LLM implementation using the genai SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"google.golang.org/genai"

	"github.com/kadirpekel/instruct/pkg/model"
)

const defaultModel = "gemini-2.0-flash"

// Config configures the Gemini client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
}

type geminiModel struct {
	client *genai.Client
	name   string
	config Config
}

// New creates a new Gemini model instance.
func New(ctx context.Context, cfg Config) (model.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiModel{client: client, name: cfg.Model, config: cfg}, nil
}

func (m *geminiModel) Name() string {
	return m.name
}

func (m *geminiModel) Provider() model.Provider {
	return model.ProviderGemini
}

func (m *geminiModel) Close() error {
	return nil
}

func (m *geminiModel) GenerateContent(ctx context.Context, req *model.Request) (*model.Response, error) {
	contents := buildContents(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("request has no text messages")
	}

	genResp, err := m.client.Models.GenerateContent(ctx, m.name, contents, m.buildConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	return parseResponse(genResp)
}

func buildContents(messages []*a2a.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		text := model.MessageText(msg)
		if text == "" {
			continue
		}
		role := genai.RoleUser
		if msg.Role == a2a.MessageRoleAgent {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: text}},
		})
	}
	return contents
}

func (m *geminiModel) buildConfig(req *model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
			Role:  genai.RoleUser,
		}
	}

	temperature := m.config.Temperature
	maxTokens := m.config.MaxTokens
	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			temperature = cfg.Temperature
		}
		if cfg.MaxTokens != nil {
			maxTokens = *cfg.MaxTokens
		}
		if cfg.ResponseSchema != nil {
			config.ResponseSchema = toGenaiSchema(cfg.ResponseSchema)
			config.ResponseMIMEType = "application/json"
		}
	}
	if temperature != nil {
		config.Temperature = genai.Ptr(float32(*temperature))
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}

	return config
}

// toGenaiSchema converts a JSON schema map to a Gemini schema. Gemini uses
// upper-case OpenAPI type names.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	switch required := schema["required"].(type) {
	case []string:
		s.Required = append(s.Required, required...)
	case []any:
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			s.Enum = append(s.Enum, fmt.Sprint(e))
		}
	}
	return s
}

func parseResponse(genResp *genai.GenerateContentResponse) (*model.Response, error) {
	if genResp == nil || len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	candidate := genResp.Candidates[0]
	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no text content in Gemini response (finish reason %s)", candidate.FinishReason)
	}

	reason := model.FinishReasonStop
	switch candidate.FinishReason {
	case genai.FinishReasonMaxTokens:
		reason = model.FinishReasonLength
	case genai.FinishReasonSafety:
		reason = model.FinishReasonContent
	}

	var usage *model.Usage
	if md := genResp.UsageMetadata; md != nil {
		usage = &model.Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}

	return model.TextResponse(text.String(), usage, reason), nil
}
