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

// Package model defines the provider-neutral LLM interface used by the
// completion service.
//
// Requests carry a2a messages so every provider sees the same conversation
// shape; responses come back as a2a parts plus token usage.
package model

import (
	"context"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the provider type (e.g., "openai", "anthropic", "gemini").
	Provider() Provider

	// GenerateContent produces one complete response for the request.
	GenerateContent(ctx context.Context, req *Request) (*Response, error)

	// Close releases any resources held by the LLM.
	Close() error
}

// Provider identifies the LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderUnknown   Provider = "unknown"
)

// Request contains the input for an LLM call.
type Request struct {
	// Messages is the conversation history.
	Messages []*a2a.Message

	// Config contains generation configuration.
	Config *GenerateConfig

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string
}

// GenerateConfig contains configuration for generation.
type GenerateConfig struct {
	// Temperature controls randomness (0-2).
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens *int

	// ResponseSchema requests structured JSON output matching the schema.
	ResponseSchema map[string]any

	// ResponseSchemaName identifies the schema for providers that require it.
	// Default: "response"
	ResponseSchemaName string
}

// SchemaName returns ResponseSchemaName or its default.
func (c *GenerateConfig) SchemaName() string {
	if c == nil || c.ResponseSchemaName == "" {
		return "response"
	}
	return c.ResponseSchemaName
}

// Response contains the result of an LLM call.
type Response struct {
	// Content is the generated content.
	Content *Content

	// Usage statistics, nil when the provider does not report them.
	Usage *Usage

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason
}

// Content represents the content of a response.
type Content struct {
	Parts []a2a.Part
	Role  a2a.MessageRole
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop    FinishReason = "stop"
	FinishReasonLength  FinishReason = "length"
	FinishReasonContent FinishReason = "content_filter"
	FinishReasonError   FinishReason = "error"
)

// TextContent concatenates the text parts of a response.
func (r *Response) TextContent() string {
	if r == nil || r.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range r.Content.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// TextResponse builds a single-part agent response.
func TextResponse(text string, usage *Usage, reason FinishReason) *Response {
	return &Response{
		Content: &Content{
			Parts: []a2a.Part{a2a.TextPart{Text: text}},
			Role:  a2a.MessageRoleAgent,
		},
		Usage:        usage,
		FinishReason: reason,
	}
}

// UserText builds a user message carrying one text part.
func UserText(text string) *a2a.Message {
	return a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text})
}

// MessageText concatenates the text parts of a message.
func MessageText(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range msg.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}
