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

package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/invopop/jsonschema"
	"github.com/jonboulle/clockwork"

	"github.com/kadirpekel/instruct/pkg/model"
	"github.com/kadirpekel/instruct/pkg/observability"
)

// ErrNoOutputs is returned for requests that name no output fields.
var ErrNoOutputs = errors.New("completion request has no output fields")

// LLMService implements Service on top of a model.LLM. The requested fields
// become a JSON response schema; the reply is parsed back into a Result.
type LLMService struct {
	llm       model.LLM
	maxTokens int
	tracer    *observability.Tracer
	metrics   observability.Metrics
	clock     clockwork.Clock
}

// Option configures an LLMService.
type Option func(*LLMService)

// WithMaxTokens caps each reply.
func WithMaxTokens(n int) Option {
	return func(s *LLMService) {
		s.maxTokens = n
	}
}

// WithTracer sets the span helper.
func WithTracer(t *observability.Tracer) Option {
	return func(s *LLMService) {
		s.tracer = t
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.Metrics) Option {
	return func(s *LLMService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock sets the clock used for call durations.
func WithClock(c clockwork.Clock) Option {
	return func(s *LLMService) {
		s.clock = c
	}
}

// NewLLMService wraps llm.
func NewLLMService(llm model.LLM, opts ...Option) *LLMService {
	s := &LLMService{
		llm:     llm,
		metrics: observability.NoopMetrics{},
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Complete sends one request to the model.
func (s *LLMService) Complete(ctx context.Context, req *Request) (Result, error) {
	if req == nil || len(req.Outputs) == 0 {
		return nil, ErrNoOutputs
	}

	ctx, span := s.tracer.StartCompletion(ctx, s.llm.Name(), string(s.llm.Provider()), req.OutputNames())
	defer span.End()

	cfg := &model.GenerateConfig{
		Temperature:        req.Temperature,
		ResponseSchema:     ResponseSchema(req.Outputs),
		ResponseSchemaName: "completion",
	}
	if s.maxTokens > 0 {
		maxTokens := s.maxTokens
		cfg.MaxTokens = &maxTokens
	}

	start := s.clock.Now()
	resp, err := s.llm.GenerateContent(ctx, &model.Request{
		SystemInstruction: req.Instruction,
		Messages:          []*a2a.Message{model.UserText(req.Prompt)},
		Config:            cfg,
	})
	elapsed := s.clock.Since(start)

	if err != nil {
		s.metrics.RecordCompletion(ctx, s.llm.Name(), elapsed, 0, 0, err)
		observability.RecordError(span, err)
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	var in, out int
	if resp.Usage != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		s.tracer.AddUsage(span, in, out)
	}

	text := resp.TextContent()
	s.tracer.AddPayload(span, req.Prompt, text)

	result, err := ParseResult(text, req.Outputs)
	s.metrics.RecordCompletion(ctx, s.llm.Name(), elapsed, in, out, err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// ResponseSchema builds the JSON schema for the requested fields: an object
// of required string properties in request order.
func ResponseSchema(outputs []OutputField) map[string]any {
	props := jsonschema.NewProperties()
	required := make([]string, 0, len(outputs))
	for _, o := range outputs {
		props.Set(o.Name, &jsonschema.Schema{Type: "string", Description: o.Description})
		required = append(required, o.Name)
	}

	schema := &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// ParseResult extracts the requested fields from a model reply. Replies
// that are not a JSON object are accepted verbatim when exactly one field
// was requested.
func ParseResult(text string, outputs []OutputField) (Result, error) {
	trimmed := stripCodeFence(strings.TrimSpace(text))

	var raw map[string]any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		if len(outputs) == 1 && trimmed != "" {
			return Result{outputs[0].Name: trimmed}, nil
		}
		return nil, fmt.Errorf("failed to parse completion reply: %w", err)
	}

	result := make(Result, len(outputs))
	for _, o := range outputs {
		v, ok := raw[o.Name]
		if !ok && len(outputs) == 1 && len(raw) == 1 {
			// a single field under another name
			for _, only := range raw {
				v, ok = only, true
			}
		}
		if !ok || v == nil {
			return nil, fmt.Errorf("completion reply is missing field %q", o.Name)
		}
		switch val := v.(type) {
		case string:
			result[o.Name] = val
		default:
			b, _ := json.Marshal(val)
			result[o.Name] = string(b)
		}
	}
	return result, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ Service = (*LLMService)(nil)
