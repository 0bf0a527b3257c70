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

package observability

// Span attribute keys.
const (
	AttrServiceName       = "service.name"
	AttrLLMModel          = "llm.model"
	AttrLLMProvider       = "llm.provider"
	AttrLLMTokensInput    = "llm.tokens.input"
	AttrLLMTokensOutput   = "llm.tokens.output"
	AttrLLMFinishReason   = "llm.finish_reason"
	AttrLLMPrompt         = "llm.prompt"
	AttrLLMResponse       = "llm.response"
	AttrCompletionOutputs = "completion.outputs"
	AttrSummarizerPhase   = "summarizer.phase"
	AttrSummarizerBatch   = "summarizer.batch"
	AttrProposalID        = "proposal.id"
	AttrProposalExamples  = "proposal.examples"
	AttrProposalCalls     = "proposal.calls"
	AttrProposalResults   = "proposal.candidates"
	AttrProposalFallback  = "proposal.fallback"
	AttrErrorType         = "error.type"
	AttrHTTPMethod        = "http.method"
	AttrHTTPRoute         = "http.route"
	AttrHTTPStatusCode    = "http.status_code"
	AttrHTTPResponseSize  = "http.response_size"
)

// Span names.
const (
	SpanCompletion  = "instruct.completion"
	SpanSummarize   = "instruct.summarize"
	SpanPropose     = "instruct.propose"
	SpanGenerate    = "instruct.generate"
	SpanHTTPRequest = "instruct.http_request"
)

// Exporters.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Defaults.
const (
	DefaultServiceName  = "instruct"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"

	// InstrumentationName is the tracer and meter scope.
	InstrumentationName = "github.com/kadirpekel/instruct"
)
