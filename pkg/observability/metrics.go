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

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records instruct measurements.
type Metrics interface {
	RecordCompletion(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordSummarizerStep(ctx context.Context, phase string, err error)
	RecordProposal(ctx context.Context, duration time.Duration, candidates int, fallback bool)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

// PrometheusMetrics records through an OpenTelemetry meter backed by a
// Prometheus exporter with its own registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	completionDuration metric.Float64Histogram
	completionCalls    metric.Int64Counter
	completionErrors   metric.Int64Counter
	tokensInput        metric.Int64Counter
	tokensOutput       metric.Int64Counter

	summarizerSteps metric.Int64Counter

	proposalDuration   metric.Float64Histogram
	proposalCandidates metric.Int64Histogram
	proposalFallbacks  metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// NewPrometheusMetrics creates the instruments.
func NewPrometheusMetrics(cfg MetricsConfig) (*PrometheusMetrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
		otelprom.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(InstrumentationName)
	m := &PrometheusMetrics{registry: registry, provider: provider}

	if m.completionDuration, err = meter.Float64Histogram("completion.duration",
		metric.WithDescription("Completion call duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create completion duration histogram: %w", err)
	}
	if m.completionCalls, err = meter.Int64Counter("completion.calls",
		metric.WithDescription("Completion calls")); err != nil {
		return nil, fmt.Errorf("failed to create completion calls counter: %w", err)
	}
	if m.completionErrors, err = meter.Int64Counter("completion.errors",
		metric.WithDescription("Failed completion calls")); err != nil {
		return nil, fmt.Errorf("failed to create completion errors counter: %w", err)
	}
	if m.tokensInput, err = meter.Int64Counter("llm.tokens.input",
		metric.WithDescription("Input tokens sent to the LLM")); err != nil {
		return nil, fmt.Errorf("failed to create input tokens counter: %w", err)
	}
	if m.tokensOutput, err = meter.Int64Counter("llm.tokens.output",
		metric.WithDescription("Output tokens received from the LLM")); err != nil {
		return nil, fmt.Errorf("failed to create output tokens counter: %w", err)
	}
	if m.summarizerSteps, err = meter.Int64Counter("summarizer.steps",
		metric.WithDescription("Dataset summarizer steps by phase and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create summarizer steps counter: %w", err)
	}
	if m.proposalDuration, err = meter.Float64Histogram("proposal.duration",
		metric.WithDescription("Instruction proposal duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create proposal duration histogram: %w", err)
	}
	if m.proposalCandidates, err = meter.Int64Histogram("proposal.candidates",
		metric.WithDescription("Ranked candidates per proposal")); err != nil {
		return nil, fmt.Errorf("failed to create proposal candidates histogram: %w", err)
	}
	if m.proposalFallbacks, err = meter.Int64Counter("proposal.fallbacks",
		metric.WithDescription("Proposals that fell back to the synthesized instruction")); err != nil {
		return nil, fmt.Errorf("failed to create proposal fallbacks counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("http.request.duration",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter("http.requests",
		metric.WithDescription("HTTP requests")); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Shutdown flushes and stops the meter provider.
func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func (m *PrometheusMetrics) RecordCompletion(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))

	m.completionDuration.Record(ctx, duration.Seconds(), attrs)
	m.completionCalls.Add(ctx, 1, attrs)
	if inputTokens > 0 {
		m.tokensInput.Add(ctx, int64(inputTokens), attrs)
	}
	if outputTokens > 0 {
		m.tokensOutput.Add(ctx, int64(outputTokens), attrs)
	}
	if err != nil {
		m.completionErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordSummarizerStep(ctx context.Context, phase string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.summarizerSteps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
	))
}

func (m *PrometheusMetrics) RecordProposal(ctx context.Context, duration time.Duration, candidates int, fallback bool) {
	m.proposalDuration.Record(ctx, duration.Seconds())
	m.proposalCandidates.Record(ctx, int64(candidates))
	if fallback {
		m.proposalFallbacks.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) RecordCompletion(context.Context, string, time.Duration, int, int, error) {}
func (NoopMetrics) RecordSummarizerStep(context.Context, string, error)                      {}
func (NoopMetrics) RecordProposal(context.Context, time.Duration, int, bool)                 {}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration)    {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
