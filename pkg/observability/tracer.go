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
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InitTracerProvider creates a tracer provider for cfg and installs it as
// the global provider. Disabled tracing yields a no-op provider.
func InitTracerProvider(ctx context.Context, cfg TracingConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		// stdout carries command output
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	default:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(cfg.Timeout),
		}
		if cfg.IsInsecure() {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil
	}
}

// Tracer wraps an OpenTelemetry tracer with helpers for the spans instruct
// emits. A nil *Tracer is valid and produces no-op spans.
type Tracer struct {
	tracer          trace.Tracer
	capturePayloads bool
}

// NewTracer creates a Tracer from a provider.
func NewTracer(tp trace.TracerProvider, capturePayloads bool) *Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Tracer{
		tracer:          tp.Tracer(InstrumentationName),
		capturePayloads: capturePayloads,
	}
}

// NoopTracer returns a Tracer that records nothing.
func NoopTracer() *Tracer {
	return NewTracer(noop.NewTracerProvider(), false)
}

// Start starts a span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartCompletion starts a span for one structured completion call.
func (t *Tracer) StartCompletion(ctx context.Context, model, provider string, outputs []string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanCompletion,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrLLMModel, model),
			attribute.String(AttrLLMProvider, provider),
			attribute.StringSlice(AttrCompletionOutputs, outputs),
		),
	)
}

// AddUsage records token usage on a completion span.
func (t *Tracer) AddUsage(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.Int(AttrLLMTokensInput, inputTokens),
		attribute.Int(AttrLLMTokensOutput, outputTokens),
	)
}

// AddPayload records the prompt and reply when payload capture is on.
func (t *Tracer) AddPayload(span trace.Span, prompt, response string) {
	if t == nil || !t.capturePayloads {
		return
	}
	span.SetAttributes(
		attribute.String(AttrLLMPrompt, prompt),
		attribute.String(AttrLLMResponse, response),
	)
}

// RecordError marks the span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("%T", err)))
}
