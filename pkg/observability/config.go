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

// Package observability provides OpenTelemetry tracing and Prometheus
// metrics for completion calls, summarizer steps, proposals and HTTP
// requests.
package observability

import (
	"errors"
	"fmt"
	"time"
)

// DefaultExportTimeout bounds a single span export.
const DefaultExportTimeout = 10 * time.Second

// Config is the observability section of the configuration file.
//
//	observability:
//	  tracing:
//	    enabled: true
//	    exporter: otlp
//	    endpoint: otel-collector:4317
//	  metrics:
//	    enabled: true
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty" jsonschema:"title=Tracing,description=OpenTelemetry tracing"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" jsonschema:"title=Metrics,description=Prometheus metrics"`
}

// TracingConfig selects and tunes the span exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`
	Exporter string `yaml:"exporter,omitempty" json:"exporter,omitempty" jsonschema:"title=Exporter,enum=otlp,enum=stdout,default=otlp"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint,default=localhost:4317"`

	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty" jsonschema:"title=Sampling Rate,minimum=0,maximum=1,default=1"`

	ServiceName    string `yaml:"service_name,omitempty" json:"service_name,omitempty" jsonschema:"title=Service Name,default=instruct"`
	ServiceVersion string `yaml:"service_version,omitempty" json:"service_version,omitempty" jsonschema:"title=Service Version"`

	// Insecure dials the collector without TLS. Defaults to true.
	Insecure *bool             `yaml:"insecure,omitempty" json:"insecure,omitempty" jsonschema:"title=Insecure,default=true"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty" jsonschema:"title=Headers,description=Extra headers sent to the collector"`

	// CapturePayloads attaches prompts and replies to completion spans.
	// Spans get large; meant for debugging.
	CapturePayloads bool `yaml:"capture_payloads,omitempty" json:"capture_payloads,omitempty" jsonschema:"title=Capture Payloads,default=false"`

	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Export Timeout,default=10s"`
}

// MetricsConfig exposes Prometheus metrics on the HTTP server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`

	// Endpoint is the scrape path.
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint,default=/metrics"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty" jsonschema:"title=Namespace,default=instruct"`
}

// SetDefaults applies defaults to both sections.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks both sections.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	return errors.Join(errs...)
}

func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = DefaultSamplingRate
	}
	if c.Exporter == "" {
		c.Exporter = ExporterOTLP
	}
	if c.Exporter == ExporterOTLP && c.Endpoint == "" {
		c.Endpoint = DefaultOTLPEndpoint
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultExportTimeout
	}
}

// Validate only checks an enabled section.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("sampling_rate must be between 0 and 1, got %g", c.SamplingRate))
	}
	switch c.Exporter {
	case ExporterStdout:
	case ExporterOTLP:
		if c.Endpoint == "" {
			errs = append(errs, fmt.Errorf("endpoint is required for the otlp exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid exporter %q (valid: otlp, stdout)", c.Exporter))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be non-negative"))
	}
	return errors.Join(errs...)
}

// IsInsecure reports whether the collector is dialled without TLS.
func (c *TracingConfig) IsInsecure() bool {
	return c.Insecure == nil || *c.Insecure
}

func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultServiceName
	}
}

// Validate only checks an enabled section.
func (c *MetricsConfig) Validate() error {
	if c.Enabled && (c.Endpoint == "" || c.Endpoint[0] != '/') {
		return fmt.Errorf("endpoint must be an absolute path, got %q", c.Endpoint)
	}
	return nil
}
