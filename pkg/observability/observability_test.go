package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, ExporterOTLP, cfg.Tracing.Exporter)
	assert.Equal(t, DefaultOTLPEndpoint, cfg.Tracing.Endpoint)
	assert.True(t, cfg.Tracing.IsInsecure())
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Endpoint)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Tracing: TracingConfig{Enabled: true, Exporter: "zipkin", SamplingRate: 1}}
	assert.ErrorContains(t, cfg.Validate(), "invalid exporter")

	cfg.Tracing.Exporter = ExporterStdout
	assert.NoError(t, cfg.Validate())

	cfg.Tracing.SamplingRate = 2
	assert.ErrorContains(t, cfg.Validate(), "sampling_rate")

	cfg.Metrics = MetricsConfig{Enabled: true, Endpoint: "metrics"}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "sampling_rate")
	assert.ErrorContains(t, err, "metrics: endpoint must be an absolute path")
}

func TestNoopManager(t *testing.T) {
	m := NoopManager()
	ctx, span := m.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.NotNil(t, ctx)

	m.Metrics().RecordCompletion(ctx, "m", time.Second, 1, 1, nil)
	assert.Nil(t, m.MetricsHandler())
	assert.NoError(t, m.Shutdown(ctx))
}

func TestNilTracerIsSafe(t *testing.T) {
	var tr *Tracer
	_, span := tr.StartCompletion(context.Background(), "m", "openai", []string{"summary"})
	tr.AddUsage(span, 1, 2)
	tr.AddPayload(span, "p", "r")
	RecordError(span, errors.New("boom"))
	span.End()
}

func TestPrometheusMetrics(t *testing.T) {
	m := NewManager(Config{Metrics: MetricsConfig{Enabled: true, Namespace: "instruct"}})
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Shutdown(context.Background())

	ctx := context.Background()
	metrics := m.Metrics()
	metrics.RecordCompletion(ctx, "gpt-4o-mini", 300*time.Millisecond, 100, 20, nil)
	metrics.RecordCompletion(ctx, "gpt-4o-mini", 100*time.Millisecond, 0, 0, errors.New("rate limited"))
	metrics.RecordSummarizerStep(ctx, "refine", nil)
	metrics.RecordProposal(ctx, 2*time.Second, 3, false)

	handler := m.MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Contains(t, string(body), "instruct_completion_calls_total")
	assert.Contains(t, string(body), "instruct_completion_errors_total")
	assert.Contains(t, string(body), "instruct_summarizer_steps_total")
	assert.Contains(t, string(body), `model="gpt-4o-mini"`)
}

func TestHTTPMiddleware(t *testing.T) {
	pm, err := NewPrometheusMetrics(MetricsConfig{Namespace: "instruct"})
	require.NoError(t, err)

	h := HTTPMiddleware(NoopTracer(), pm, func(*http.Request) string { return "/v1/propose" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/propose", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	scrape := httptest.NewRecorder()
	pm.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `status="418"`)
	assert.Contains(t, scrape.Body.String(), `route="/v1/propose"`)
}
