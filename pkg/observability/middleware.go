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
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware wraps each request in a server span and records request
// metrics. route labels the request; the URL path is used when it is nil or
// returns "".
func HTTPMiddleware(tracer *Tracer, metrics Metrics, route func(*http.Request) string) func(http.Handler) http.Handler {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracer.Start(r.Context(), SpanHTTPRequest,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String(AttrHTTPMethod, r.Method)))
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(ctx)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			name := r.URL.Path
			if route != nil {
				if rt := route(r); rt != "" {
					name = rt
				}
			}

			span.SetAttributes(
				attribute.String(AttrHTTPRoute, name),
				attribute.Int(AttrHTTPStatusCode, status),
				attribute.Int(AttrHTTPResponseSize, ww.BytesWritten()),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			if status >= http.StatusBadRequest {
				span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("HTTP %d", status)))
			}
			metrics.RecordHTTPRequest(ctx, r.Method, name, status, time.Since(start))
		})
	}
}
