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

// Package server exposes the proposal engine over a JSON HTTP API.
//
// Routes:
//
//	GET  /health                     liveness
//	GET  /metrics                    Prometheus metrics (when enabled)
//	POST /v1/propose                 propose instructions for one signature
//	POST /v1/propose/program         propose instructions for a program
//	GET  /v1/usage                   the caller's rate limit standing
//	GET  /v1/runs                    list recorded trial runs
//	GET  /v1/runs/{run}/trials       trial logs of a run
//	POST /v1/runs/{run}/trials       record a trial
//
// Dataset summaries are cached per training set so repeated proposals on the
// same data skip the summarizer calls. When rate limiting is on, the propose
// routes count against the caller's quota.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/instruct/pkg/auth"
	"github.com/kadirpekel/instruct/pkg/config"
	"github.com/kadirpekel/instruct/pkg/observability"
	"github.com/kadirpekel/instruct/pkg/ratelimit"
	"github.com/kadirpekel/instruct/pkg/runtime"
)

// Server serves the HTTP API for one runtime.
type Server struct {
	rt        *runtime.Runtime
	validator auth.TokenValidator
	summaries *summaryCache
	handler   http.Handler

	mu         sync.Mutex
	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithAuthValidator enables bearer token authentication.
func WithAuthValidator(v auth.TokenValidator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// New creates a server for rt.
func New(rt *runtime.Runtime, opts ...Option) *Server {
	s := &Server{
		rt:        rt,
		summaries: newSummaryCache(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	cfg := s.rt.Config()
	obs := s.rt.Observability()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(observability.HTTPMiddleware(obs.Tracer(), obs.Metrics(), routePattern))
	r.Use(logRequests)

	authCfg := config.AuthConfig{Enabled: true}
	if cfg.Server.Auth != nil {
		authCfg = *cfg.Server.Auth
	}
	authCfg.SetDefaults()
	writeGuard := func(next http.Handler) http.Handler { return next }

	if s.validator != nil {
		r.Use(auth.Middleware(s.validator, auth.MiddlewareConfig{
			ExcludedPaths: authCfg.ExcludedPaths,
			RequireAuth:   authCfg.IsRequireAuth(),
		}))
		if len(authCfg.WriteRoles) > 0 {
			writeGuard = auth.RequireRole(authCfg.WriteRoles...)
		}
		slog.Info("Authentication enabled", "excluded_paths", authCfg.ExcludedPaths, "write_roles", authCfg.WriteRoles)
	}

	r.Get("/health", s.handleHealth)
	if h := obs.MetricsHandler(); h != nil {
		r.Handle(obs.MetricsPath(), h)
		slog.Info("Metrics endpoint enabled", "path", obs.MetricsPath())
	}

	limit := ratelimit.Middleware(s.rt.Limiter(), nil)
	if l := s.rt.Limiter(); l != nil {
		slog.Info("Rate limiting enabled", "rules", l.Rules())
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(limit).Post("/propose", s.handlePropose)
		r.With(limit).Post("/propose/program", s.handleProposeProgram)
		r.Get("/usage", s.handleUsage)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{run}/trials", s.handleGetTrials)
		r.With(writeGuard).Post("/runs/{run}/trials", s.handleRecordTrial)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.rt.Config().Server

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	slog.Info("HTTP server starting", "address", cfg.Address(), "tls", cfg.TLSEnabled())

	if l := s.rt.Limiter(); l != nil {
		sweepCtx, stopSweep := context.WithCancel(ctx)
		defer stopSweep()
		go l.Run(sweepCtx, ratelimit.DefaultSweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the listener and the summary cache.
func (s *Server) Shutdown(ctx context.Context) error {
	s.summaries.Stop()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	slog.Info("HTTP server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
