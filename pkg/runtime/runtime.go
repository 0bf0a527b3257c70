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

// Package runtime assembles the components described by a config.Config:
// the LLM-backed completion service, the source-awareness provider, the
// trial store and observability. Both the CLI and the HTTP server build
// their proposers through a Runtime.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"

	"github.com/kadirpekel/instruct/pkg/completion"
	"github.com/kadirpekel/instruct/pkg/config"
	"github.com/kadirpekel/instruct/pkg/model"
	"github.com/kadirpekel/instruct/pkg/observability"
	"github.com/kadirpekel/instruct/pkg/propose"
	"github.com/kadirpekel/instruct/pkg/ratelimit"
	"github.com/kadirpekel/instruct/pkg/signature"
	"github.com/kadirpekel/instruct/pkg/tokens"
	"github.com/kadirpekel/instruct/pkg/trial"
)

// ErrInvalidConfig marks a rejected per-call configuration override.
var ErrInvalidConfig = errors.New("invalid proposer config")

// Runtime owns long-lived components. It is safe for concurrent use.
type Runtime struct {
	mu  sync.RWMutex
	cfg *config.Config

	llm     model.LLM
	service completion.Service
	source  propose.SourceProvider
	trials  trial.Store
	limiter *ratelimit.Limiter
	pool    *config.DBPool
	obs     *observability.Manager
	counter propose.TokenCounter

	llmFactory LLMFactory
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithService uses svc instead of building an LLM-backed service.
func WithService(svc completion.Service) Option {
	return func(r *Runtime) {
		r.service = svc
	}
}

// WithLLMFactory overrides how the LLM is created.
func WithLLMFactory(f LLMFactory) Option {
	return func(r *Runtime) {
		if f != nil {
			r.llmFactory = f
		}
	}
}

// WithObservability uses an already initialized manager.
func WithObservability(m *observability.Manager) Option {
	return func(r *Runtime) {
		r.obs = m
	}
}

// WithTrialStore uses store instead of the one described by the config.
func WithTrialStore(store trial.Store) Option {
	return func(r *Runtime) {
		r.trials = store
	}
}

// New builds a runtime from a validated configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	r := &Runtime{
		cfg:        cfg,
		pool:       config.NewDBPool(),
		llmFactory: DefaultLLMFactory,
	}
	for _, opt := range opts {
		opt(r)
	}

	cleanupOnError := func() {
		if err := r.Close(); err != nil {
			slog.Warn("Failed to clean up runtime", "error", err)
		}
	}

	if r.obs == nil {
		r.obs = observability.NewManager(cfg.Observability)
		if err := r.obs.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize observability: %w", err)
		}
	}

	if r.service == nil {
		llm, err := r.llmFactory(ctx, &cfg.LLM)
		if err != nil {
			cleanupOnError()
			return nil, fmt.Errorf("failed to create LLM: %w", err)
		}
		r.llm = llm
		r.service = completion.NewLLMService(llm,
			completion.WithMaxTokens(cfg.LLM.MaxTokens),
			completion.WithTracer(r.obs.Tracer()),
			completion.WithMetrics(r.obs.Metrics()),
		)
	}

	sp, err := DefaultSourceFactory(&cfg.Source)
	if err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to create source provider: %w", err)
	}
	r.source = sp

	if r.trials == nil {
		store, err := trial.NewStoreFromConfig(ctx, cfg.Database, r.pool)
		if err != nil {
			cleanupOnError()
			return nil, fmt.Errorf("failed to create trial store: %w", err)
		}
		r.trials = store
	}

	limiter, err := ratelimit.NewFromConfig(ctx, cfg.Server.RateLimit, cfg.Database, r.pool)
	if err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	r.limiter = limiter

	r.counter = tokens.ForModel(cfg.LLM.Model)

	slog.Debug("Runtime ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"source", cfg.Source.Type,
		"sql_trials", cfg.Database != nil,
		"rate_limit", limiter != nil)
	return r, nil
}

// Config returns the current configuration.
func (r *Runtime) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Service returns the completion service.
func (r *Runtime) Service() completion.Service {
	return r.service
}

// Trials returns the trial store.
func (r *Runtime) Trials() trial.Store {
	return r.trials
}

// Limiter returns the proposal rate limiter, or nil when rate limiting is
// off.
func (r *Runtime) Limiter() *ratelimit.Limiter {
	return r.limiter
}

// Observability returns the observability manager.
func (r *Runtime) Observability() *observability.Manager {
	return r.obs
}

// Reload applies a new configuration. Only the proposer, logger and server
// limits take effect without a restart; changes to the llm, source,
// database or rate limit sections are logged and ignored.
func (r *Runtime) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for section, changed := range map[string]bool{
		"llm":        !reflect.DeepEqual(r.cfg.LLM, cfg.LLM),
		"source":     !reflect.DeepEqual(r.cfg.Source, cfg.Source),
		"database":   !reflect.DeepEqual(r.cfg.Database, cfg.Database),
		"rate_limit": !reflect.DeepEqual(r.cfg.Server.RateLimit, cfg.Server.RateLimit),
	} {
		if changed {
			slog.Warn("Configuration section changed; restart to apply", "section", section)
		}
	}

	next := *r.cfg
	next.Proposer = cfg.Proposer
	next.Logger = cfg.Logger
	next.Server.SummaryCacheTTL = cfg.Server.SummaryCacheTTL
	next.Server.MaxExamples = cfg.Server.MaxExamples
	next.Server.RequestTimeout = cfg.Server.RequestTimeout
	r.cfg = &next
	slog.Info("Configuration reloaded")
}

// NewProposer builds an engine for trainset. A nil override uses the
// configured proposer section. Extra options are applied last.
func (r *Runtime) NewProposer(ctx context.Context, trainset []signature.Example, override *config.ProposerConfig, program *signature.Program, opts ...propose.Option) (*propose.Proposer, error) {
	cfg := r.Config()
	section := cfg.Proposer
	if override != nil {
		section = *override
		section.SetDefaults()
		if err := section.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	all := []propose.Option{
		propose.WithModelName(cfg.LLM.Model),
		propose.WithTokenCounter(r.counter),
		propose.WithTracer(r.obs.Tracer()),
		propose.WithMetrics(r.obs.Metrics()),
	}
	if r.source != nil {
		all = append(all, propose.WithSourceProvider(r.source))
	}
	if program != nil {
		all = append(all, propose.WithProgram(program))
	}
	if section.Seed != nil {
		all = append(all, propose.WithSeed(*section.Seed))
	}
	all = append(all, opts...)

	return propose.NewProposer(ctx, r.service, trainset, section.Engine(cfg.LLM.Temperature), all...)
}

// TrialLogs loads the logs of a recorded run.
func (r *Runtime) TrialLogs(ctx context.Context, runID string) (propose.TrialLogs, error) {
	if runID == "" {
		return nil, nil
	}
	logs, err := r.trials.Logs(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trials of run %q: %w", runID, err)
	}
	return logs, nil
}

// Close releases every component.
func (r *Runtime) Close() error {
	var errs []error

	if closer, ok := r.source.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("source provider: %w", err))
		}
	}
	if r.trials != nil {
		if err := r.trials.Close(); err != nil {
			errs = append(errs, fmt.Errorf("trial store: %w", err))
		}
	}
	if r.limiter != nil {
		if err := r.limiter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("rate limiter: %w", err))
		}
	}
	if r.pool != nil {
		if err := r.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database pool: %w", err))
		}
	}
	if r.llm != nil {
		if err := r.llm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("llm: %w", err))
		}
	}
	if r.obs != nil {
		if err := r.obs.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
	}

	return errors.Join(errs...)
}
