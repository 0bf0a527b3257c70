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

// Package propose generates candidate instructions for a prediction task.
//
// A Proposer analyzes a task schema and its training examples, assembles a
// grounded context (dataset summary, program note, field descriptions,
// demos, detected themes, the current instruction, a tip and the history of
// scored instructions) and asks a completion service for several candidate
// instructions, which are deduplicated and ranked.
//
//	p, err := propose.NewProposer(ctx, svc, trainset, propose.DefaultConfig())
//	res, err := p.ProposeInstructions(ctx, sig, trainset,
//		propose.WithCurrentInstruction("Classify the text."))
//	fmt.Println(res.BestInstruction())
//
// Completion failures never surface as errors: they degrade the summary or
// the candidate list, and a deterministic fallback instruction is returned
// when nothing else is available.
package propose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/instruct/pkg/completion"
	"github.com/kadirpekel/instruct/pkg/observability"
	"github.com/kadirpekel/instruct/pkg/signature"
)

var (
	ErrNilSchema   = errors.New("task schema is required")
	ErrNilTrainset = errors.New("training set is required")
	ErrNilService  = errors.New("completion service is required")
)

// SourceProvider describes a program for source-aware proposals. An empty
// string means nothing is known about it.
type SourceProvider interface {
	Describe(ctx context.Context, program *signature.Program) (string, error)
}

// TokenCounter counts tokens in an assembled context.
type TokenCounter interface {
	Count(text string) int
}

// DemoCandidates holds demo sets per predictor index.
type DemoCandidates map[int][][]signature.Demo

// Proposer proposes instructions. The dataset summary and program note are
// computed once in NewProposer and never change afterwards.
type Proposer struct {
	cfg     Config
	service completion.Service

	datasetSummary string
	summaryPreset  bool
	sourceNote     string

	program        *signature.Program
	sourceProvider SourceProvider
	tokens         TokenCounter
	modelName      string

	rngMu sync.Mutex
	rng   *rand.Rand

	clock   clockwork.Clock
	tracer  *observability.Tracer
	metrics observability.Metrics
}

// Option configures a Proposer.
type Option func(*Proposer)

// WithRand sets the random source used for tip and history selection.
func WithRand(rng *rand.Rand) Option {
	return func(p *Proposer) {
		if rng != nil {
			p.rng = rng
		}
	}
}

// WithSeed seeds a deterministic random source.
func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed)))
}

// WithClock sets the clock used for timestamps and durations.
func WithClock(c clockwork.Clock) Option {
	return func(p *Proposer) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithProgram sets the program described by the source provider.
func WithProgram(program *signature.Program) Option {
	return func(p *Proposer) {
		p.program = program
	}
}

func WithSourceProvider(sp SourceProvider) Option {
	return func(p *Proposer) {
		p.sourceProvider = sp
	}
}

func WithTokenCounter(tc TokenCounter) Option {
	return func(p *Proposer) {
		p.tokens = tc
	}
}

// WithModelName records the model identifier in result metadata.
func WithModelName(name string) Option {
	return func(p *Proposer) {
		p.modelName = name
	}
}

// WithDatasetSummary supplies a precomputed summary and skips summarization.
func WithDatasetSummary(summary string) Option {
	return func(p *Proposer) {
		p.datasetSummary = summary
		p.summaryPreset = true
	}
}

func WithTracer(t *observability.Tracer) Option {
	return func(p *Proposer) {
		p.tracer = t
	}
}

func WithMetrics(m observability.Metrics) Option {
	return func(p *Proposer) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewProposer builds a Proposer. When enabled, the dataset summary over
// trainset and the program note are computed here. Trainset may be empty
// but not nil.
func NewProposer(ctx context.Context, service completion.Service, trainset []signature.Example, cfg Config, opts ...Option) (*Proposer, error) {
	if service == nil {
		return nil, ErrNilService
	}
	if trainset == nil {
		return nil, ErrNilTrainset
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid proposer config: %w", err)
	}

	p := &Proposer{
		cfg:     cfg,
		service: service,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		clock:   clockwork.NewRealClock(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.UseDatasetSummary && !p.summaryPreset {
		s := &summarizer{
			service:   service,
			batchSize: cfg.ViewDataBatchSize,
			tracer:    p.tracer,
			metrics:   p.metrics,
			logStep:   p.logStep,
		}
		p.datasetSummary = s.Summarize(ctx, trainset)
	}

	if cfg.ProgramAware && p.sourceProvider != nil && p.program != nil {
		note, err := p.sourceProvider.Describe(ctx, p.program)
		if err != nil {
			slog.Warn("Source provider failed, proposing without program note",
				"program", p.program.Name, "error", err)
		} else {
			p.sourceNote = note
		}
	}

	return p, nil
}

// Config returns the effective configuration.
func (p *Proposer) Config() Config {
	return p.cfg
}

// DatasetSummary returns the summary computed at construction.
func (p *Proposer) DatasetSummary() string {
	return p.datasetSummary
}

// SourceNote returns the program note computed at construction.
func (p *Proposer) SourceNote() string {
	return p.sourceNote
}

type callOptions struct {
	demos              []signature.Demo
	currentInstruction string
	trialLogs          TrialLogs
	predictor          int
	numCandidates      int
}

// CallOption configures one proposal.
type CallOption func(*callOptions)

// WithDemos supplies few-shot demos for the context.
func WithDemos(demos []signature.Demo) CallOption {
	return func(o *callOptions) {
		o.demos = demos
	}
}

// WithCurrentInstruction supplies the instruction being improved.
func WithCurrentInstruction(instruction string) CallOption {
	return func(o *callOptions) {
		o.currentInstruction = instruction
	}
}

// WithTrialLogs supplies past trials for the history section.
func WithTrialLogs(logs TrialLogs) CallOption {
	return func(o *callOptions) {
		o.trialLogs = logs
	}
}

// WithPredictor selects the predictor index whose history is rendered.
func WithPredictor(index int) CallOption {
	return func(o *callOptions) {
		o.predictor = index
	}
}

// WithNumCandidates overrides the number of generation calls.
func WithNumCandidates(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.numCandidates = n
		}
	}
}

// ProposeInstructions proposes ranked instructions for schema. Examples
// may be empty but not nil. The only errors are for missing arguments.
func (p *Proposer) ProposeInstructions(ctx context.Context, schema *signature.Signature, examples []signature.Example, opts ...CallOption) (*Result, error) {
	if schema == nil {
		return nil, ErrNilSchema
	}
	if examples == nil {
		return nil, ErrNilTrainset
	}
	o := callOptions{numCandidates: p.cfg.NumInstructionCandidates}
	for _, opt := range opts {
		opt(&o)
	}

	start := p.clock.Now()
	id := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, observability.SpanPropose, trace.WithAttributes(
		attribute.String(observability.AttrProposalID, id),
		attribute.Int(observability.AttrProposalExamples, len(examples)),
		attribute.Int(observability.AttrProposalCalls, o.numCandidates),
	))
	defer span.End()

	analysis := Analyze(schema, examples, o.demos, p.cfg.ViewDataBatchSize)

	p.rngMu.Lock()
	tip := drawTip(p.cfg, p.rng)
	withHistory := includeHistory(p.cfg, p.rng)
	p.rngMu.Unlock()

	var history string
	if withHistory {
		history = InstructionHistory(o.trialLogs, o.predictor)
	}

	contextText := assembleContext(p.cfg, contextParts{
		summary:            p.datasetSummary,
		source:             p.sourceNote,
		analysis:           analysis,
		demos:              o.demos,
		currentInstruction: o.currentInstruction,
		tip:                tip,
		history:            history,
	})
	p.logStep("Assembled proposal context", "proposal_id", id, "context", contextText)

	candidates, fallback := p.generateCandidates(ctx, contextText, analysis, o.numCandidates)
	ranked := RankCandidates(candidates, analysis.RequiresReasoning())

	meta := Metadata{
		ProposalID:          id,
		Timestamp:           p.clock.Now().UTC(),
		Model:               p.modelName,
		NumExamplesAnalyzed: len(examples),
		CurrentInstruction:  o.currentInstruction,
		Tip:                 tip.Name,
		Fallback:            fallback,
	}
	if p.tokens != nil {
		meta.ContextTokens = p.tokens.Count(contextText)
	}

	span.SetAttributes(
		attribute.Int(observability.AttrProposalResults, len(ranked)),
		attribute.Bool(observability.AttrProposalFallback, fallback),
	)
	p.metrics.RecordProposal(ctx, p.clock.Since(start), len(ranked), fallback)

	return &Result{
		candidates: ranked,
		analysis:   analysis,
		metadata:   meta,
		context:    contextText,
	}, nil
}

// ProposeForProgram proposes instructions for the first predictor of
// program, seeded with its current instruction and first demo set.
// numCandidates overrides the configured count when positive, and the
// result's PredictorInstructions holds at most that many for index 0.
func (p *Proposer) ProposeForProgram(ctx context.Context, trainset []signature.Example, program *signature.Program, demos DemoCandidates, trialLogs TrialLogs, numCandidates int) (*Result, error) {
	if program == nil || len(program.Predictors) == 0 || program.Predictors[0].Signature == nil {
		return nil, fmt.Errorf("program has no predictor signature: %w", ErrNilSchema)
	}
	if numCandidates <= 0 {
		numCandidates = p.cfg.NumInstructionCandidates
	}

	pred := program.Predictors[0]
	opts := []CallOption{
		WithCurrentInstruction(pred.Instruction),
		WithTrialLogs(trialLogs),
		WithPredictor(0),
		WithNumCandidates(numCandidates),
	}
	if sets := demos[0]; len(sets) > 0 {
		opts = append(opts, WithDemos(sets[0]))
	}

	res, err := p.ProposeInstructions(ctx, pred.Signature, trainset, opts...)
	if err != nil {
		return nil, err
	}
	res.predictorInstructions = map[int][]string{
		0: res.Candidates()[:min(numCandidates, res.NumCandidates())],
	}
	return res, nil
}

func (p *Proposer) logStep(msg string, args ...any) {
	if p.cfg.Verbose {
		slog.Info(msg, args...)
		return
	}
	slog.Debug(msg, args...)
}
