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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/instruct/pkg/config"
	"github.com/kadirpekel/instruct/pkg/propose"
	"github.com/kadirpekel/instruct/pkg/ratelimit"
	"github.com/kadirpekel/instruct/pkg/runtime"
	"github.com/kadirpekel/instruct/pkg/signature"
	"github.com/kadirpekel/instruct/pkg/trial"
)

// ProposeRequest is the body of POST /v1/propose.
type ProposeRequest struct {
	Signature *signature.Signature `json:"signature"`
	Examples  []signature.Example  `json:"examples"`

	// Trainset feeds the dataset summary. Defaults to Examples.
	Trainset []signature.Example `json:"trainset,omitempty"`

	Demos              []signature.Demo  `json:"demos,omitempty"`
	CurrentInstruction string            `json:"current_instruction,omitempty"`
	TrialLogs          propose.TrialLogs `json:"trial_logs,omitempty"`

	// RunID loads trial logs from the trial store. Entries in TrialLogs
	// override stored trials with the same index.
	RunID string `json:"run_id,omitempty"`

	Predictor     int `json:"predictor,omitempty"`
	NumCandidates int `json:"num_candidates,omitempty"`

	// Config overrides the server's proposer section for this request.
	Config *config.ProposerConfig `json:"config,omitempty"`
}

// ProgramRequest is the body of POST /v1/propose/program.
type ProgramRequest struct {
	Program                  *signature.Program     `json:"program"`
	Trainset                 []signature.Example    `json:"trainset"`
	DemoCandidates           propose.DemoCandidates `json:"demo_candidates,omitempty"`
	TrialLogs                propose.TrialLogs      `json:"trial_logs,omitempty"`
	RunID                    string                 `json:"run_id,omitempty"`
	NumInstructionCandidates int                    `json:"num_instruction_candidates,omitempty"`
	Config                   *config.ProposerConfig `json:"config,omitempty"`
}

// TrialRequest is the body of POST /v1/runs/{run}/trials. A nil Index
// appends the trial.
type TrialRequest struct {
	Index        *int           `json:"index,omitempty"`
	Instructions map[int]string `json:"instructions"`
	Score        *float64       `json:"score,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Signature == nil {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}
	if err := req.Signature.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid signature: %v", err))
		return
	}
	if !s.checkExamples(w, len(req.Examples), len(req.Trainset)) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	logs, err := s.trialLogs(ctx, req.RunID, req.TrialLogs)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	trainset := req.Trainset
	if trainset == nil {
		trainset = req.Examples
	}
	if trainset == nil {
		trainset = []signature.Example{}
	}

	p, err := s.proposer(ctx, trainset, req.Config, nil)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	opts := []propose.CallOption{
		propose.WithDemos(req.Demos),
		propose.WithCurrentInstruction(req.CurrentInstruction),
		propose.WithTrialLogs(logs),
		propose.WithPredictor(req.Predictor),
	}
	if req.NumCandidates > 0 {
		opts = append(opts, propose.WithNumCandidates(req.NumCandidates))
	}

	res, err := p.ProposeInstructions(ctx, req.Signature, req.Examples, opts...)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.chargeTokens(r, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProposeProgram(w http.ResponseWriter, r *http.Request) {
	var req ProgramRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Program == nil {
		writeError(w, http.StatusBadRequest, "program is required")
		return
	}
	if req.Trainset == nil {
		writeError(w, http.StatusBadRequest, "trainset is required")
		return
	}
	if !s.checkExamples(w, len(req.Trainset)) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	logs, err := s.trialLogs(ctx, req.RunID, req.TrialLogs)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	p, err := s.proposer(ctx, req.Trainset, req.Config, req.Program)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	res, err := p.ProposeForProgram(ctx, req.Trainset, req.Program, req.DemoCandidates, logs, req.NumInstructionCandidates)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.chargeTokens(r, res)
	writeJSON(w, http.StatusOK, res)
}

// chargeTokens bills the proposal's context tokens to the admitted caller.
func (s *Server) chargeTokens(r *http.Request, res *propose.Result) {
	l := s.rt.Limiter()
	caller := ratelimit.CallerFromContext(r.Context())
	if l == nil || caller == "" {
		return
	}
	if err := l.Record(r.Context(), caller, int64(res.Metadata().ContextTokens)); err != nil {
		slog.Warn("Failed to record token usage", "caller", caller, "error", err)
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	l := s.rt.Limiter()
	if l == nil {
		writeError(w, http.StatusNotFound, "rate limiting is disabled")
		return
	}
	caller := ratelimit.CallerFromRequest(r)
	usage, err := l.Usage(r.Context(), caller)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"caller": caller, "usage": usage})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.rt.Trials().Runs(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if runs == nil {
		runs = []trial.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetTrials(w http.ResponseWriter, r *http.Request) {
	logs, err := s.rt.Trials().Logs(r.Context(), chi.URLParam(r, "run"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleRecordTrial(w http.ResponseWriter, r *http.Request) {
	var req TrialRequest
	if !s.decode(w, r, &req) {
		return
	}

	t := trial.Trial{
		Index:        trial.NextIndex,
		Instructions: req.Instructions,
		Score:        req.Score,
	}
	if req.Index != nil {
		if *req.Index < 0 {
			writeError(w, http.StatusBadRequest, "index must be non-negative")
			return
		}
		t.Index = *req.Index
	}

	recorded, err := s.rt.Trials().Record(r.Context(), chi.URLParam(r, "run"), t)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recorded)
}

// proposer builds an engine, reusing a cached dataset summary when one
// exists for the same trainset.
func (s *Server) proposer(ctx context.Context, trainset []signature.Example, override *config.ProposerConfig, program *signature.Program) (*propose.Proposer, error) {
	cfg := s.rt.Config()
	section := cfg.Proposer
	if override != nil {
		section = *override
		section.SetDefaults()
	}

	var (
		opts []propose.Option
		key  string
		hit  bool
	)
	ttl := cfg.Server.SummaryCacheTTL
	if ttl > 0 && config.BoolValue(section.UseDatasetSummary, true) {
		k, err := summaryKey(cfg.LLM.Model, section.ViewDataBatchSize, trainset)
		if err != nil {
			slog.Warn("Failed to compute summary cache key", "error", err)
		} else {
			key = k
			var summary string
			if summary, hit = s.summaries.Get(key); hit {
				opts = append(opts, propose.WithDatasetSummary(summary))
				slog.Debug("Dataset summary cache hit", "key", key[:12])
			}
		}
	}

	p, err := s.rt.NewProposer(ctx, trainset, override, program, opts...)
	if err != nil {
		return nil, err
	}
	if key != "" && !hit {
		s.summaries.Set(key, p.DatasetSummary(), ttl)
	}
	return p, nil
}

func (s *Server) trialLogs(ctx context.Context, runID string, inline propose.TrialLogs) (propose.TrialLogs, error) {
	if runID == "" {
		return inline, nil
	}
	stored, err := s.rt.TrialLogs(ctx, runID)
	if err != nil {
		return nil, err
	}
	merged := make(propose.TrialLogs, len(stored)+len(inline))
	maps.Copy(merged, stored)
	maps.Copy(merged, inline)
	return merged, nil
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if timeout := s.rt.Config().Server.RequestTimeout; timeout > 0 {
		return context.WithTimeout(r.Context(), timeout)
	}
	return context.WithCancel(r.Context())
}

func (s *Server) checkExamples(w http.ResponseWriter, counts ...int) bool {
	limit := s.rt.Config().Server.MaxExamples
	for _, n := range counts {
		if limit > 0 && n > limit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("too many examples: %d (max %d)", n, limit))
			return false
		}
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := r.Body
	if limit := s.rt.Config().Server.MaxBodyBytes; limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}

	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "error", err,
			"request_id", RequestIDFromContext(r.Context()))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, propose.ErrNilSchema), errors.Is(err, propose.ErrNilTrainset):
		return http.StatusBadRequest
	case errors.Is(err, trial.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, runtime.ErrInvalidConfig), errors.Is(err, ratelimit.ErrEmptyCaller):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
