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

package propose

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/instruct/pkg/completion"
	"github.com/kadirpekel/instruct/pkg/observability"
	"github.com/kadirpekel/instruct/pkg/signature"
)

const (
	// MaxRefinementCalls bounds the summarizer's refinement loop.
	MaxRefinementCalls = 10

	// MaxCompleteSkips stops refinement after this many COMPLETE replies.
	MaxCompleteSkips = 5

	observationsField = "observations"
	summaryField      = "summary"
	completeMarker    = "COMPLETE"
)

// Summarizer phases, as reported to metrics.
const (
	PhaseInit      = "init"
	PhaseRefine    = "refine"
	PhaseSummarize = "summarize"
)

const (
	initInstruction = "Given several examples from a dataset, write observations about trends " +
		"that hold for most or all of the samples. Cover the topics, content and syntax of the " +
		"inputs and outputs, and the task the dataset appears to teach. Be concise."

	refineInstruction = "Given prior observations about a dataset and a new batch of examples, " +
		"write only observations that are new and not already covered. If the prior " +
		"observations are already complete, reply with the single word COMPLETE."

	summarizeInstruction = "Given a list of observations about a dataset, write a 2-3 sentence " +
		"summary of the dataset. Reply with the summary only."
)

var labelPrefixPattern = regexp.MustCompile(`^[\*\s]*(?:[\w'\-]+\s+){0,3}[\w'\-]+:\s*`)

// summarizer distills a training set into a short description over
// repeated completion calls.
type summarizer struct {
	service   completion.Service
	batchSize int
	tracer    *observability.Tracer
	metrics   observability.Metrics
	logStep   func(msg string, args ...any)
}

// Summarize never fails. Completion errors degrade the summary.
func (s *summarizer) Summarize(ctx context.Context, examples []signature.Example) string {
	if len(examples) == 0 {
		return ""
	}

	ctx, span := s.tracer.Start(ctx, observability.SpanSummarize,
		trace.WithAttributes(attribute.Int(observability.AttrProposalExamples, len(examples))))
	defer span.End()

	first := examples[:min(s.batchSize, len(examples))]
	res, err := s.complete(ctx, PhaseInit, 0, &completion.Request{
		Instruction: initInstruction,
		Prompt:      renderBatch(first, 0),
		Outputs:     []completion.OutputField{{Name: observationsField, Description: "Observations about the dataset"}},
	})
	if err != nil {
		slog.Warn("Dataset summarizer could not produce initial observations", "error", err)
		return ""
	}
	observations := strings.TrimSpace(res.Get(observationsField))

	skips, calls := 0, 0
	for offset := s.batchSize; offset < len(examples); offset += s.batchSize {
		if calls >= MaxRefinementCalls || skips >= MaxCompleteSkips {
			break
		}
		calls++

		batch := examples[offset:min(offset+s.batchSize, len(examples))]
		res, err := s.complete(ctx, PhaseRefine, offset, &completion.Request{
			Instruction: refineInstruction,
			Prompt:      fmt.Sprintf("Prior observations:\n%s\n\nNew examples:\n%s", observations, renderBatch(batch, offset)),
			Outputs:     []completion.OutputField{{Name: observationsField, Description: "New observations, or COMPLETE"}},
		})
		if err != nil {
			slog.Warn("Dataset summarizer refinement failed, summarizing what was gathered",
				"offset", offset, "error", err)
			break
		}

		out := strings.TrimSpace(res.Get(observationsField))
		if strings.HasPrefix(strings.ToUpper(out), completeMarker) {
			skips++
			s.logStep("Summarizer batch added nothing new", "offset", offset, "skips", skips)
			continue
		}
		if out != "" {
			observations += "\n" + out
		}
		s.logStep("Summarizer refined observations", "offset", offset, "calls", calls)
	}

	res, err = s.complete(ctx, PhaseSummarize, 0, &completion.Request{
		Instruction: summarizeInstruction,
		Prompt:      "Observations:\n" + observations,
		Outputs:     []completion.OutputField{{Name: summaryField, Description: "2-3 sentence dataset summary"}},
	})
	if err != nil {
		slog.Warn("Dataset summarizer could not condense observations", "error", err)
		return cleanSummary(observations)
	}

	summary := cleanSummary(res.Get(summaryField))
	s.logStep("Dataset summary ready", "summary", summary)
	return summary
}

func (s *summarizer) complete(ctx context.Context, phase string, offset int, req *completion.Request) (completion.Result, error) {
	res, err := s.service.Complete(ctx, req)
	s.metrics.RecordSummarizerStep(ctx, phase, err)
	trace.SpanFromContext(ctx).AddEvent(phase, trace.WithAttributes(
		attribute.String(observability.AttrSummarizerPhase, phase),
		attribute.Int(observability.AttrSummarizerBatch, offset),
	))
	return res, err
}

var quotePairs = [][2]string{{`"`, `"`}, {`'`, `'`}, {"\u201c", "\u201d"}}

// cleanSummary drops a leading "Label:" of up to four words and one pair of
// matching surrounding quotes. A label inside the quotes is dropped too.
func cleanSummary(s string) string {
	s = stripLabel(s)
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return stripLabel(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}

func stripLabel(s string) string {
	s = labelPrefixPattern.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.TrimSpace(s)
}

func renderBatch(examples []signature.Example, offset int) string {
	var b strings.Builder
	for i, ex := range examples {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", offset+i+1, renderPair(ex.Inputs, ex.Outputs, nil, nil))
	}
	return b.String()
}
