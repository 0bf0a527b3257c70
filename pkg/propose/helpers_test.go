package propose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/instruct/pkg/completion"
	"github.com/kadirpekel/instruct/pkg/signature"
)

// scripted records every request and answers with fn.
type scripted struct {
	mu    sync.Mutex
	calls []*completion.Request
	fn    func(req *completion.Request) (completion.Result, error)
}

func (s *scripted) Complete(_ context.Context, req *completion.Request) (completion.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.fn(req)
}

func (s *scripted) count(match func(*completion.Request) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if match(c) {
			n++
		}
	}
	return n
}

func isInit(r *completion.Request) bool      { return r.Instruction == initInstruction }
func isRefine(r *completion.Request) bool    { return r.Instruction == refineInstruction }
func isSummarize(r *completion.Request) bool { return r.Instruction == summarizeInstruction }
func isGenerate(r *completion.Request) bool {
	return len(r.Outputs) == 1 && r.Outputs[0].Name == proposedInstructionField
}

func answer(field, text string) completion.Result {
	return completion.Result{field: text}
}

func sentimentSchema() *signature.Signature {
	return &signature.Signature{
		Description: "Classify sentiment",
		Inputs:      []signature.Field{{Name: "text", Type: "string"}},
		Outputs: []signature.Field{{
			Name:   "sentiment",
			Type:   "Sentiment",
			Values: []any{"positive", "negative", "neutral"},
		}},
	}
}

func sentimentExamples(n int) []signature.Example {
	texts := []string{"great film", "terrible plot", "average acting"}
	labels := []string{"positive", "negative", "neutral"}
	out := make([]signature.Example, n)
	for i := range out {
		out[i] = signature.Example{
			Inputs:  map[string]any{"text": fmt.Sprintf("%s %d", texts[i%3], i)},
			Outputs: map[string]any{"sentiment": labels[i%3]},
		}
	}
	return out
}

type recordedProposal struct {
	candidates int
	fallback   bool
}

type recordingMetrics struct {
	mu        sync.Mutex
	steps     []string
	proposals []recordedProposal
}

func (m *recordingMetrics) RecordCompletion(context.Context, string, time.Duration, int, int, error) {
}

func (m *recordingMetrics) RecordSummarizerStep(_ context.Context, phase string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, phase)
}

func (m *recordingMetrics) RecordProposal(_ context.Context, _ time.Duration, candidates int, fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals = append(m.proposals, recordedProposal{candidates, fallback})
}

func (m *recordingMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}
