package propose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/instruct/pkg/completion"
	"github.com/kadirpekel/instruct/pkg/signature"
)

var candidateIndex = regexp.MustCompile(`Candidate #(\d+) of (\d+)`)

// numbered answers generation calls with "Instruction <i>" and everything
// else with a fixed observation.
func numbered() *scripted {
	return &scripted{fn: func(r *completion.Request) (completion.Result, error) {
		if isGenerate(r) {
			m := candidateIndex.FindStringSubmatch(r.Prompt)
			return answer(proposedInstructionField, "Instruction "+m[1]), nil
		}
		if isSummarize(r) {
			return answer(summaryField, "Sentiment-labelled reviews."), nil
		}
		return answer(observationsField, "reviews"), nil
	}}
}

func TestNewProposer_Errors(t *testing.T) {
	_, err := NewProposer(t.Context(), nil, []signature.Example{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilService)

	_, err = NewProposer(t.Context(), completion.Text("x"), nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilTrainset)

	cfg := DefaultConfig()
	cfg.MaxConcurrency = -1
	_, err = NewProposer(t.Context(), completion.Text("x"), []signature.Example{}, cfg)
	assert.ErrorContains(t, err, "max_concurrency")
}

func TestProposeInstructions_Errors(t *testing.T) {
	p, err := NewProposer(t.Context(), completion.Text("x"), []signature.Example{}, DefaultConfig())
	require.NoError(t, err)

	_, err = p.ProposeInstructions(t.Context(), nil, []signature.Example{})
	assert.ErrorIs(t, err, ErrNilSchema)

	_, err = p.ProposeInstructions(t.Context(), sentimentSchema(), nil)
	assert.ErrorIs(t, err, ErrNilTrainset)
}

func TestProposeInstructions_SentimentScenario(t *testing.T) {
	const text = "Classify the sentiment of the text."
	svc := &scripted{fn: func(r *completion.Request) (completion.Result, error) {
		return completion.Text(text).Complete(context.Background(), r)
	}}
	examples := sentimentExamples(12)

	cfg := DefaultConfig()
	cfg.ViewDataBatchSize = 10
	cfg.NumInstructionCandidates = 3

	p, err := NewProposer(t.Context(), svc, examples, cfg, WithSeed(1))
	require.NoError(t, err)
	res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), examples)
	require.NoError(t, err)

	assert.Equal(t, 1, res.NumCandidates())
	assert.Equal(t, text, res.BestInstruction())
	assert.False(t, res.Metadata().Fallback)
	assert.Equal(t, 12, res.Metadata().NumExamplesAnalyzed)

	assert.Equal(t, 3, svc.count(isGenerate))
	assert.Equal(t, 1, svc.count(isRefine))
	assert.Equal(t, text, p.DatasetSummary())

	a := res.Analysis()
	require.Len(t, a.OutputFields, 1)
	assert.True(t, a.OutputFields[0].IsEnum())
	assert.Equal(t, []string{"positive", "negative", "neutral"}, a.OutputFields[0].EnumValues)
	assert.Equal(t, 10, a.ExamplePatterns.SampleSize)
	assert.True(t, a.ExamplePatterns.HasTheme(ThemeClassification))
}

func TestProposeInstructions_AlwaysFailingService(t *testing.T) {
	m := &recordingMetrics{}
	p, err := NewProposer(t.Context(), completion.Failing(errors.New("down")), sentimentExamples(30),
		DefaultConfig(), WithMetrics(m))
	require.NoError(t, err)
	assert.Empty(t, p.DatasetSummary())

	res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), sentimentExamples(30))
	require.NoError(t, err)

	require.Equal(t, 1, res.NumCandidates())
	assert.Equal(t, "Classify sentiment Be accurate and specific in your response.", res.BestInstruction())
	assert.True(t, res.Metadata().Fallback)
	assert.Equal(t, []recordedProposal{{candidates: 1, fallback: true}}, m.proposals)
}

func TestProposeInstructions_FallbackWithReasoning(t *testing.T) {
	sig := &signature.Signature{
		Description: "Answer the puzzle",
		Inputs:      []signature.Field{{Name: "puzzle"}},
		Outputs:     []signature.Field{{Name: "answer"}},
	}
	examples := []signature.Example{{Inputs: map[string]any{"puzzle": "Why does this happen and how do we explain it?"}}}

	p, err := NewProposer(t.Context(), completion.Failing(errors.New("down")), examples, DefaultConfig())
	require.NoError(t, err)
	res, err := p.ProposeInstructions(t.Context(), sig, examples)
	require.NoError(t, err)

	assert.True(t, res.Analysis().RequiresReasoning())
	assert.Equal(t, "Answer the puzzle Think step by step and provide a clear explanation.", res.BestInstruction())
}

func TestProposeInstructions_PartialFailures(t *testing.T) {
	svc := &scripted{fn: func(r *completion.Request) (completion.Result, error) {
		if !isGenerate(r) {
			return answer(observationsField, "obs"), nil
		}
		switch candidateIndex.FindStringSubmatch(r.Prompt)[1] {
		case "2":
			return nil, errors.New("timeout")
		case "3":
			return answer(proposedInstructionField, "   "), nil
		case "4":
			return answer(proposedInstructionField, "  Instruction 1 "), nil
		}
		return answer(proposedInstructionField, "Instruction "+candidateIndex.FindStringSubmatch(r.Prompt)[1]), nil
	}}

	p, err := NewProposer(t.Context(), svc, []signature.Example{}, DefaultConfig())
	require.NoError(t, err)
	res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), []signature.Example{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Instruction 1", "Instruction 5"}, res.Candidates())
	assert.False(t, res.Metadata().Fallback)
}

func TestProposeInstructions_ParallelKeepsOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumInstructionCandidates = 8
	cfg.MaxConcurrency = 4
	cfg.UseDatasetSummary = false

	p, err := NewProposer(t.Context(), numbered(), []signature.Example{}, cfg)
	require.NoError(t, err)
	res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), sentimentExamples(3))
	require.NoError(t, err)

	want := make([]string, 8)
	for i := range want {
		want[i] = "Instruction " + strconv.Itoa(i+1)
	}
	assert.Equal(t, want, res.Candidates())
}

func TestProposeInstructions_GenerationRequests(t *testing.T) {
	base := 0.5
	cfg := DefaultConfig()
	cfg.NumInstructionCandidates = 3
	cfg.Temperature = &base
	cfg.TemperatureStep = 0.1
	svc := numbered()

	p, err := NewProposer(t.Context(), svc, []signature.Example{}, cfg)
	require.NoError(t, err)
	_, err = p.ProposeInstructions(t.Context(), sentimentSchema(), sentimentExamples(3))
	require.NoError(t, err)

	temps := map[string]float64{}
	for _, r := range svc.calls {
		if !isGenerate(r) {
			continue
		}
		m := candidateIndex.FindStringSubmatch(r.Prompt)
		assert.Equal(t, "3", m[2])
		assert.Contains(t, r.Instruction, "Be specific and actionable. Guide the model's reasoning process.")
		assert.Contains(t, r.Instruction, "Encourage careful categorization.")
		assert.NotContains(t, r.Instruction, "Encourage step-by-step thinking.")
		require.NotNil(t, r.Temperature)
		temps[m[1]] = *r.Temperature
	}
	assert.InDelta(t, 0.6, temps["1"], 1e-9)
	assert.InDelta(t, 0.7, temps["2"], 1e-9)
	assert.InDelta(t, 0.8, temps["3"], 1e-9)
}

func TestProposeInstructions_TipDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseTip = false
	p, err := NewProposer(t.Context(), numbered(), []signature.Example{}, cfg, WithSeed(9))
	require.NoError(t, err)

	for range 10 {
		res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), sentimentExamples(3))
		require.NoError(t, err)
		assert.Empty(t, res.Metadata().Tip)
		for _, tip := range Tips {
			assert.NotContains(t, res.Context(), tip.Text)
		}
	}
}

func TestProposeInstructions_SeededTipsRepeat(t *testing.T) {
	tips := func() []string {
		p, err := NewProposer(t.Context(), numbered(), []signature.Example{}, DefaultConfig(), WithSeed(42))
		require.NoError(t, err)
		var out []string
		for range 5 {
			res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), sentimentExamples(3))
			require.NoError(t, err)
			require.NotEmpty(t, res.Metadata().Tip)
			out = append(out, res.Metadata().Tip)
		}
		return out
	}
	assert.Equal(t, tips(), tips())
}

func TestProposeInstructions_ContextInputs(t *testing.T) {
	logs := TrialLogs{
		0: {Instructions: map[int]string{0: "Label it."}, Score: score(0.4)},
		1: {Instructions: map[int]string{0: "Classify carefully."}, Score: score(0.8)},
	}
	demos := []signature.Demo{{Inputs: map[string]any{"text": "loved it"}, Outputs: map[string]any{"sentiment": "positive"}}}

	p, err := NewProposer(t.Context(), numbered(), []signature.Example{}, DefaultConfig(),
		WithDatasetSummary("Preset summary."))
	require.NoError(t, err)
	res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), sentimentExamples(3),
		WithDemos(demos), WithCurrentInstruction("Label the review."), WithTrialLogs(logs))
	require.NoError(t, err)

	ctx := res.Context()
	assert.Contains(t, ctx, "Dataset summary: Preset summary.")
	assert.Contains(t, ctx, "Inputs: text: loved it | Expected: sentiment: positive")
	assert.Contains(t, ctx, `Current instruction: "Label the review."`)
	assert.Contains(t, ctx, "Label it. | Score: 0.4000\nClassify carefully. | Score: 0.8000")
	assert.Equal(t, "Label the review.", res.Metadata().CurrentInstruction)

	require.NotNil(t, res.Analysis().FewShotPatterns)
	assert.Equal(t, 1, res.Analysis().FewShotPatterns.NumDemos)
}

func TestProposeInstructions_DoesNotMutateInputs(t *testing.T) {
	examples := sentimentExamples(4)
	demos := []signature.Demo{{Inputs: map[string]any{"text": "x"}, Outputs: map[string]any{"sentiment": "neutral"}}}
	logs := TrialLogs{0: {Instructions: map[int]string{0: " A "}, Score: score(0.3)}}

	p, err := NewProposer(t.Context(), numbered(), examples, DefaultConfig())
	require.NoError(t, err)
	_, err = p.ProposeInstructions(t.Context(), sentimentSchema(), examples, WithDemos(demos), WithTrialLogs(logs))
	require.NoError(t, err)

	assert.Equal(t, sentimentExamples(4), examples)
	assert.Equal(t, " A ", logs[0].Instructions[0])
	assert.Equal(t, "x", demos[0].Inputs["text"])
}

type fakeSource struct {
	note  string
	err   error
	calls int
}

func (f *fakeSource) Describe(_ context.Context, program *signature.Program) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.note + " " + program.Name, nil
}

func TestNewProposer_SourceNote(t *testing.T) {
	prog := signature.Single("sentiment", sentimentSchema(), "")

	src := &fakeSource{note: "Single predictor program"}
	p, err := NewProposer(t.Context(), numbered(), []signature.Example{}, DefaultConfig(),
		WithProgram(prog), WithSourceProvider(src))
	require.NoError(t, err)
	assert.Equal(t, "Single predictor program sentiment", p.SourceNote())

	res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), []signature.Example{})
	require.NoError(t, err)
	res2, err := p.ProposeInstructions(t.Context(), sentimentSchema(), []signature.Example{})
	require.NoError(t, err)
	assert.Contains(t, res.Context(), "Program: Single predictor program sentiment")
	assert.Contains(t, res2.Context(), "Program: Single predictor program sentiment")
	assert.Equal(t, 1, src.calls, "note is computed once")

	cfg := DefaultConfig()
	cfg.ProgramAware = false
	p, err = NewProposer(t.Context(), numbered(), []signature.Example{}, cfg,
		WithProgram(prog), WithSourceProvider(&fakeSource{note: "x"}))
	require.NoError(t, err)
	assert.Empty(t, p.SourceNote())

	p, err = NewProposer(t.Context(), numbered(), []signature.Example{}, DefaultConfig(),
		WithProgram(prog), WithSourceProvider(&fakeSource{err: errors.New("boom")}))
	require.NoError(t, err)
	assert.Empty(t, p.SourceNote())
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestProposeInstructions_Metadata(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := NewProposer(t.Context(), numbered(), []signature.Example{}, DefaultConfig(),
		WithClock(clockwork.NewFakeClockAt(at)), WithTokenCounter(wordCounter{}), WithModelName("gpt-test"))
	require.NoError(t, err)

	res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), sentimentExamples(2))
	require.NoError(t, err)

	meta := res.Metadata()
	assert.Equal(t, at, meta.Timestamp)
	assert.Equal(t, "gpt-test", meta.Model)
	assert.Equal(t, len(strings.Fields(res.Context())), meta.ContextTokens)
	assert.Len(t, meta.ProposalID, 36)
	assert.Equal(t, 2, meta.NumExamplesAnalyzed)
}

func TestResult_Immutable(t *testing.T) {
	p, err := NewProposer(t.Context(), numbered(), []signature.Example{}, DefaultConfig())
	require.NoError(t, err)
	res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), sentimentExamples(3))
	require.NoError(t, err)

	c := res.Candidates()
	c[0] = "changed"
	assert.NotEqual(t, "changed", res.BestInstruction())

	a := res.Analysis()
	a.OutputFields[0].EnumValues[0] = "changed"
	a.ExamplePatterns.Themes[0] = "changed"
	assert.Equal(t, "positive", res.Analysis().OutputFields[0].EnumValues[0])
	assert.Equal(t, ThemeClassification, res.Analysis().ExamplePatterns.Themes[0])

	assert.Nil(t, res.PredictorInstructions())
	assert.Equal(t, "", (&Result{}).BestInstruction())
}

func TestResult_MarshalJSON(t *testing.T) {
	p, err := NewProposer(t.Context(), numbered(), []signature.Example{}, DefaultConfig())
	require.NoError(t, err)
	res, err := p.ProposeForProgram(t.Context(), sentimentExamples(3),
		signature.Single("sentiment", sentimentSchema(), ""), nil, nil, 2)
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, res.BestInstruction(), got["best_instruction"])
	assert.EqualValues(t, 2, got["num_candidates"])
	assert.Contains(t, got, "analysis")
	assert.Contains(t, got["predictor_instructions"], "0")
	assert.Equal(t, "enum", got["analysis"].(map[string]any)["output_fields"].([]any)[0].(map[string]any)["kind"])
}

func TestProposeForProgram(t *testing.T) {
	sig := sentimentSchema()
	prog := &signature.Program{
		Name: "pipeline",
		Predictors: []signature.Predictor{
			{Name: "classify", Signature: sig, Instruction: "Label the review."},
			{Name: "other", Signature: sig},
		},
	}
	demos := DemoCandidates{
		0: {
			{{Inputs: map[string]any{"text": "first set"}, Outputs: map[string]any{"sentiment": "positive"}}},
			{{Inputs: map[string]any{"text": "second set"}, Outputs: map[string]any{"sentiment": "negative"}}},
		},
	}
	logs := TrialLogs{0: {Instructions: map[int]string{0: "Old.", 1: "Other."}, Score: score(0.2)}}
	svc := numbered()

	p, err := NewProposer(t.Context(), svc, sentimentExamples(5), DefaultConfig())
	require.NoError(t, err)
	res, err := p.ProposeForProgram(t.Context(), sentimentExamples(5), prog, demos, logs, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, svc.count(isGenerate))
	assert.Equal(t, map[int][]string{0: {"Instruction 1", "Instruction 2"}}, res.PredictorInstructions())
	assert.Equal(t, "Label the review.", res.Metadata().CurrentInstruction)
	assert.Contains(t, res.Context(), "first set")
	assert.NotContains(t, res.Context(), "second set")
	assert.Contains(t, res.Context(), "Old. | Score: 0.2000")
	assert.NotContains(t, res.Context(), "Other.")
}

func TestProposeForProgram_DefaultCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumInstructionCandidates = 4
	p, err := NewProposer(t.Context(), completion.Text("Same."), []signature.Example{}, cfg)
	require.NoError(t, err)

	res, err := p.ProposeForProgram(t.Context(), []signature.Example{},
		signature.Single("s", sentimentSchema(), ""), nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{0: {"Same."}}, res.PredictorInstructions())
}

func TestProposeForProgram_Errors(t *testing.T) {
	p, err := NewProposer(t.Context(), completion.Text("x"), []signature.Example{}, DefaultConfig())
	require.NoError(t, err)

	for _, prog := range []*signature.Program{nil, {Name: "empty"}, {Predictors: []signature.Predictor{{Name: "x"}}}} {
		_, err := p.ProposeForProgram(t.Context(), []signature.Example{}, prog, nil, nil, 1)
		assert.ErrorIs(t, err, ErrNilSchema)
	}

	_, err = p.ProposeForProgram(t.Context(), nil, signature.Single("s", sentimentSchema(), ""), nil, nil, 1)
	assert.ErrorIs(t, err, ErrNilTrainset)
}

func TestProposer_ConcurrentUse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetHistoryRandomly = true
	p, err := NewProposer(t.Context(), numbered(), []signature.Example{}, cfg, WithSeed(5))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.ProposeInstructions(t.Context(), sentimentSchema(), sentimentExamples(3),
				WithCurrentInstruction(fmt.Sprintf("current %d", i)))
			assert.NoError(t, err)
			assert.Equal(t, DefaultNumInstructionCandidates, res.NumCandidates())
		}()
	}
	wg.Wait()
}

func TestRequirementsAndFallback(t *testing.T) {
	a := Analysis{TaskDescription: "Add numbers"}
	assert.Equal(t, "Be specific and actionable. Guide the model's reasoning process.", Requirements(a))
	assert.Equal(t, "Add numbers Be accurate and specific in your response.", Fallback(a))

	a.ComplexityIndicators.RequiresReasoning = true
	a.ExamplePatterns.Themes = []string{ThemeMathematicalReasoning}
	assert.Equal(t, "Be specific and actionable. Guide the model's reasoning process. "+
		"Encourage step-by-step thinking. Emphasize mathematical accuracy.", Requirements(a))
	assert.Equal(t, "Think step by step and provide a clear explanation.", Fallback(Analysis{
		ComplexityIndicators: ComplexityIndicators{RequiresReasoning: true},
	}))
}
