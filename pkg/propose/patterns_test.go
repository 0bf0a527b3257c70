package propose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/instruct/pkg/signature"
)

func TestAnalyzePatterns_AverageLength(t *testing.T) {
	examples := []signature.Example{
		{Inputs: map[string]any{"in": "hi"}},
		{Inputs: map[string]any{"in": "hello world"}},
	}

	p := AnalyzePatterns("", nil, examples, 10)
	assert.Equal(t, 2, p.SampleSize)
	assert.InDelta(t, 6.5, p.AvgInputLength, 1e-9)
	assert.InDelta(t, 0, p.AvgOutputLength, 1e-9)
}

func TestAnalyzePatterns_Empty(t *testing.T) {
	p := AnalyzePatterns("", nil, nil, 10)
	assert.Equal(t, 0, p.SampleSize)
	assert.Zero(t, p.AvgInputLength)
	assert.Zero(t, p.AvgOutputLength)
	assert.NotNil(t, p.CommonKeywords)
	assert.NotNil(t, p.Themes)
}

func TestAnalyzePatterns_Window(t *testing.T) {
	examples := sentimentExamples(25)
	p := AnalyzePatterns("", nil, examples, 10)
	assert.Equal(t, 10, p.SampleSize)
	assert.Equal(t, 10, p.FieldTypes["text"]["string"])
	assert.Equal(t, 10, p.FieldTypes["sentiment"]["string"])
}

func TestAnalyzePatterns_FieldTypes(t *testing.T) {
	examples := []signature.Example{
		{Inputs: map[string]any{"n": 3, "ok": true, "tags": []any{"a"}, "meta": map[string]any{"k": 1}}},
		{Inputs: map[string]any{"n": 2.5, "ok": nil, "bad": func() {}}},
	}
	p := AnalyzePatterns("", nil, examples, 0)

	assert.Equal(t, map[string]int{"number": 2}, p.FieldTypes["n"])
	assert.Equal(t, map[string]int{"boolean": 1}, p.FieldTypes["ok"])
	assert.Equal(t, map[string]int{"array": 1}, p.FieldTypes["tags"])
	assert.Equal(t, map[string]int{"object": 1}, p.FieldTypes["meta"])
	assert.NotContains(t, p.FieldTypes, "bad")
}

func TestAnalyzePatterns_Keywords(t *testing.T) {
	examples := []signature.Example{
		{Inputs: map[string]any{"text": "zebra apple apple tiny"}},
		{Inputs: map[string]any{"text": "Zebra, mango! apple"}},
	}
	p := AnalyzePatterns("", nil, examples, 10)

	// apple (3) then zebra (2), then mango and tiny in first-seen order.
	assert.Equal(t, []string{"apple", "zebra", "tiny", "mango"}, p.CommonKeywords)
}

func TestAnalyzePatterns_CountsCharacters(t *testing.T) {
	examples := []signature.Example{
		{Inputs: map[string]any{"in": "héllo"}, Outputs: map[string]any{"out": "日本"}},
	}
	p := AnalyzePatterns("", nil, examples, 10)
	assert.InDelta(t, 5, p.AvgInputLength, 1e-9)
	assert.InDelta(t, 2, p.AvgOutputLength, 1e-9)

	examples = []signature.Example{{Inputs: map[string]any{"in": "héllo 日本語 größe"}}}
	p = AnalyzePatterns("", nil, examples, 10)
	assert.Equal(t, []string{"héllo", "größe"}, p.CommonKeywords)
}

func TestAnalyzePatterns_KeywordsFollowFieldOrder(t *testing.T) {
	examples := []signature.Example{
		{Inputs: map[string]any{"question": "alpha", "context": "bravo", "extra": "charlie"}},
	}

	p := AnalyzePatterns("", []string{"question", "context"}, examples, 10)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, p.CommonKeywords)

	p = AnalyzePatterns("", nil, examples, 10)
	assert.Equal(t, []string{"bravo", "charlie", "alpha"}, p.CommonKeywords)

	schema := &signature.Signature{
		Description: "Answer",
		Inputs:      []signature.Field{{Name: "question"}, {Name: "context"}},
		Outputs:     []signature.Field{{Name: "answer"}},
	}
	a := Analyze(schema, examples, nil, 10)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, a.ExamplePatterns.CommonKeywords)
}

func TestAnalyzePatterns_KeywordCap(t *testing.T) {
	var examples []signature.Example
	for _, w := range []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot",
		"golf", "hotel", "india", "juliet", "kilo", "lima"} {
		examples = append(examples, signature.Example{Inputs: map[string]any{"w": w}})
	}
	p := AnalyzePatterns("", nil, examples, 0)
	require.Len(t, p.CommonKeywords, 10)
	assert.Equal(t, "alpha", p.CommonKeywords[0])
	assert.NotContains(t, p.CommonKeywords, "kilo")
}

func TestDetectThemes(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"plain text", []string{}},
		{"Answer the QUESTION", []string{ThemeQuestionAnswering}},
		{"is it raining?", []string{ThemeQuestionAnswering}},
		{"Classify the review", []string{ThemeClassification}},
		{"pick a category", []string{ThemeClassification}},
		{"what is 12 + 7?", []string{ThemeQuestionAnswering, ThemeMathematicalReasoning}},
		{"3*4", []string{ThemeMathematicalReasoning}},
		{"Explain the result", []string{ThemeAnalyticalReasoning}},
		{"Why? classify and analyze 1 / 2", []string{
			ThemeQuestionAnswering, ThemeClassification, ThemeMathematicalReasoning, ThemeAnalyticalReasoning,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectThemes(tt.text))
		})
	}
}

func TestThemeRules_Order(t *testing.T) {
	var names []string
	for _, r := range ThemeRules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		ThemeQuestionAnswering, ThemeClassification, ThemeMathematicalReasoning, ThemeAnalyticalReasoning,
	}, names)
	assert.Equal(t, 1, ThemeRulesVersion)
}

func TestAnalyzePatterns_ThemesIncludeDescription(t *testing.T) {
	p := AnalyzePatterns("Classify sentiment", nil, sentimentExamples(3), 10)
	assert.True(t, p.HasTheme(ThemeClassification))
	assert.False(t, p.HasTheme(ThemeMathematicalReasoning))
}

func TestAnalyzeComplexity(t *testing.T) {
	sig := sentimentSchema()
	in, out := Introspect(sig.Inputs), Introspect(sig.Outputs)

	c := AnalyzeComplexity(in, out, sentimentExamples(5))
	assert.Equal(t, 1, c.NumInputFields)
	assert.Equal(t, 1, c.NumOutputFields)
	assert.True(t, c.HasComplexOutput, "enum output counts as complex")
	assert.False(t, c.RequiresReasoning)
}

func TestAnalyzeComplexity_ReasoningFromInputs(t *testing.T) {
	out := Introspect([]signature.Field{{Name: "answer"}})
	examples := []signature.Example{
		{Inputs: map[string]any{"text": "Why does this happen and how do we explain it?"}},
	}

	c := AnalyzeComplexity(Introspect([]signature.Field{{Name: "text"}}), out, examples)
	assert.True(t, c.RequiresReasoning)
	assert.False(t, c.HasComplexOutput)
}

func TestAnalyzeComplexity_ReasoningFromOutputName(t *testing.T) {
	out := Introspect([]signature.Field{{Name: "answer"}, {Name: "Justification"}})
	c := AnalyzeComplexity(nil, out, nil)
	assert.True(t, c.RequiresReasoning)
}

func TestAnalyzeComplexity_SamplesFirstFive(t *testing.T) {
	examples := sentimentExamples(5)
	examples = append(examples, signature.Example{Inputs: map[string]any{"text": "explain why"}})

	c := AnalyzeComplexity(nil, Introspect([]signature.Field{{Name: "label"}}), examples)
	assert.False(t, c.RequiresReasoning)
}

func TestAnalyzeFewShot(t *testing.T) {
	assert.Nil(t, AnalyzeFewShot(nil))

	fs := AnalyzeFewShot([]signature.Demo{
		{Outputs: map[string]any{"sentiment": "positive"}, Reasoning: "upbeat words"},
		{Outputs: map[string]any{"sentiment": "neutral"}},
	})
	require.NotNil(t, fs)
	assert.Equal(t, 2, fs.NumDemos)
	assert.Equal(t, 1, fs.WithReasoning)
	assert.InDelta(t, 7.5, fs.AvgOutputLength, 1e-9)
}
