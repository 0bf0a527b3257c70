package propose

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreCandidate(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		reasoning bool
		want      float64
	}{
		{"no verbs", "Be nice.", false, 0},
		{"one verb", "Classify the text.", false, 0.4},
		{"case insensitive", "ANALYZE and Explain.", false, 0.8},
		{"reasoning cue", "Think step by step.", true, 0.3},
		{"cue ignored without reasoning", "Think step by step.", false, 0},
		{"verbs and cue", "Analyze and explain step by step.", true, 1.1},
		{"verb once per kind", "classify, classify, classify", false, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ScoreCandidate(tt.candidate, tt.reasoning), 1e-9)
		})
	}
}

func TestRankCandidates(t *testing.T) {
	in := []string{
		"Be nice.",
		"Classify the text.",
		"Be kind.",
		"Identify and classify the text.",
		"Label it.",
	}
	got := RankCandidates(in, false)

	assert.Equal(t, []string{
		"Identify and classify the text.",
		"Classify the text.",
		"Be nice.",
		"Be kind.",
		"Label it.",
	}, got)
	assert.ElementsMatch(t, in, got)
	assert.Equal(t, "Be nice.", in[0], "input is not reordered")

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, ScoreCandidate(got[i-1], false), ScoreCandidate(got[i], false))
	}
}

func TestRankCandidates_Reasoning(t *testing.T) {
	in := []string{"Classify the text.", "Classify the text, thinking it through."}
	assert.Equal(t, []string{in[1], in[0]}, RankCandidates(in, true))
	assert.Equal(t, in, RankCandidates(in, false))
}

func TestRankCandidates_Empty(t *testing.T) {
	assert.Empty(t, RankCandidates(nil, true))
}
