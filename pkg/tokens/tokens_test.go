package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", "o200k_base"},
		{"GPT-4o", "o200k_base"},
		{"gpt-4-turbo", "cl100k_base"},
		{"claude-sonnet-4-20250514", "cl100k_base"},
		{"gemini-2.0-flash", "cl100k_base"},
		{"mistral", "cl100k_base"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodingFor(tt.model))
		})
	}
}

func TestEstimator(t *testing.T) {
	assert.Equal(t, 0, Estimator{}.Count(""))
	assert.Equal(t, 1, Estimator{}.Count("abc"))
	assert.Equal(t, 2, Estimator{}.Count("abcdefgh"))
}

func TestCounter(t *testing.T) {
	c, err := NewCounter("gpt-4o-mini")
	if err != nil {
		t.Skipf("encoding not available: %v", err)
	}
	assert.Equal(t, "gpt-4o-mini", c.Model())
	assert.Positive(t, c.Count("Classify the sentiment of the text."))
	assert.Zero(t, c.Count(""))

	again, err := NewCounter("gpt-4o-mini")
	assert.NoError(t, err)
	assert.Same(t, c.encoding, again.encoding)
}

func TestForModel(t *testing.T) {
	assert.Positive(t, ForModel("claude-sonnet-4-20250514").Count("hello world"))
}
