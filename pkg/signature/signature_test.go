package signature

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const sentimentYAML = `
description: Classify sentiment
inputs:
  - name: text
    type: string
    description: The review text
outputs:
  - name: sentiment
    type: Sentiment
    values: [positive, negative, neutral]
  - name: confidence
    type: float
    required: false
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature([]byte(sentimentYAML))
	require.NoError(t, err)

	assert.Equal(t, "Classify sentiment", sig.Description)
	assert.Equal(t, []string{"text"}, sig.InputNames())
	assert.Equal(t, []string{"sentiment", "confidence"}, sig.OutputNames())
	assert.Equal(t, []any{"positive", "negative", "neutral"}, sig.Outputs[0].Values)
	assert.True(t, sig.Outputs[0].IsRequired())
	assert.False(t, sig.Outputs[1].IsRequired())
	assert.Equal(t, "string", Field{Name: "x"}.TypeName())
}

func TestSignature_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sig     *Signature
		wantErr string
	}{
		{"nil", nil, "nil"},
		{"no inputs", &Signature{Outputs: []Field{{Name: "a"}}}, "input"},
		{"no outputs", &Signature{Inputs: []Field{{Name: "a"}}}, "output"},
		{"blank name", &Signature{Inputs: []Field{{Name: " "}}, Outputs: []Field{{Name: "b"}}}, "name is required"},
		{"duplicate", &Signature{Inputs: []Field{{Name: "a"}}, Outputs: []Field{{Name: "a"}}}, "already declared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sig.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSignature_OutputSchema(t *testing.T) {
	sig, err := ParseSignature([]byte(sentimentYAML))
	require.NoError(t, err)

	data, err := json.Marshal(sig.OutputSchema())
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"sentiment"}, schema["required"])

	props := schema["properties"].(map[string]any)
	sentiment := props["sentiment"].(map[string]any)
	assert.Equal(t, []any{"positive", "negative", "neutral"}, sentiment["enum"])
	assert.Equal(t, "number", props["confidence"].(map[string]any)["type"])
}

func TestLoadExamples_JSONLines(t *testing.T) {
	sig, err := ParseSignature([]byte(sentimentYAML))
	require.NoError(t, err)

	path := writeFile(t, "train.jsonl", `{"text": "great", "sentiment": "positive"}

{"inputs": {"text": "meh"}, "outputs": {"sentiment": "neutral"}}
`)
	examples, err := LoadExamples(path, sig)
	require.NoError(t, err)
	require.Len(t, examples, 2)
	assert.Equal(t, map[string]any{"text": "great"}, examples[0].Inputs)
	assert.Equal(t, map[string]any{"sentiment": "positive"}, examples[0].Outputs)
	assert.Equal(t, map[string]any{"sentiment": "neutral"}, examples[1].Outputs)
}

func TestLoadExamples_BadLine(t *testing.T) {
	path := writeFile(t, "train.jsonl", "{\"text\": 1}\nnot json\n")
	_, err := LoadExamples(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2:")
}

func TestLoadDemos_YAML(t *testing.T) {
	sig, err := ParseSignature([]byte(sentimentYAML))
	require.NoError(t, err)

	path := writeFile(t, "demos.yaml", `
- text: loved it
  sentiment: positive
  reasoning: enthusiastic wording
`)
	demos, err := LoadDemos(path, sig)
	require.NoError(t, err)
	require.Len(t, demos, 1)
	assert.Equal(t, "enthusiastic wording", demos[0].Reasoning)
	assert.Equal(t, map[string]any{"text": "loved it"}, demos[0].Inputs)
}

func TestLoadExamples_Spreadsheet(t *testing.T) {
	sig, err := ParseSignature([]byte(sentimentYAML))
	require.NoError(t, err)

	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "text"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "sentiment"))
	require.NoError(t, f.SetCellValue("Sheet1", "C1", "confidence"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "awful"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "negative"))
	require.NoError(t, f.SetCellValue("Sheet1", "C2", "0.75"))
	path := filepath.Join(t.TempDir(), "train.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	examples, err := LoadExamples(path, sig)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, "awful", examples[0].Inputs["text"])
	assert.Equal(t, "negative", examples[0].Outputs["sentiment"])
	assert.Equal(t, 0.75, examples[0].Outputs["confidence"])
}

func TestLoadExamples_UnsupportedFormat(t *testing.T) {
	_, err := LoadExamples(writeFile(t, "train.csv", "a,b"), nil)
	assert.ErrorContains(t, err, "unsupported dataset format")
}

func TestLoadProgram(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sentiment.yaml"), []byte(sentimentYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "program.yaml"), []byte(`
name: reviews
source: main.go
predictors:
  - name: classify
    signature_file: sentiment.yaml
    instruction: Label the review.
`), 0o644))

	prog, err := LoadProgram(filepath.Join(dir, "program.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "reviews", prog.Name)
	assert.Equal(t, filepath.Join(dir, "main.go"), prog.Source)
	require.Len(t, prog.Predictors, 1)
	assert.Equal(t, "Label the review.", prog.Predictors[0].Instruction)
	assert.Equal(t, "Classify sentiment", prog.Predictors[0].Signature.Description)
}

func TestSingle(t *testing.T) {
	sig := &Signature{Description: "d"}
	prog := Single("p", sig, "do it")
	require.Len(t, prog.Predictors, 1)
	assert.Same(t, sig, prog.Predictors[0].Signature)
}
