package gemini

import (
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/instruct/pkg/model"
)

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string", "description": "two sentences"},
			"label":   map[string]any{"type": "string", "enum": []any{"a", "b"}},
		},
		"required": []string{"summary"},
	})

	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"summary"}, s.Required)
	require.Contains(t, s.Properties, "summary")
	assert.Equal(t, genai.TypeString, s.Properties["summary"].Type)
	assert.Equal(t, "two sentences", s.Properties["summary"].Description)
	assert.Equal(t, []string{"a", "b"}, s.Properties["label"].Enum)
	assert.Nil(t, toGenaiSchema(nil))
}

func TestBuildContents(t *testing.T) {
	contents := buildContents([]*a2a.Message{
		model.UserText("hello"),
		a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "hi"}),
		a2a.NewMessage(a2a.MessageRoleUser),
	})
	require.Len(t, contents, 2)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	assert.Equal(t, "hi", contents[1].Parts[0].Text)
}

func TestBuildConfig(t *testing.T) {
	temp := 0.3
	m := &geminiModel{name: "g", config: Config{MaxTokens: 256, Temperature: &temp}}

	cfg := m.buildConfig(&model.Request{
		SystemInstruction: "be brief",
		Config:            &model.GenerateConfig{ResponseSchema: map[string]any{"type": "object"}},
	})
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.Equal(t, int32(256), cfg.MaxOutputTokens)
	assert.InDelta(t, 0.3, float64(*cfg.Temperature), 1e-6)
	assert.Equal(t, "be brief", cfg.SystemInstruction.Parts[0].Text)
}

func TestParseResponse(t *testing.T) {
	_, err := parseResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)

	resp, err := parseResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "answer"},
			}},
			FinishReason: genai.FinishReasonMaxTokens,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount: 3, CandidatesTokenCount: 1, TotalTokenCount: 4,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.TextContent())
	assert.Equal(t, model.FinishReasonLength, resp.FinishReason)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(t.Context(), Config{})
	assert.Error(t, err)
}
