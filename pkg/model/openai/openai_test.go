package openai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/instruct/pkg/model"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	c, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, defaultModel, c.Name())
	assert.Equal(t, model.ProviderOpenAI, c.Provider())
}

func TestGenerateContent_StructuredOutput(t *testing.T) {
	var got responsesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "resp_1",
			"status": "completed",
			"output": [{"type": "message", "role": "assistant",
				"content": [{"type": "output_text", "text": "{\"proposed_instruction\":\"Label it.\"}"}]}],
			"usage": {"input_tokens": 12, "output_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	temp := 0.7
	resp, err := c.GenerateContent(t.Context(), &model.Request{
		SystemInstruction: "Propose an instruction.",
		Messages:          []*a2a.Message{model.UserText("context here")},
		Config: &model.GenerateConfig{
			Temperature:        &temp,
			ResponseSchema:     map[string]any{"type": "object"},
			ResponseSchemaName: "proposal",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"proposed_instruction":"Label it."}`, resp.TextContent())
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Equal(t, model.FinishReasonStop, resp.FinishReason)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, "Propose an instruction.", got.Instructions)
	require.Len(t, got.Input, 1)
	assert.Equal(t, "user", got.Input[0].Role)
	assert.Equal(t, "context here", got.Input[0].Content[0].Text)
	require.NotNil(t, got.Text)
	assert.Equal(t, "proposal", got.Text.Format.Name)
	assert.Equal(t, 0.7, *got.Temperature)
}

func TestGenerateContent_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.GenerateContent(t.Context(), &model.Request{Messages: []*a2a.Message{model.UserText("x")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestParseResponse(t *testing.T) {
	_, err := parseResponse(&responsesResponse{Status: "failed"})
	assert.Error(t, err)

	resp, err := parseResponse(&responsesResponse{
		Status:            "incomplete",
		IncompleteDetails: &incompleteDetails{Reason: "max_output_tokens"},
		Output:            []outputItem{{Type: "message", Content: []contentItem{{Type: "output_text", Text: "partial"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.FinishReasonLength, resp.FinishReason)
	assert.Equal(t, "partial", resp.TextContent())

	_, err = parseResponse(&responsesResponse{Status: "completed"})
	assert.Error(t, err)
}
