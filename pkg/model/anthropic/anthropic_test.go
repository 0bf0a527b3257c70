package anthropic

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

func TestGenerateContent(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "{\"summary\":\"short\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 9, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "claude-test"})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderAnthropic, c.Provider())

	resp, err := c.GenerateContent(t.Context(), &model.Request{
		SystemInstruction: "Summarize.",
		Messages:          []*a2a.Message{model.UserText("observations")},
		Config:            &model.GenerateConfig{ResponseSchema: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"short"}`, resp.TextContent())
	assert.Equal(t, 13, resp.Usage.TotalTokens)

	assert.Equal(t, "claude-test", body["model"])
	system := body["system"].([]any)[0].(map[string]any)["text"].(string)
	assert.Contains(t, system, "Summarize.")
	assert.Contains(t, system, `{"type":"object"}`)
}

func TestBuildParams_NoMessages(t *testing.T) {
	c, err := New(Config{APIKey: "k"})
	require.NoError(t, err)

	_, err = c.buildParams(&model.Request{})
	assert.Error(t, err)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
