package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatStub serves a canned OpenAI-compatible completion so Chat can be
// exercised without a provider.
func chatStub(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]any{"total_tokens": 12},
		})
		assert.NoError(t, err)
	}))
}

func TestChat_TrimsFirstChoice(t *testing.T) {
	server := chatStub(t, "  The user needs reassurance.\n")
	defer server.Close()

	svc, err := NewService(Config{Model: "test-model", APIKey: "test", BaseURL: server.URL})
	require.NoError(t, err)

	reply, err := svc.Chat(context.Background(), []Message{UserMessage("hello")})
	require.NoError(t, err)
	assert.Equal(t, "The user needs reassurance.", reply)
}

func TestConvertMessages_Roles(t *testing.T) {
	out := convertMessages([]Message{
		SystemPrompt("observe"),
		UserMessage("hi"),
		{Role: "assistant", Content: "hello"},
		{Role: "unknown", Content: "defaults to user"},
	})
	require.Len(t, out, 4)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "user", out[1].Role)
	assert.Equal(t, "assistant", out[2].Role)
	assert.Equal(t, "user", out[3].Role)
}
