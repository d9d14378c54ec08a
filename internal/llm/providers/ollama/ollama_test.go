// internal/llm/providers/ollama/ollama_test.go
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Corphon/StoryTeller/internal/llm"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) llm.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := llm.GetProvider("ollama", map[string]string{"base_url": srv.URL + "/v1", "max_tokens": "256"})
	require.NoError(t, err)
	return p
}

func collect(ch <-chan llm.StreamResponse) (texts []string, last llm.StreamResponse) {
	for resp := range ch {
		if resp.Done {
			last = resp
			continue
		}
		texts = append(texts, resp.Text)
	}
	return texts, last
}

func TestStreamChatNDJSON(t *testing.T) {
	var got struct {
		Model    string                 `json:"model"`
		Options  map[string]interface{} `json:"options"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":"Once"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":" upon"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":20,"eval_count":2}`)
	})

	ch, err := p.StreamChat(context.Background(), llm.ChatRequest{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
		{Role: models.RoleUser, Content: "story please"},
	}})
	require.NoError(t, err)
	texts, last := collect(ch)

	assert.Equal(t, []string{"Once", " upon"}, texts)
	assert.True(t, last.Done)
	assert.NoError(t, last.Err)
	assert.Equal(t, models.FinishStop, last.FinishReason)
	assert.Equal(t, &models.Usage{PromptTokens: 20, CompletionTokens: 2}, last.Usage)

	assert.Equal(t, "llama3.2", got.Model)
	assert.EqualValues(t, 256, got.Options["num_predict"])
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestStreamChatServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"llama3.2\" not found"}`)
	})

	ch, err := p.StreamChat(context.Background(), llm.ChatRequest{})
	require.NoError(t, err)
	texts, last := collect(ch)

	assert.Empty(t, texts)
	require.Error(t, last.Err)
	assert.Contains(t, last.Err.Error(), "not found")
}

func TestStreamChatTruncated(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":"Once"},"done":false}`)
	})

	ch, err := p.StreamChat(context.Background(), llm.ChatRequest{})
	require.NoError(t, err)
	texts, last := collect(ch)

	assert.Equal(t, []string{"Once"}, texts)
	assert.Error(t, last.Err)
}
