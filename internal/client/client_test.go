// internal/client/client_test.go
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/Corphon/StoryTeller/internal/errors"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/Corphon/StoryTeller/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, handle func(w *stream.Writer, req models.ChatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req models.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handle(stream.NewWriter(rw), req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamTextCollectsChunks(t *testing.T) {
	received := make(chan models.ChatRequest, 1)
	srv := chatServer(t, func(w *stream.Writer, req models.ChatRequest) {
		received <- req
		_ = w.Begin("msg-1")
		_ = w.Text("Once")
		_ = w.Text(" upon a \"time\"\n")
		_ = w.Finish(models.Finish{Reason: models.FinishStop, Usage: models.Usage{PromptTokens: 5, CompletionTokens: 2}})
	})

	var got []string
	finish, err := New(srv.URL+"/").StreamText(context.Background(),
		[]models.Message{{Role: models.RoleUser, Content: "hi"}},
		func(s string) { got = append(got, s) })

	require.NoError(t, err)
	assert.Equal(t, []string{"Once", " upon a \"time\"\n"}, got)
	assert.Equal(t, models.FinishStop, finish.Reason)
	assert.Equal(t, 5, finish.Usage.PromptTokens)
	assert.Equal(t, []models.Message{{Role: models.RoleUser, Content: "hi"}}, (<-received).Messages)
}

func TestStreamTextNilMessagesSendsEmptyList(t *testing.T) {
	srv := chatServer(t, func(w *stream.Writer, req models.ChatRequest) {
		assert.NotNil(t, req.Messages)
		_ = w.Begin("msg-1")
		_ = w.Finish(models.Finish{Reason: models.FinishStop})
	})

	_, err := New(srv.URL).StreamText(context.Background(), nil, nil)
	require.NoError(t, err)
}

func TestStreamTextErrorPart(t *testing.T) {
	srv := chatServer(t, func(w *stream.Writer, _ models.ChatRequest) {
		_ = w.Begin("msg-1")
		_ = w.Text("partial")
		_ = w.Error("生成超时")
	})

	var got []string
	_, err := New(srv.URL).StreamText(context.Background(), []models.Message{}, func(s string) { got = append(got, s) })
	require.Error(t, err)
	assert.True(t, apperrors.IsProviderError(err))
	assert.Contains(t, err.Error(), "生成超时")
	assert.Equal(t, []string{"partial"}, got)
}

func TestStreamTextTruncated(t *testing.T) {
	srv := chatServer(t, func(w *stream.Writer, _ models.ChatRequest) {
		_ = w.Begin("msg-1")
		_ = w.Text("partial")
	})

	_, err := New(srv.URL).StreamText(context.Background(), []models.Message{}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsProviderError(err))
	assert.ErrorIs(t, err, stream.ErrTruncated)
}

func TestStreamTextHTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusBadRequest, apperrors.IsValidationError},
		{http.StatusNotFound, apperrors.IsNotFoundError},
		{http.StatusBadGateway, apperrors.IsProviderError},
		{http.StatusGatewayTimeout, apperrors.IsTimeoutError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				rw.Header().Set("Content-Type", "application/json")
				rw.WriteHeader(tt.status)
				fmt.Fprint(rw, `{"success":false,"error":{"code":"X","message":"上游失败"}}`)
			}))
			defer srv.Close()

			_, err := New(srv.URL).StreamText(context.Background(), []models.Message{}, nil)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type: %v", err)
			assert.Contains(t, err.Error(), "上游失败")
		})
	}
}

func TestStreamTextRequiresProtocolHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, "0:\"hi\"\n")
	}))
	defer srv.Close()

	_, err := New(srv.URL).StreamText(context.Background(), []models.Message{}, nil)
	require.Error(t, err)
}

func TestOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/options", r.URL.Path)
		_ = json.NewEncoder(rw).Encode(map[string]interface{}{
			"success": true,
			"data":    models.StoryOptions{Genres: models.Genres, Tones: models.Tones},
		})
	}))
	defer srv.Close()

	opts, err := New(srv.URL).Options(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Genres, opts.Genres)
	assert.Equal(t, models.Tones, opts.Tones)
}
