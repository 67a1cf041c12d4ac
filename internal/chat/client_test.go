package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/chat"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req completionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3-8b-8192", req.Model)

		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "user", req.Messages[0].Role)
			assert.Equal(t, "Tell me a joke", req.Messages[0].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream broke","type":"server_error"}}`))

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "llama3-8b-8192",
			"choices": []map[string]any{
				{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": reply}},
			},
		})
	}))

	t.Cleanup(server.Close)

	return server
}

func newClient(t *testing.T, baseURL string) *chat.Client {
	t.Helper()

	log, err := logger.New(t.TempDir(), "chat-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	client, err := chat.New(chat.Config{
		BaseURL:       baseURL,
		APIKey:        "test-key",
		Model:         "llama3-8b-8192",
		FallbackReply: "I am speechless.",
		Timeout:       5 * time.Second,
	}, log)
	require.NoError(t, err)

	return client
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := chat.New(chat.Config{FallbackReply: "x"}, nil)
	require.ErrorIs(t, err, chat.ErrModelEmpty)

	_, err = chat.New(chat.Config{Model: "m"}, nil)
	require.ErrorIs(t, err, chat.ErrFallbackEmpty)
}

func TestComplete(t *testing.T) {
	t.Parallel()

	server := completionServer(t, "Why did the gopher cross the road?", http.StatusOK)

	reply, err := newClient(t, server.URL).Complete(context.Background(), "Tell me a joke")
	require.NoError(t, err)
	assert.Equal(t, "Why did the gopher cross the road?", reply)
}

func TestComplete_EmptyReplyUsesFallback(t *testing.T) {
	t.Parallel()

	server := completionServer(t, "", http.StatusOK)

	reply, err := newClient(t, server.URL).Complete(context.Background(), "Tell me a joke")
	require.NoError(t, err)
	assert.Equal(t, "I am speechless.", reply)
}

func TestComplete_UpstreamError(t *testing.T) {
	t.Parallel()

	server := completionServer(t, "", http.StatusInternalServerError)

	_, err := newClient(t, server.URL).Complete(context.Background(), "Tell me a joke")
	require.Error(t, err)
	assert.Equal(t, core.KindIO, core.KindOf(err))
}

func TestComplete_MissingMessage(t *testing.T) {
	t.Parallel()

	_, err := newClient(t, "http://127.0.0.1:0").Complete(context.Background(), "  ")
	assert.Equal(t, core.KindInvalidInput, core.KindOf(err))
}
