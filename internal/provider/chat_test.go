package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

func TestChatClientComplete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "site-summarizer", r.Header.Get("X-Title"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Equal(t, "hello", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	}))
	defer server.Close()

	client, err := NewChatClient(ChatConfig{
		BaseURL: server.URL + "/v1/",
		APIKey:  "secret",
		Model:   "test-model",
		Headers: map[string]string{"X-Title": "site-summarizer"},
	}, nil)
	require.NoError(t, err)

	got, err := client.Complete(context.Background(), Request{System: "be brief", Prompt: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hi there", got)
}

func TestChatClientNon2xxIsProviderUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewChatClient(ChatConfig{BaseURL: server.URL, Model: "m"}, nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, summary.ErrProviderUnavailable)
	require.ErrorContains(t, err, "429")
}

func TestChatClientNoChoicesIsEmpty(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client, err := NewChatClient(ChatConfig{BaseURL: server.URL, Model: "m"}, nil)
	require.NoError(t, err)

	got, err := client.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestChatClientUnreachableIsProviderUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewChatClient(ChatConfig{BaseURL: url, Model: "m"}, nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, summary.ErrProviderUnavailable)
}

func TestNewChatClientValidates(t *testing.T) {
	t.Parallel()

	_, err := NewChatClient(ChatConfig{Model: "m"}, nil)
	require.Error(t, err)
	_, err = NewChatClient(ChatConfig{BaseURL: "http://x"}, nil)
	require.Error(t, err)
}
