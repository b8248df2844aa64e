package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChat_SendsRequestAndReturnsFirstChoice(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/api/v1/", Model: "openai/gpt-4o"}).WithAPIKey("sk-test")
	out, err := c.Chat(context.Background(), []Message{
		Text("system", "be brief"),
		WithImage("what is this?", []byte{0x89, 'P', 'N', 'G'}),
	}, Options{MaxTokens: 50, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	assert.Equal(t, "openai/gpt-4o", got["model"])
	assert.EqualValues(t, 50, got["max_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	parts := msgs[1].(map[string]any)["content"].([]any)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,iVBORw==", img["url"])
}

func TestChat_MissingKey(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Model: "m", APIKeyEnv: "CORTEX_TEST_UNSET_KEY"})
	_, err := c.Chat(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestChat_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL, Model: "m"}).WithAPIKey("k").Chat(context.Background(), nil, Options{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.True(t, se.Temporary())
}

func TestChat_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL, Model: "m"}).WithAPIKey("k").Chat(context.Background(), nil, Options{})
	assert.ErrorContains(t, err, "empty choices")
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestChat_MalformedReplies(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `<html>gateway</html>`,
		"error object": `{"error":{"message":"model overloaded"}}`,
		"no choices":   `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL, Model: "m"}).WithAPIKey("k").Chat(context.Background(), nil, Options{})
			assert.ErrorIs(t, err, ErrMalformedReply)
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`  {"a":1} `))
}
