package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "test-model", APIKey: "test-key", RateLimitPerMinute: 600})
	got, err := c.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestClient_RetriesThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m", RateLimitPerMinute: 600, MaxRetries: 2, BackoffBaseMs: 1})
	_, err := c.Generate(context.Background(), "hi")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, calls) // initial attempt plus two retries
}

func TestDisabled_AlwaysUnavailable(t *testing.T) {
	_, err := Disabled{}.Generate(context.Background(), "anything")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"```json\n[1,2]\n```":   "[1,2]",
		"```\nplain\n```":       "plain",
		"no fences":             "no fences",
		"```json\n{\"a\":1}```": "{\"a\":1}",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripCodeFences(in))
	}
}
