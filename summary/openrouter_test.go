package summary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/noties/resilience"
)

func testClient(url string) *OpenRouter {
	c := NewOpenRouter(url, "key")
	c.HTTPClient = &http.Client{Timeout: time.Second}
	c.Retry = resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return c
}

func TestOpenRouterNoKey(t *testing.T) {
	c := NewOpenRouter("", "")
	_, err := c.Complete(context.Background(), DefaultModel, nil)
	assert.Error(t, err)
}

func TestOpenRouterRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Title"))

		var req chatCompletionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "some/model", req.Model)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)
		assert.Len(t, req.Messages, 2)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  {\"updated_summary\":\"s\"}  "}}]}`))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL+"/").Complete(context.Background(), "some/model", []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"updated_summary":"s"}`, got)
}

func TestOpenRouterHTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not-json")) }},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"choices":[]}`)) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := testClient(srv.URL).Complete(context.Background(), DefaultModel, nil)
			assert.Error(t, err)
		})
	}
}

func TestOpenRouterRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).Complete(context.Background(), DefaultModel, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.EqualValues(t, 2, calls.Load())
}
