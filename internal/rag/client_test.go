package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"view-aspects-go/internal/logger"
	"view-aspects-go/internal/retry"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) { return "", errors.New("login failed") }

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 1}
}

func TestFetchContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stateless/rag/get_lightrag_prompt", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pricing", body["query"])
		assert.Equal(t, []any{"1", "2"}, body["echo_segment_ids"])
		assert.Equal(t, false, body["auto_select_bool"])
		assert.Equal(t, false, body["get_transcripts"])
		assert.Equal(t, float64(60), body["top_k"])
		assert.Contains(t, body, "conversation_history")
		assert.Nil(t, body["conversation_history"])

		w.Write([]byte("SEGMENT_ID_1: context"))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", staticToken("tok"), testPolicy(), logger.Discard())
	got, err := c.FetchContext(context.Background(), "pricing", []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, "SEGMENT_ID_1: context", got)
}

func TestFetchContextRetriesThenFails(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, staticToken("tok"), testPolicy(), logger.Discard())
	_, err := c.FetchContext(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchContextTokenFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent without a token")
	}))
	defer server.Close()

	c := NewClient(server.URL, failingToken{}, testPolicy(), logger.Discard())
	_, err := c.FetchContext(context.Background(), "q", nil)
	assert.ErrorContains(t, err, "login failed")
}

func TestFetchContextNotConfigured(t *testing.T) {
	c := NewClient("", nil, testPolicy(), logger.Discard())
	_, err := c.FetchContext(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
