package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRouterAdapter_Call_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello world"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	a := NewOpenRouterAdapter(srv.URL)
	result, err := a.Call(context.Background(), "test-key", "some-model", "ping")

	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Content)
	require.NotNil(t, result.TokensIn)
	assert.Equal(t, 10, *result.TokensIn)
}

func TestOpenRouterAdapter_Call_EmptyContentIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
	}))
	defer srv.Close()

	a := NewOpenRouterAdapter(srv.URL)
	_, err := a.Call(context.Background(), "key", "model", "ping")

	require.Error(t, err)
	ce := AsCallError(err)
	assert.Equal(t, KindMalformed, ce.Kind)
}

func TestOpenRouterAdapter_Call_NoChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	a := NewOpenRouterAdapter(srv.URL)
	_, err := a.Call(context.Background(), "key", "model", "ping")

	require.Error(t, err)
	assert.Equal(t, KindMalformed, AsCallError(err).Kind)
}

func TestOpenRouterAdapter_Call_UnparseableBodyIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	a := NewOpenRouterAdapter(srv.URL)
	_, err := a.Call(context.Background(), "key", "model", "ping")

	require.Error(t, err)
	assert.Equal(t, KindMalformed, AsCallError(err).Kind)
}

func TestOpenRouterAdapter_Call_RateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	a := NewOpenRouterAdapter(srv.URL)
	_, err := a.Call(context.Background(), "key", "model", "ping")

	require.Error(t, err)
	ce := AsCallError(err)
	assert.Equal(t, KindTransient, ce.Kind)
	assert.Equal(t, http.StatusTooManyRequests, ce.StatusCode)
}

func TestOpenRouterAdapter_Call_UnauthorizedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	a := NewOpenRouterAdapter(srv.URL)
	_, err := a.Call(context.Background(), "bad-key", "model", "ping")

	require.Error(t, err)
	assert.Equal(t, KindPermanent, AsCallError(err).Kind)
}

func TestOpenRouterAdapter_Name(t *testing.T) {
	assert.Equal(t, "openrouter", NewOpenRouterAdapter("").Name())
}
