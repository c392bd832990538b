package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/filing-agent/config"
	"github.com/fabfab/filing-agent/resilience"
)

func TestNewEmbedderDefaults(t *testing.T) {
	cfg := &config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOllama,
			Model:     "nomic-embed-text",
			Dimension: 3,
		},
		Ollama: config.OllamaConfig{Host: "http://localhost:11434"},
	}

	embedder, err := NewEmbedder(cfg)
	require.NoError(t, err)
	assert.NotNil(t, embedder)
}

func TestNewEmbedderOpenAIMissingKey(t *testing.T) {
	cfg := &config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
	}

	_, err := NewEmbedder(cfg)
	assert.Error(t, err)
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(&config.Config{Embeddings: config.EmbeddingConfig{Provider: "cohere"}})
	assert.Error(t, err)
}

func TestOllamaEmbedder(t *testing.T) {
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompts = append(prompts, req.Prompt)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Model: "m", Dimension: 3})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, []string{"a", "b"}, prompts)
	assert.InDelta(t, 0.2, vecs[1][1], 1e-6)
}

func TestOllamaEmbedderDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{0.1}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Dimension: 3})
	_, err := e.Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestOllamaEmbedderTransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{OllamaHost: srv.URL})
	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestClassifyOpenAIError(t *testing.T) {
	rate := &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}
	assert.True(t, resilience.IsTransient(ClassifyOpenAIError(rate)))

	auth := &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}
	assert.False(t, resilience.IsTransient(ClassifyOpenAIError(auth)))

	plain := errors.New("boom")
	assert.Equal(t, plain, ClassifyOpenAIError(plain))
}

func TestHashingEmbedderDeterministic(t *testing.T) {
	e := NewHashingEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"Total net sales increased", "Total net sales increased"})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[1])
	assert.Len(t, a[0], 64)

	var norm float64
	for _, v := range a[0] {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)
}
