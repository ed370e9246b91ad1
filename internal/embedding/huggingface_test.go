package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuggingFaceEngineEmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pipeline/feature-extraction/sentence-transformers/all-MiniLM-L6-v2", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))

		var payload struct {
			Inputs []string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		out := make([][]float32, len(payload.Inputs))
		for i := range out {
			v := make([]float32, 4)
			v[i%4] = 1
			out[i] = v
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	e := NewHuggingFaceEngine(HuggingFaceConfig{
		Endpoint:   server.URL,
		APIKey:     "hf_test",
		Dimensions: 4,
	})

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 4)
}

func TestHuggingFaceEngineDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([][]float32{{1, 2}})
	}))
	defer server.Close()

	e := NewHuggingFaceEngine(HuggingFaceConfig{Endpoint: server.URL, Dimensions: 4})
	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	assert.Error(t, err)
}

func TestHuggingFaceEngineServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("model loading"))
	}))
	defer server.Close()

	e := NewHuggingFaceEngine(HuggingFaceConfig{Endpoint: server.URL})
	_, err := e.Embed(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHuggingFaceEngineEmptyBatch(t *testing.T) {
	e := NewHuggingFaceEngine(HuggingFaceConfig{Endpoint: "http://127.0.0.1:0"})
	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
