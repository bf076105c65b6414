package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teiStub mimics a TEI deployment: echoes one fixed-size vector per input.
func teiStub(t *testing.T, capture *teiRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embed", r.URL.Path)

		var req struct {
			Inputs   any  `json:"inputs"`
			Truncate bool `json:"truncate"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if capture != nil {
			capture.Inputs = req.Inputs
			capture.Truncate = req.Truncate
		}

		var n int
		switch v := req.Inputs.(type) {
		case string:
			n = 1
		case []any:
			n = len(v)
		}
		vectors := make([][]float32, n)
		for i := range vectors {
			vectors[i] = []float32{0.1, 0.2, 0.3}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
}

func newTestService(t *testing.T, baseURL string) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Provider:          "tei",
		BaseURL:           baseURL,
		Model:             "bge-small-en-v1.5",
		RequestsPerSecond: 100,
		Burst:             10,
	})
	require.NoError(t, err)
	return svc
}

func TestEmbedQuery(t *testing.T) {
	var captured teiRequest
	server := teiStub(t, &captured)
	defer server.Close()

	svc := newTestService(t, server.URL)
	vec, err := svc.EmbedQuery(context.Background(), "durable task queue")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "durable task queue", captured.Inputs)
	assert.True(t, captured.Truncate)
}

func TestEmbedQueryRejectsEmptyText(t *testing.T) {
	svc := newTestService(t, "http://unused.invalid")
	_, err := svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocuments(t *testing.T) {
	server := teiStub(t, nil)
	defer server.Close()

	svc := newTestService(t, server.URL)
	vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 3)
	}
}

func TestEmbedDocumentsRejectsEmptySlice(t *testing.T) {
	svc := newTestService(t, "http://unused.invalid")
	_, err := svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := newTestService(t, server.URL)
	_, err := svc.EmbedQuery(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestEmbedSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([][]float32{{1}})
	}))
	defer server.Close()

	svc, err := NewService(Config{Provider: "tei", BaseURL: server.URL, APIKey: "sekret"})
	require.NoError(t, err)
	_, err = svc.EmbedQuery(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sekret", gotAuth)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Provider: "none"}.Validate())
	assert.NoError(t, Config{Provider: "tei", BaseURL: "http://localhost:8080"}.Validate())
	assert.ErrorIs(t, Config{Provider: "tei"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Provider: "openai"}.Validate(), ErrInvalidConfig)
}

func TestNewReturnsNilForDisabledProvider(t *testing.T) {
	embedder, err := New(Config{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, embedder)
}
