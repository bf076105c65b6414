package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/pattern"
)

// fakeEmbedder maps known texts to fixed vectors so similarity ordering is
// deterministic without a real model.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0.577, 0.577, 0.577}, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestIndex(t *testing.T, embedder *fakeEmbedder) *Index {
	t.Helper()
	idx, err := NewIndex(Config{Path: t.TempDir()}, embedder, zap.NewNop())
	require.NoError(t, err)
	return idx
}

func testPattern(signature, name, description string) *pattern.Pattern {
	return &pattern.Pattern{
		Signature:   signature,
		Name:        name,
		Category:    "design",
		Description: description,
	}
}

func TestAddPatternAndSimilar(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"Errors are wrapped with context at every layer": {1, 0, 0},
		"Handlers talk to storage through interfaces":    {0, 1, 0},
		"how do we handle errors":                        {0.95, 0.05, 0},
	}}
	idx := newTestIndex(t, embedder)
	ctx := context.Background()

	require.NoError(t, idx.AddPattern(ctx, testPattern(
		"error_wrapping", "Error wrapping", "Errors are wrapped with context at every layer")))
	require.NoError(t, idx.AddPattern(ctx, testPattern(
		"storage_interfaces", "Storage interfaces", "Handlers talk to storage through interfaces")))

	matches, err := idx.Similar(ctx, "how do we handle errors", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "error_wrapping", matches[0].Signature)
	assert.Equal(t, "Error wrapping", matches[0].Name)
	assert.Equal(t, "design", matches[0].Category)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestSimilarOnEmptyIndex(t *testing.T) {
	idx := newTestIndex(t, &fakeEmbedder{})

	matches, err := idx.Similar(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSimilarClampsKToCount(t *testing.T) {
	idx := newTestIndex(t, &fakeEmbedder{})
	ctx := context.Background()

	require.NoError(t, idx.AddPattern(ctx, testPattern("only_one", "Only one", "the only indexed pattern")))

	matches, err := idx.Similar(ctx, "anything", 50)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestAddPatternReplacesBySignature(t *testing.T) {
	idx := newTestIndex(t, &fakeEmbedder{})
	ctx := context.Background()

	require.NoError(t, idx.AddPattern(ctx, testPattern("sig", "First", "first description")))
	require.NoError(t, idx.AddPattern(ctx, testPattern("sig", "Second", "second description")))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAddPatternValidation(t *testing.T) {
	idx := newTestIndex(t, &fakeEmbedder{})
	ctx := context.Background()

	assert.Error(t, idx.AddPattern(ctx, nil))
	assert.Error(t, idx.AddPattern(ctx, &pattern.Pattern{Name: "no signature"}))
}

func TestNewIndexValidation(t *testing.T) {
	_, err := NewIndex(Config{Path: t.TempDir()}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewIndex(Config{}, &fakeEmbedder{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSimilarRequiresQuery(t *testing.T) {
	idx := newTestIndex(t, &fakeEmbedder{})

	_, err := idx.Similar(context.Background(), "", 5)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSimilarUsesDescriptionFallback(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"Nameless wonder": {0, 0, 1},
	}}
	idx := newTestIndex(t, embedder)
	ctx := context.Background()

	// No description: the name is indexed instead.
	require.NoError(t, idx.AddPattern(ctx, &pattern.Pattern{
		Signature: "nameless", Name: "Nameless wonder", Category: "design",
	}))

	matches, err := idx.Similar(ctx, "Nameless wonder", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "nameless", matches[0].Signature)
}
