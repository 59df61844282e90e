package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	vec        []float32
	err        error
	calls      int
	batchCalls int
	batchTexts []string
}

func (f *fakeSource) GenerateEmbedding(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

func (f *fakeSource) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	f.batchTexts = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeCache struct {
	store map[string][]float32
	sets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string][]float32)}
}

func (f *fakeCache) GetEmbedding(_ context.Context, textHash string) ([]float32, bool, error) {
	vec, ok := f.store[textHash]
	return vec, ok, nil
}

func (f *fakeCache) SetEmbedding(_ context.Context, textHash string, embedding []float32, _ time.Duration) error {
	f.store[textHash] = embedding
	f.sets++
	return nil
}

func TestFallbackEmbedderDeterministic(t *testing.T) {
	e := NewFallbackEmbedder(16)

	a, err := e.Embed(context.Background(), "fractions")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "fractions")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestFallbackEmbedderFormula(t *testing.T) {
	e := NewFallbackEmbedder(8)

	vec, err := e.Embed(context.Background(), "ab")
	require.NoError(t, err)

	assert.InDelta(t, float32('a')/255.0, vec[0], 1e-6)
	assert.InDelta(t, float32('b')/255.0, vec[1], 1e-6)
	for i := 2; i < 8; i++ {
		assert.Zero(t, vec[i])
	}
}

func TestFallbackEmbedderEmptyText(t *testing.T) {
	e := NewFallbackEmbedder(4)

	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 0, 0}, vec)
}

func TestFallbackEmbedderTextLongerThanDim(t *testing.T) {
	e := NewFallbackEmbedder(3)

	vec, err := e.Embed(context.Background(), "abcdef")
	require.NoError(t, err)

	require.Len(t, vec, 3)
	assert.InDelta(t, float32('a')/255.0, vec[0], 1e-6)
	assert.InDelta(t, float32('c')/255.0, vec[2], 1e-6)
}

func TestFallbackEmbedderDifferentTextsDiffer(t *testing.T) {
	e := NewFallbackEmbedder(16)

	a, _ := e.Embed(context.Background(), "fractions")
	b, _ := e.Embed(context.Background(), "photosynthesis")

	assert.NotEqual(t, a, b)
}

func TestModelEmbedderCachesResults(t *testing.T) {
	source := &fakeSource{vec: []float32{1, 2, 3}}
	cache := newFakeCache()
	e := NewModelEmbedder(source, cache, 3)

	first, err := e.Embed(context.Background(), "same text")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.calls, "second call must hit the cache")
	assert.Equal(t, 1, cache.sets)
}

func TestModelEmbedderNilCache(t *testing.T) {
	source := &fakeSource{vec: []float32{1, 2, 3}}
	e := NewModelEmbedder(source, nil, 3)

	_, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "text")
	require.NoError(t, err)

	assert.Equal(t, 2, source.calls)
}

func TestModelEmbedderSourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("api down")}
	e := NewModelEmbedder(source, newFakeCache(), 3)

	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
}

func TestModelEmbedderBatchServesCachedFirst(t *testing.T) {
	source := &fakeSource{vec: []float32{1, 2, 3}}
	cache := newFakeCache()
	e := NewModelEmbedder(source, cache, 3)

	// Warm the cache for one of the three texts.
	_, err := e.Embed(context.Background(), "cached text")
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"cached text", "new one", "new two"})
	require.NoError(t, err)

	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Equal(t, []float32{1, 2, 3}, v)
	}
	assert.Equal(t, 1, source.batchCalls)
	assert.Equal(t, []string{"new one", "new two"}, source.batchTexts, "cached text must not be re-sent")
	assert.Equal(t, 3, cache.sets, "batch misses are written back")
}

func TestModelEmbedderBatchAllCached(t *testing.T) {
	source := &fakeSource{vec: []float32{4, 5}}
	cache := newFakeCache()
	e := NewModelEmbedder(source, cache, 2)

	_, err := e.Embed(context.Background(), "only text")
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"only text"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{4, 5}}, vecs)
	assert.Zero(t, source.batchCalls, "fully cached batch must not call the model")
}

func TestModelEmbedderBatchSourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("api down")}
	e := NewModelEmbedder(source, nil, 3)

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestFallbackEmbedderBatch(t *testing.T) {
	e := NewFallbackEmbedder(4)

	vecs, err := e.EmbedBatch(context.Background(), []string{"ab", ""})
	require.NoError(t, err)

	require.Len(t, vecs, 2)
	assert.InDelta(t, float32('a')/255.0, vecs[0][0], 1e-6)
	assert.Equal(t, []float32{0, 0, 0, 0}, vecs[1])
}
