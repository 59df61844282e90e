package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/metrics"
	"github.com/learnlens/backend/pkg/logger"
	"github.com/learnlens/backend/pkg/utils"
)

// Embedder turns text into a fixed-length similarity vector. The real
// implementation calls the embedding model; FallbackEmbedder produces a
// deterministic stand-in of the same shape when no model is configured.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

type vectorSource interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type embeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// ModelEmbedder is the real embedding path: an embedding model fronted by
// an optional cache. A nil cache disables caching without changing behavior.
type ModelEmbedder struct {
	source vectorSource
	cache  embeddingCache
	dim    int
	ttl    time.Duration
}

func NewModelEmbedder(source vectorSource, cache embeddingCache, dim int) *ModelEmbedder {
	return &ModelEmbedder{
		source: source,
		cache:  cache,
		dim:    dim,
		ttl:    24 * time.Hour,
	}
}

func (e *ModelEmbedder) Dim() int {
	return e.dim
}

func (e *ModelEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	textHash := utils.HashString(text)

	if e.cache != nil {
		cached, hit, err := e.cache.GetEmbedding(ctx, textHash)
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if hit {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	vec, err := e.source.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetEmbedding(ctx, textHash, vec, e.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return vec, nil
}

// EmbedBatch embeds many texts in one model call, serving what it can from
// the cache first. Cache-missed texts go to the model as a single batch.
func (e *ModelEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if e.cache != nil {
			hash := utils.HashString(text)
			cached, hit, err := e.cache.GetEmbedding(ctx, hash)
			if err != nil {
				logger.Warn("Embedding cache read failed", zap.Error(err))
			} else if hit {
				metrics.CacheHits.WithLabelValues("embedding").Inc()
				out[i] = cached
				continue
			} else {
				metrics.CacheMisses.WithLabelValues("embedding").Inc()
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.source.GenerateBatchEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding batch size mismatch: sent %d, got %d", len(missTexts), len(vecs))
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
		if e.cache != nil {
			if err := e.cache.SetEmbedding(ctx, utils.HashString(missTexts[j]), vecs[j], e.ttl); err != nil {
				logger.Warn("Embedding cache write failed", zap.Error(err))
			}
		}
	}

	return out, nil
}

// FallbackEmbedder derives a vector from the text's character codes. It is
// not a semantic embedding; it exists so the pipeline keeps a working
// vector path when no embedding model is reachable, and its output is
// reproducible for tests.
type FallbackEmbedder struct {
	dim int
}

func NewFallbackEmbedder(dim int) *FallbackEmbedder {
	return &FallbackEmbedder{dim: dim}
}

func (e *FallbackEmbedder) Dim() int {
	return e.dim
}

func (e *FallbackEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	if len(text) == 0 {
		return vec, nil
	}

	n := len(text)
	if n > e.dim {
		n = e.dim
	}
	for i := 0; i < n; i++ {
		vec[i] = float32(text[i%len(text)]) / 255.0
	}

	return vec, nil
}

func (e *FallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, _ := e.Embed(ctx, text)
		out[i] = vec
	}
	return out, nil
}
