// Package embedding turns text into vectors for semantic retrieval.
// Backends: Ollama (local), OpenAI-compatible endpoints and Google GenAI.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"supportdesk/internal/config"
)

// Engine generates vector embeddings for text. It satisfies domain.Embedder.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// HealthChecker is implemented by engines that can verify their backend
// without embedding anything.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewEngine creates the engine selected by cfg.Provider.
func NewEngine(ctx context.Context, cfg config.EmbeddingConfig, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		engine Engine
		err    error
	)
	switch cfg.Provider {
	case "ollama", "":
		engine = NewOllamaEngine(cfg.APIBase, cfg.Model)
	case "openai":
		engine, err = NewOpenAIEngine(cfg.APIBase, cfg.APIKey, cfg.Model)
	case "genai":
		engine, err = NewGenAIEngine(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use ollama, openai or genai)", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s embedding engine: %w", cfg.Provider, err)
	}

	logger.Debug("embedding engine ready", "engine", engine.Name())
	return engine, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// SimilarityResult is one scored corpus entry.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK scores every corpus vector against query and returns at most k
// results with similarity >= threshold, best first. Vectors of a different
// dimension are skipped. Ties keep corpus order.
func FindTopK(query []float32, corpus [][]float32, threshold float64, k int) []SimilarityResult {
	if k <= 0 {
		return nil
	}

	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil || sim < threshold {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
