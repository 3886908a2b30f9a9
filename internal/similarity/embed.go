package similarity

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HashEmbedder generates deterministic embeddings from a text hash.
// Identical texts embed identically, so exact duplicates score 1.0; it
// carries no semantic model. Dimensions match all-MiniLM-L6-v2 so a real
// embedder can swap in without reindexing.
type HashEmbedder struct {
	dimensions int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hash-based embedder with 384 dimensions.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{dimensions: 384}
}

// Embed implements Embedder.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dimensions)
	for i := range vec {
		// Linear congruential step; constants from Knuth's MMIX.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(vec), nil
}

// Dimensions implements Embedder.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// normalize scales a vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// Cosine returns the cosine similarity of two vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EmbeddingScorer scores texts by cosine similarity of their embeddings.
type EmbeddingScorer struct {
	embedder Embedder
}

var _ Scorer = (*EmbeddingScorer)(nil)

// NewEmbeddingScorer creates a scorer over the given embedder.
func NewEmbeddingScorer(embedder Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: embedder}
}

// Score implements Scorer. Negative cosine values clamp to zero.
func (s *EmbeddingScorer) Score(ctx context.Context, a, b string) (float64, error) {
	va, err := s.embedder.Embed(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("embed first text: %w", err)
	}
	vb, err := s.embedder.Embed(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("embed second text: %w", err)
	}
	return clamp01(Cosine(va, vb)), nil
}
