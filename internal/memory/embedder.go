package memory

import (
	"context"
	"crypto/sha256"
	"math"
	"strings"
)

// DefaultDimensions is the embedding dimension unless configured otherwise.
const DefaultDimensions = 128

// Embedder turns text into a fixed-dimension unit vector. The function must
// be stable within a deployment so stored vectors stay comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// HashEmbedder derives a deterministic embedding from the SHA-256 of the
// lowercased, trimmed text: hash bytes mapped to [0,1] by division by 255,
// repeated to fill the dimension, then unit-normalized. A placeholder with
// no semantic structure; swap in a model-backed Embedder for real recall.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder. Non-positive dims use the default.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))

	vec := make([]float64, e.dims)
	for i := range vec {
		vec[i] = float64(sum[i%len(sum)]) / 255.0
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// cosine computes cosine similarity between equal-length vectors. Returns 0
// on dimension mismatch or zero vectors.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
