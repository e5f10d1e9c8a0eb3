// Package embed wraps the local embedding model behind a cache and the
// template classifier used by transcript scanning.
package embed

import (
	"hash/fnv"
	"math"
	"strings"
)

// Dim is the embedding dimensionality.
const Dim = 384

// Model is the pure text -> unit-norm f32[384] function supplied by the
// model backend.
type Model interface {
	Embed(text string) ([]float32, error)
}

// MockModel is a deterministic token-hash model for tests and for hosts
// without a local model. Texts sharing tokens produce similar vectors,
// which is enough for classification and dedup paths to be exercised.
type MockModel struct{}

func (MockModel) Embed(text string) ([]float32, error) {
	v := make([]float32, Dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if tok == "" {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(tok))
		seed := h.Sum64()
		for i := 0; i < Dim; i++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			v[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}
	return Normalize(v), nil
}

// Normalize scales v to unit L2 norm. A zero vector is returned as-is.
func Normalize(vec []float32) []float32 {
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

// Dot returns the dot product; on unit-norm vectors this is the cosine
// similarity.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
