package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashProvider derives unit vectors from SHA-256 digests of the text. It has
// no semantic quality; it exists for offline runs and tests.
type HashProvider struct {
	dim int
}

// NewHashProvider creates a HashProvider producing dim-length vectors.
func NewHashProvider(dim int) *HashProvider {
	return &HashProvider{dim: dim}
}

func (h *HashProvider) Model() string { return "hash" }

func (h *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, h.dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	seed := []byte(text)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	vec := make([]float32, dim)
	buf := make([]byte, len(seed)+1)
	copy(buf, seed)
	for i := range vec {
		buf[len(seed)] = byte(i % 251)
		sum := sha256.Sum256(buf)
		// mix the dimension index in so positions beyond 251 differ
		u := binary.BigEndian.Uint32(sum[:4]) ^ uint32(i/251)
		vec[i] = float32(u%2000)/1000 - 1
	}
	return unit(vec)
}

func unit(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
