package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider is a deterministic feature-hashing embedder: each token
// (and token bigram) is hashed into a fixed-size vector, which is then
// L2-normalized. No model, no network, identical input always yields the
// identical vector. Quality is well below a learned model, but it gives
// cosine similarity a meaningful signal when no embedding endpoint is
// configured, and it keeps tests hermetic.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a HashProvider with the given dimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashProvider{dimension: dimension}
}

// Embed hashes each text into a normalized vector.
func (p *HashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *HashProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dimension)
	tokens := hashTokens(text)
	for _, tok := range tokens {
		idx, sign := p.slot(tok)
		vec[idx] += sign
	}
	// add bigrams so word order contributes
	for i := 0; i+1 < len(tokens); i++ {
		idx, sign := p.slot(tokens[i] + " " + tokens[i+1])
		vec[idx] += sign * 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// slot maps a token to a vector index and a ±1 sign, both derived from
// the same hash so collisions partially cancel.
func (p *HashProvider) slot(tok string) (int, float32) {
	h := fnv.New64a()
	h.Write([]byte(tok))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dimension))
	if (sum>>63)&1 == 1 {
		return idx, -1
	}
	return idx, 1
}

func hashTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Dimension returns the configured vector dimension.
func (p *HashProvider) Dimension() int { return p.dimension }
