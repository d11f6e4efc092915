package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// defaultHashDimension matches the bge-small family so hash and fastembed
// providers are drop-in replacements for each other.
const defaultHashDimension = 384

// HashProvider is a deterministic pure-Go embedding provider.
//
// It hashes word tokens into a fixed-size frequency vector and
// L2-normalizes it. Cosine similarity of two such vectors approximates
// lexical overlap: texts sharing vocabulary score high, disjoint texts score
// near zero. This is no substitute for a learned model, but it is fast,
// dependency-free and fully deterministic, which makes it the default for
// tests and for deployments without an ONNX runtime.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hash provider. A non-positive dimension selects
// the default (384).
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = defaultHashDimension
	}
	return &HashProvider{dimension: dimension}
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = p.embed(text)
	}
	return out, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return p.embed(text), nil
}

// Dimension returns the embedding dimension.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op for the hash provider.
func (p *HashProvider) Close() error {
	return nil
}

func (p *HashProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[int(h.Sum32())%p.dimension]++
	}

	// L2 normalize so dot products are cosine similarities
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

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
